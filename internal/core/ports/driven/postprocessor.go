package driven

import (
	"context"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
)

// PostProcessor transforms an incoming note before it is indexed.
// PostProcessors are chained in a pipeline (e.g., chunking).
type PostProcessor interface {
	// Name returns the processor name for logging and configuration.
	Name() string

	// Process takes the note and the documents produced so far.
	// A processor that creates documents (e.g., chunker) receives nil and
	// returns new documents; later processors receive and return them.
	Process(ctx context.Context, note *domain.Document, docs []domain.Document) ([]domain.Document, error)
}

// PostProcessorPipeline chains multiple PostProcessors.
type PostProcessorPipeline interface {
	// Process runs the note through all processors in order.
	// Returns the documents to index.
	Process(ctx context.Context, note *domain.Document) ([]domain.Document, error)
}
