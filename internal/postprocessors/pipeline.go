// Package postprocessors provides note processing implementations run before indexing.
package postprocessors

import (
	"context"
	"fmt"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
	"github.com/Fortemi/fortemi-sub000/internal/core/ports/driven"
)

// Pipeline chains multiple PostProcessors and runs them in order.
// It implements the PostProcessorPipeline interface.
type Pipeline struct {
	processors []driven.PostProcessor
}

// NewPipeline creates a new processing pipeline with the given processors.
// Processors are executed in the order provided.
func NewPipeline(processors ...driven.PostProcessor) *Pipeline {
	return &Pipeline{
		processors: processors,
	}
}

// Process runs the note through all processors in order.
// The first processor receives nil documents and should create them.
// When no processor produced documents the note itself is returned.
func (p *Pipeline) Process(ctx context.Context, note *domain.Document) ([]domain.Document, error) {
	if note == nil {
		return nil, fmt.Errorf("note is nil")
	}

	var docs []domain.Document

	for _, processor := range p.processors {
		var err error
		docs, err = processor.Process(ctx, note, docs)
		if err != nil {
			return nil, fmt.Errorf("processor %s: %w", processor.Name(), err)
		}
	}

	if docs == nil {
		docs = []domain.Document{*note}
	}
	return docs, nil
}

// Add appends a processor to the pipeline.
func (p *Pipeline) Add(processor driven.PostProcessor) {
	p.processors = append(p.processors, processor)
}

// Len returns the number of processors in the pipeline.
func (p *Pipeline) Len() int {
	return len(p.processors)
}
