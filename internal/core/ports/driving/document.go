package driving

import (
	"context"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
)

// DocumentService manages the indexed note collection.
type DocumentService interface {
	// Add ingests a note. Long content is split into a chunk chain.
	// Returns the stored documents.
	Add(ctx context.Context, input DocumentInput) ([]domain.Document, error)

	// Get retrieves a document by ID.
	Get(ctx context.Context, documentID string) (*domain.Document, error)

	// List returns documents, newest first.
	List(ctx context.Context, limit, offset int) ([]domain.Document, error)

	// Delete removes a document, its edges and its index entries.
	Delete(ctx context.Context, documentID string) error
}

// DocumentInput is a note to ingest.
type DocumentInput struct {
	// Title is the note title. Required.
	Title string

	// Content is the note body. Required.
	Content string

	// Tags are controlled-vocabulary terms in "scheme:notation" form.
	Tags []string

	// Embedding is used for single-chunk notes instead of calling the
	// embedding service.
	Embedding []float32

	// Metadata contains arbitrary key-value pairs.
	Metadata map[string]any
}
