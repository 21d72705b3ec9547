package driven

import (
	"context"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
)

// DocumentStore persists documents.
// Backed by SQLite for metadata storage.
type DocumentStore interface {
	// SaveDocument stores or updates a document.
	SaveDocument(ctx context.Context, doc *domain.Document) error

	// GetDocument retrieves a document by ID.
	// Returns domain.ErrNotFound if the document does not exist.
	GetDocument(ctx context.Context, id string) (*domain.Document, error)

	// GetDocuments retrieves several documents at once.
	// Unknown IDs are skipped.
	GetDocuments(ctx context.Context, ids []string) ([]domain.Document, error)

	// DeleteDocument removes a document.
	DeleteDocument(ctx context.Context, id string) error

	// ListDocuments returns documents ordered by creation time, newest first.
	// A limit of zero or less returns all documents.
	ListDocuments(ctx context.Context, limit, offset int) ([]domain.Document, error)

	// ListChain returns every chunk of a chain ordered by sequence.
	ListChain(ctx context.Context, chainID string) ([]domain.Document, error)

	// CountDocuments returns the number of stored documents.
	CountDocuments(ctx context.Context) (int, error)
}
