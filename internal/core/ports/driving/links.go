package driving

import (
	"context"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
)

// LinkService builds the semantic similarity graph.
type LinkService interface {
	// CreateLinks selects diverse neighbours for a document and stores each
	// link with its reciprocal. Returns the outgoing edges created.
	CreateLinks(ctx context.Context, documentID string) ([]domain.Edge, error)

	// CreateLinksBatch links several documents with bounded concurrency.
	// Returns the number of outgoing edges created.
	CreateLinksBatch(ctx context.Context, documentIDs []string) (int, error)

	// AddExplicitLink records a user link from source to target.
	AddExplicitLink(ctx context.Context, source, target string) (*domain.Edge, error)
}
