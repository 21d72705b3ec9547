package driven

import (
	"context"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
)

// EdgeStore persists the document similarity graph.
type EdgeStore interface {
	// InsertReciprocal writes each semantic edge together with its reverse
	// in a single transaction. Both directions carry the same score.
	// A pair that already exists keeps its pruning state; its score and
	// metadata are refreshed and its version advances. Missing IDs are
	// assigned. Ranks of every touched document's outgoing semantic edges
	// are renumbered by score. Returns the stored outgoing edges.
	InsertReciprocal(ctx context.Context, source string, edges []domain.Edge) ([]domain.Edge, error)

	// InsertExplicit writes a single directional explicit edge.
	InsertExplicit(ctx context.Context, edge *domain.Edge) error

	// ListEdges returns edges matching the query, ordered by source then rank.
	ListEdges(ctx context.Context, q domain.EdgeQuery) ([]domain.Edge, error)

	// EdgesFor returns outgoing edges of a document matching the query,
	// ordered by score descending.
	EdgesFor(ctx context.Context, documentID string, q domain.EdgeQuery) ([]domain.Edge, error)

	// ApplyEdgeUpdates applies a batch atomically. If any update's version
	// does not match the stored version, nothing is applied and an error
	// wrapping domain.ErrConflict is returned.
	ApplyEdgeUpdates(ctx context.Context, updates []domain.EdgeUpdate) error

	// DeleteForDocument removes every edge touching the document.
	DeleteForDocument(ctx context.Context, documentID string) error

	// CountEdges returns the number of edges matching the query.
	CountEdges(ctx context.Context, q domain.EdgeQuery) (int, error)
}
