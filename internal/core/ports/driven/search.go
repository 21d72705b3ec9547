package driven

import (
	"context"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
)

// SearchEngine provides lexical full-text search.
// Backed by SQLite FTS5 for BM25 keyword search.
type SearchEngine interface {
	// Index adds or updates a document in the search index.
	Index(ctx context.Context, doc *domain.Document) error

	// Delete removes a document from the search index.
	Delete(ctx context.Context, documentID string) error

	// Search performs a keyword search over documents admitted by filter.
	// Rejected documents must never appear in the result or take a rank.
	// Scores are provider-specific and unbounded; hits are returned best first
	// with 1-indexed ranks.
	Search(ctx context.Context, query string, filter *domain.StrictFilter, limit int) ([]domain.SearchHit, error)

	// Close releases resources.
	Close() error
}
