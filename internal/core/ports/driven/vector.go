package driven

import (
	"context"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
)

// VectorIndex provides semantic similarity search operations.
// Backed by an in-process HNSW graph for approximate nearest neighbour search.
type VectorIndex interface {
	// Add inserts or replaces the vector for a document.
	// Tags are kept alongside so that filtered search can reject documents
	// before they are ranked.
	Add(ctx context.Context, documentID string, embedding []float32, tags []string) error

	// Delete removes a vector from the index.
	Delete(ctx context.Context, documentID string) error

	// Search finds the nearest documents to the query vector among those
	// admitted by filter.
	Search(ctx context.Context, query []float32, filter *domain.StrictFilter, k int) ([]VectorHit, error)

	// Neighbors returns the k nearest documents to an indexed document,
	// excluding the document itself.
	Neighbors(ctx context.Context, documentID string, k int) ([]VectorHit, error)

	// Len returns the number of indexed vectors.
	Len() int

	// Close releases resources.
	Close() error
}

// VectorHit represents a similarity search result.
type VectorHit struct {
	// DocumentID is the matched document.
	DocumentID string

	// Similarity is the cosine similarity score.
	Similarity float64
}
