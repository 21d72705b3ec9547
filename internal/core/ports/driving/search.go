package driving

import (
	"context"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
)

// SearchService provides search capabilities to external actors.
type SearchService interface {
	// Search runs a query in the requested mode under the strict filter.
	// A failed retrieval source degrades the query to the remaining one and
	// is reported in SearchResponse.Unavailable. No matches is an empty
	// result list with a nil error.
	Search(ctx context.Context, query string, opts domain.SearchOptions) (*domain.SearchResponse, error)
}
