package services

import (
	"context"
	"fmt"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
	"github.com/Fortemi/fortemi-sub000/internal/core/ports/driven"
	"github.com/Fortemi/fortemi-sub000/internal/logger"
)

// FilterService validates strict filters against the controlled vocabulary.
type FilterService struct {
	vocabulary driven.Vocabulary
}

// NewFilterService creates a filter service.
// A nil vocabulary only accepts filters that name no scheme beyond the default.
func NewFilterService(vocabulary driven.Vocabulary) *FilterService {
	return &FilterService{vocabulary: vocabulary}
}

// Prepare checks that every scheme referenced by the filter is known.
// A nil or empty filter is returned unchanged. Unknown schemes yield
// domain.ErrUnknownScheme; a vocabulary failure yields
// domain.ErrFilterUnavailable so the caller fails closed.
func (s *FilterService) Prepare(ctx context.Context, filter *domain.StrictFilter) (*domain.StrictFilter, error) {
	if filter.IsEmpty() {
		return filter, nil
	}

	referenced := filter.ReferencedSchemes()
	if len(referenced) == 0 {
		return filter, nil
	}

	known := map[string]bool{domain.DefaultTagScheme: true}
	if s.vocabulary != nil {
		schemes, err := s.vocabulary.Schemes(ctx)
		if err != nil {
			logger.Warn("Vocabulary lookup failed, rejecting filtered query: %v", err)
			return nil, fmt.Errorf("%w: %v", domain.ErrFilterUnavailable, err)
		}
		for _, scheme := range schemes {
			known[domain.NormalizeScheme(scheme)] = true
		}
	} else if len(referenced) > 1 || referenced[0] != domain.DefaultTagScheme {
		return nil, fmt.Errorf("%w: no vocabulary configured", domain.ErrFilterUnavailable)
	}

	for _, scheme := range referenced {
		if !known[scheme] {
			return nil, fmt.Errorf("%w: %q", domain.ErrUnknownScheme, scheme)
		}
	}

	logger.Debug("Strict filter validated over schemes %v", referenced)
	return filter, nil
}
