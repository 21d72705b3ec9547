// Package tagnorm canonicalises document tags into "scheme:notation" form.
package tagnorm

import (
	"context"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
)

// Processor rewrites tags on every document it receives.
type Processor struct{}

// New creates a tag normalising processor.
func New() *Processor {
	return &Processor{}
}

// Name returns the processor name.
func (p *Processor) Name() string {
	return "tagnorm"
}

// Process normalises tags on docs. When it runs first it normalises the
// note itself.
func (p *Processor) Process(_ context.Context, note *domain.Document, docs []domain.Document) ([]domain.Document, error) {
	if docs == nil {
		if note.Content == "" {
			return nil, nil
		}
		docs = []domain.Document{*note}
	}
	for i := range docs {
		docs[i].Tags = domain.NormalizeTags(docs[i].Tags)
	}
	return docs, nil
}
