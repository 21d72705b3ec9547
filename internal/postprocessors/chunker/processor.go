// Package chunker splits long notes into chains of fixed-size chunk documents.
package chunker

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
)

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 4000

// DefaultChunkOverlap is the default number of overlapping characters.
const DefaultChunkOverlap = 200

// Processor splits note content into fixed-size chunk documents.
// It implements the PostProcessor interface.
type Processor struct {
	chunkSize int
	overlap   int
}

// Option configures the chunker processor.
type Option func(*Processor)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) Option {
	return func(p *Processor) {
		if size > 0 {
			p.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between chunks in characters.
func WithOverlap(overlap int) Option {
	return func(p *Processor) {
		if overlap >= 0 {
			p.overlap = overlap
		}
	}
}

// New creates a new chunker processor with the given options.
func New(opts ...Option) *Processor {
	p := &Processor{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}

	for _, opt := range opts {
		opt(p)
	}

	// Ensure overlap doesn't exceed chunk size
	if p.overlap >= p.chunkSize {
		p.overlap = p.chunkSize / 4
	}

	return p
}

// Name returns the processor name.
func (p *Processor) Name() string {
	return "chunker"
}

// Process splits the note into chunk documents. Input documents are ignored.
// A note that fits in one chunk is returned unchanged. Longer notes become
// a chain titled "Title (Part N/M)" sharing a new chain ID.
// Lengths are measured in runes so multi-byte text is never split mid-character.
func (p *Processor) Process(_ context.Context, note *domain.Document, _ []domain.Document) ([]domain.Document, error) {
	if note.Content == "" {
		// Empty content produces no documents
		return nil, nil
	}

	content := []rune(note.Content)
	if len(content) <= p.chunkSize {
		return []domain.Document{*note}, nil
	}

	var parts []string
	step := p.chunkSize - p.overlap
	for start := 0; start < len(content); start += step {
		end := start + p.chunkSize
		if end > len(content) {
			end = len(content)
		}
		parts = append(parts, string(content[start:end]))
		if end == len(content) {
			break
		}
	}

	chainID := uuid.New().String()
	total := len(parts)
	docs := make([]domain.Document, 0, total)
	for i, part := range parts {
		doc := domain.Document{
			ID:        uuid.New().String(),
			Title:     fmt.Sprintf("%s (Part %d/%d)", note.Title, i+1, total),
			Content:   part,
			Tags:      append([]string(nil), note.Tags...),
			Metadata:  copyMetadata(note.Metadata),
			CreatedAt: note.CreatedAt,
			UpdatedAt: note.UpdatedAt,
			Chain: &domain.ChainMembership{
				ChainID:  chainID,
				Sequence: i + 1,
				Total:    total,
			},
		}
		docs = append(docs, doc)
	}

	return docs, nil
}

func copyMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
