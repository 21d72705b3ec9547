package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
	"github.com/Fortemi/fortemi-sub000/internal/core/ports/driven"
)

// ==================== Document Store ====================

// documentStore implements driven.DocumentStore.
type documentStore struct {
	store *Store
}

var _ driven.DocumentStore = (*documentStore)(nil)

const documentColumns = `id, title, content, embedding, tags, chain_id, chain_seq, chain_total,
	metadata, created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// SaveDocument stores or updates a document and its parsed tags.
func (s *documentStore) SaveDocument(ctx context.Context, doc *domain.Document) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("%w: document id required", domain.ErrInvalidInput)
	}

	tags := domain.ParseTags(doc.Tags)
	tagsJSON, err := marshalJSON(domain.NormalizeTags(doc.Tags))
	if err != nil {
		return fmt.Errorf("marshalling tags: %w", err)
	}
	if tagsJSON == nil {
		tagsJSON = "[]"
	}
	metadataJSON, err := marshalJSON(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}

	var chainID, chainSeq, chainTotal any
	if doc.Chain != nil {
		chainID, chainSeq, chainTotal = doc.Chain.ChainID, doc.Chain.Sequence, doc.Chain.Total
	}

	return s.store.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO documents (`+documentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				content = excluded.content,
				embedding = excluded.embedding,
				tags = excluded.tags,
				chain_id = excluded.chain_id,
				chain_seq = excluded.chain_seq,
				chain_total = excluded.chain_total,
				metadata = excluded.metadata,
				updated_at = excluded.updated_at
		`, doc.ID, doc.Title, doc.Content, float32SliceToBytes(doc.Embedding), tagsJSON,
			chainID, chainSeq, chainTotal, metadataJSON, utc(doc.CreatedAt), utc(doc.UpdatedAt))
		if err != nil {
			return fmt.Errorf("saving document: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM document_tags WHERE document_id = ?", doc.ID); err != nil {
			return fmt.Errorf("clearing tags: %w", err)
		}
		for _, t := range tags {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO document_tags (document_id, scheme, notation) VALUES (?, ?, ?)
			`, doc.ID, t.Scheme, t.Notation); err != nil {
				return fmt.Errorf("saving tag %s: %w", t, err)
			}
		}
		return nil
	})
}

// GetDocument retrieves a document by ID.
func (s *documentStore) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	row := s.store.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	return doc, err
}

// GetDocuments retrieves documents in the order of ids. Unknown IDs are skipped.
func (s *documentStore) GetDocuments(ctx context.Context, ids []string) ([]domain.Document, error) {
	if len(ids) == 0 {
		return []domain.Document{}, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	docs, err := s.queryDocuments(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE id IN ("+placeholders(len(ids))+")", args...)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]domain.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	result := make([]domain.Document, 0, len(docs))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			result = append(result, d)
			delete(byID, id)
		}
	}
	return result, nil
}

// DeleteDocument removes a document. Tags cascade.
func (s *documentStore) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.store.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	return nil
}

// ListDocuments returns documents newest first. A non-positive limit
// returns everything after offset.
func (s *documentStore) ListDocuments(ctx context.Context, limit, offset int) ([]domain.Document, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryDocuments(ctx, `
		SELECT `+documentColumns+` FROM documents
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?
	`, limit, max(offset, 0))
}

// ListChain returns the chunks of a chain ordered by sequence.
func (s *documentStore) ListChain(ctx context.Context, chainID string) ([]domain.Document, error) {
	return s.queryDocuments(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE chain_id = ?
		ORDER BY chain_seq
	`, chainID)
}

// CountDocuments returns the number of stored documents.
func (s *documentStore) CountDocuments(ctx context.Context) (int, error) {
	var n int
	if err := s.store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}

func (s *documentStore) queryDocuments(ctx context.Context, query string, args ...any) ([]domain.Document, error) {
	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	docs := []domain.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

// scanDocument scans a single document row. sql.ErrNoRows is returned as is.
func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var embedding []byte
	var tagsJSON, chainID, metadataJSON sql.NullString
	var chainSeq, chainTotal sql.NullInt64

	if err := row.Scan(&doc.ID, &doc.Title, &doc.Content, &embedding, &tagsJSON,
		&chainID, &chainSeq, &chainTotal, &metadataJSON, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}

	doc.Embedding = bytesToFloat32Slice(embedding)
	if err := unmarshalJSON(tagsJSON, &doc.Tags); err != nil {
		return nil, fmt.Errorf("unmarshaling tags: %w", err)
	}
	if len(doc.Tags) == 0 {
		doc.Tags = nil
	}
	if err := unmarshalJSON(metadataJSON, &doc.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshaling metadata: %w", err)
	}
	if chainID.Valid && chainID.String != "" {
		doc.Chain = &domain.ChainMembership{
			ChainID:  chainID.String,
			Sequence: int(chainSeq.Int64),
			Total:    int(chainTotal.Int64),
		}
	}
	return &doc, nil
}
