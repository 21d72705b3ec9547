package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
	"github.com/Fortemi/fortemi-sub000/internal/core/ports/driven"
)

// ==================== Search Engine ====================

// searchEngine implements driven.SearchEngine over the documents_fts
// FTS5 table, and driven.Vocabulary over document_tags.
type searchEngine struct {
	store *Store
}

var (
	_ driven.SearchEngine = (*searchEngine)(nil)
	_ driven.Vocabulary   = (*searchEngine)(nil)
)

// Index adds or replaces a document in the full-text index.
func (e *searchEngine) Index(ctx context.Context, doc *domain.Document) error {
	if doc == nil || doc.ID == "" {
		return domain.ErrInvalidInput
	}
	tagsJSON, err := marshalJSON(domain.NormalizeTags(doc.Tags))
	if err != nil {
		return fmt.Errorf("marshalling tags: %w", err)
	}

	return e.store.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM documents_fts WHERE doc_id = ?", doc.ID); err != nil {
			return fmt.Errorf("removing index entry: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents_fts (doc_id, tags, title, content) VALUES (?, ?, ?, ?)
		`, doc.ID, tagsJSON, doc.Title, doc.Content); err != nil {
			return fmt.Errorf("indexing document: %w", err)
		}
		return nil
	})
}

// Delete removes a document from the full-text index.
func (e *searchEngine) Delete(ctx context.Context, documentID string) error {
	if _, err := e.store.db.ExecContext(ctx, "DELETE FROM documents_fts WHERE doc_id = ?", documentID); err != nil {
		return fmt.Errorf("removing index entry: %w", err)
	}
	return nil
}

// Search ranks documents by bm25. Matches are walked best first and
// admitted against the filter before they are given a rank, so the result
// equals ranking the admitted subset alone.
func (e *searchEngine) Search(ctx context.Context, query string, filter *domain.StrictFilter, limit int) ([]domain.SearchHit, error) {
	match := matchExpression(query)
	if match == "" || limit <= 0 {
		return []domain.SearchHit{}, nil
	}

	sqlQuery := `
		SELECT doc_id, tags, -bm25(documents_fts) AS score
		FROM documents_fts
		WHERE documents_fts MATCH ?
		ORDER BY score DESC, doc_id`
	args := []any{match}
	if filter.IsEmpty() {
		sqlQuery += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := e.store.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSearchUnavailable, err)
	}
	defer rows.Close()

	hits := make([]domain.SearchHit, 0, limit)
	for rows.Next() && len(hits) < limit {
		var id string
		var tagsJSON sql.NullString
		var score float64
		if err := rows.Scan(&id, &tagsJSON, &score); err != nil {
			return nil, fmt.Errorf("scanning search hit: %w", err)
		}
		var tags []string
		if err := unmarshalJSON(tagsJSON, &tags); err != nil {
			return nil, fmt.Errorf("unmarshaling tags: %w", err)
		}
		if !filter.Admit(tags) {
			continue
		}
		hits = append(hits, domain.SearchHit{DocumentID: id, Score: score, Rank: len(hits) + 1})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search hits: %w", err)
	}
	return hits, nil
}

// matchExpression turns free text into an FTS5 OR query. Tokens are
// quoted so FTS5 operators in user input are taken literally.
func matchExpression(query string) string {
	tokens := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, t := range tokens {
		tokens[i] = `"` + t + `"`
	}
	return strings.Join(tokens, " OR ")
}

// Schemes returns the schemes of all stored tags plus the default scheme.
func (e *searchEngine) Schemes(ctx context.Context) ([]string, error) {
	rows, err := e.store.db.QueryContext(ctx, "SELECT DISTINCT scheme FROM document_tags")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrFilterUnavailable, err)
	}
	defer rows.Close()

	set := map[string]bool{domain.DefaultTagScheme: true}
	for rows.Next() {
		var scheme string
		if err := rows.Scan(&scheme); err != nil {
			return nil, fmt.Errorf("scanning scheme: %w", err)
		}
		set[scheme] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating schemes: %w", err)
	}

	schemes := make([]string, 0, len(set))
	for s := range set {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes, nil
}

// Close is a no-op; the owning Store closes the database.
func (e *searchEngine) Close() error {
	return nil
}
