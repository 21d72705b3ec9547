package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
	"github.com/Fortemi/fortemi-sub000/internal/core/ports/driven"
)

// ==================== Edge Store ====================

// edgeStore implements driven.EdgeStore. Every mutation runs in one
// transaction so reciprocal pairs and pipeline batches land together.
type edgeStore struct {
	store *Store
}

var _ driven.EdgeStore = (*edgeStore)(nil)

const edgeColumns = `id, source, target, kind, score, rank, snn, retained, pruned_by,
	metadata, version, created_at, updated_at`

// InsertReciprocal writes each semantic edge together with its reverse.
func (s *edgeStore) InsertReciprocal(ctx context.Context, source string, edges []domain.Edge) ([]domain.Edge, error) {
	for i := range edges {
		if edges[i].Target == "" || edges[i].Target == source {
			return nil, fmt.Errorf("%w: invalid edge target %q", domain.ErrInvalidInput, edges[i].Target)
		}
	}

	stored := make([]domain.Edge, 0, len(edges))
	err := s.store.inTx(ctx, func(tx *sql.Tx) error {
		now := utc(time.Now())
		touched := []string{source}
		for _, e := range edges {
			if err := upsertEdge(ctx, tx, source, e.Target, domain.EdgeSemantic, e.ID, e.Score, e.Metadata, now); err != nil {
				return err
			}
			if err := upsertEdge(ctx, tx, e.Target, source, domain.EdgeSemantic, "", e.Score, e.Metadata, now); err != nil {
				return err
			}
			touched = append(touched, e.Target)
		}

		// Ranks always follow score order within a source's outgoing list.
		for _, id := range touched {
			if err := rerank(ctx, tx, id); err != nil {
				return err
			}
		}

		for _, e := range edges {
			row := tx.QueryRowContext(ctx, "SELECT "+edgeColumns+
				" FROM edges WHERE source = ? AND target = ? AND kind = ?", source, e.Target, string(domain.EdgeSemantic))
			edge, err := scanEdge(row)
			if err != nil {
				return err
			}
			stored = append(stored, *edge)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// upsertEdge creates or refreshes one direction. Existing edges keep
// their pruning state and SNN score.
func upsertEdge(
	ctx context.Context,
	tx *sql.Tx,
	source, target string,
	kind domain.EdgeKind,
	id string,
	score float64,
	meta domain.EdgeMetadata,
	now time.Time,
) error {
	metadataJSON, err := marshalJSON(meta)
	if err != nil {
		return fmt.Errorf("marshalling edge metadata: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE edges SET score = ?, metadata = ?, version = version + 1, updated_at = ?
		WHERE source = ? AND target = ? AND kind = ?
	`, score, metadataJSON, now, source, target, string(kind))
	if err != nil {
		return fmt.Errorf("updating edge: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	if id == "" {
		id = uuid.New().String()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO edges (id, source, target, kind, score, retained, metadata, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, 1, ?, ?)
	`, id, source, target, string(kind), score, metadataJSON, now, now)
	if err != nil {
		return fmt.Errorf("inserting edge: %w", err)
	}
	return nil
}

// rerank numbers a document's outgoing semantic edges by score.
func rerank(ctx context.Context, tx *sql.Tx, source string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE edges SET rank = ranked.rn
		FROM (
			SELECT id, ROW_NUMBER() OVER (ORDER BY score DESC, target) AS rn
			FROM edges WHERE source = ? AND kind = ?
		) AS ranked
		WHERE edges.id = ranked.id
	`, source, string(domain.EdgeSemantic))
	if err != nil {
		return fmt.Errorf("ranking edges of %s: %w", source, err)
	}
	return nil
}

// InsertExplicit writes a single directional explicit edge.
func (s *edgeStore) InsertExplicit(ctx context.Context, edge *domain.Edge) error {
	if edge == nil || edge.Source == "" || edge.Target == "" || edge.Source == edge.Target {
		return fmt.Errorf("%w: invalid explicit edge", domain.ErrInvalidInput)
	}

	return s.store.inTx(ctx, func(tx *sql.Tx) error {
		now := utc(time.Now())
		err := upsertEdge(ctx, tx, edge.Source, edge.Target, domain.EdgeExplicit,
			edge.ID, edge.Score, edge.Metadata, now)
		if err != nil {
			return err
		}
		row := tx.QueryRowContext(ctx, "SELECT "+edgeColumns+
			" FROM edges WHERE source = ? AND target = ? AND kind = ?", edge.Source, edge.Target, string(domain.EdgeExplicit))
		stored, err := scanEdge(row)
		if err != nil {
			return err
		}
		*edge = *stored
		return nil
	})
}

// edgeFilter renders an EdgeQuery as SQL conditions.
func edgeFilter(q domain.EdgeQuery) (conds []string, args []any) {
	if q.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, string(q.Kind))
	}
	if q.RetainedOnly {
		conds = append(conds, "retained = 1")
	}
	return conds, args
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// ListEdges returns matching edges ordered by source then rank.
func (s *edgeStore) ListEdges(ctx context.Context, q domain.EdgeQuery) ([]domain.Edge, error) {
	conds, args := edgeFilter(q)
	return s.queryEdges(ctx, "SELECT "+edgeColumns+" FROM edges"+whereClause(conds)+
		" ORDER BY source, rank, target, kind", args...)
}

// EdgesFor returns a document's outgoing edges ordered by score descending.
func (s *edgeStore) EdgesFor(ctx context.Context, documentID string, q domain.EdgeQuery) ([]domain.Edge, error) {
	conds, args := edgeFilter(q)
	conds = append([]string{"source = ?"}, conds...)
	args = append([]any{documentID}, args...)
	return s.queryEdges(ctx, "SELECT "+edgeColumns+" FROM edges"+whereClause(conds)+
		" ORDER BY score DESC, target", args...)
}

// ApplyEdgeUpdates applies a version-checked batch atomically. Any
// mismatch rolls back the whole batch with domain.ErrConflict.
func (s *edgeStore) ApplyEdgeUpdates(ctx context.Context, updates []domain.EdgeUpdate) error {
	return s.store.inTx(ctx, func(tx *sql.Tx) error {
		now := utc(time.Now())
		for _, u := range updates {
			sets := []string{"version = version + 1", "updated_at = ?"}
			args := []any{now}
			if u.SNN != nil {
				sets = append(sets, "snn = ?")
				args = append(args, *u.SNN)
			}
			if u.Prune {
				sets = append(sets, "retained = 0", "pruned_by = ?")
				args = append(args, u.PrunedBy)
			}
			args = append(args, u.ID, u.Version)

			res, err := tx.ExecContext(ctx,
				"UPDATE edges SET "+strings.Join(sets, ", ")+" WHERE id = ? AND version = ?", args...)
			if err != nil {
				return fmt.Errorf("updating edge %s: %w", u.ID, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return conflictFor(ctx, tx, u)
			}
		}
		return nil
	})
}

// conflictFor explains why a version-checked update matched no row.
func conflictFor(ctx context.Context, tx *sql.Tx, u domain.EdgeUpdate) error {
	var version int
	err := tx.QueryRowContext(ctx, "SELECT version FROM edges WHERE id = ?", u.ID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: edge %s no longer exists", domain.ErrConflict, u.ID)
	}
	if err != nil {
		return fmt.Errorf("reading edge %s: %w", u.ID, err)
	}
	return fmt.Errorf("%w: edge %s at version %d, expected %d", domain.ErrConflict, u.ID, version, u.Version)
}

// DeleteForDocument removes every edge touching the document and reranks
// the neighbours that lost an edge.
func (s *edgeStore) DeleteForDocument(ctx context.Context, documentID string) error {
	return s.store.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT DISTINCT source FROM edges WHERE target = ? AND kind = ?
		`, documentID, string(domain.EdgeSemantic))
		if err != nil {
			return fmt.Errorf("querying neighbours: %w", err)
		}
		var touched []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scanning neighbour: %w", err)
			}
			touched = append(touched, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterating neighbours: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			"DELETE FROM edges WHERE source = ? OR target = ?", documentID, documentID); err != nil {
			return fmt.Errorf("deleting edges: %w", err)
		}
		for _, id := range touched {
			if err := rerank(ctx, tx, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// CountEdges returns the number of matching edges.
func (s *edgeStore) CountEdges(ctx context.Context, q domain.EdgeQuery) (int, error) {
	conds, args := edgeFilter(q)
	var n int
	if err := s.store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM edges"+whereClause(conds), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting edges: %w", err)
	}
	return n, nil
}

func (s *edgeStore) queryEdges(ctx context.Context, query string, args ...any) ([]domain.Edge, error) {
	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying edges: %w", err)
	}
	defer rows.Close()

	edges := []domain.Edge{}
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating edges: %w", err)
	}
	return edges, nil
}

func scanEdge(row rowScanner) (*domain.Edge, error) {
	var e domain.Edge
	var kind string
	var snn sql.NullFloat64
	var retained int
	var prunedBy, metadataJSON sql.NullString

	if err := row.Scan(&e.ID, &e.Source, &e.Target, &kind, &e.Score, &e.Rank, &snn,
		&retained, &prunedBy, &metadataJSON, &e.Version, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning edge: %w", err)
	}

	e.Kind = domain.EdgeKind(kind)
	e.SNN, e.HasSNN = snn.Float64, snn.Valid
	e.Retained = retained == 1
	e.PrunedBy = prunedBy.String
	if err := unmarshalJSON(metadataJSON, &e.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshaling edge metadata: %w", err)
	}
	return &e, nil
}
