package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
	"github.com/Fortemi/fortemi-sub000/internal/core/ports/driven"
)

// ==================== Community Store ====================

// communityStore implements driven.CommunityStore.
type communityStore struct {
	store *Store
}

var _ driven.CommunityStore = (*communityStore)(nil)

// ReplaceCommunities swaps the full assignment set in one transaction.
func (s *communityStore) ReplaceCommunities(ctx context.Context, assignments []domain.CommunityAssignment) error {
	return s.store.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM communities"); err != nil {
			return fmt.Errorf("clearing communities: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO communities (document_id, community_id, label, confidence, run_id, assigned_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(document_id) DO UPDATE SET
				community_id = excluded.community_id,
				label = excluded.label,
				confidence = excluded.confidence,
				run_id = excluded.run_id,
				assigned_at = excluded.assigned_at
		`)
		if err != nil {
			return fmt.Errorf("preparing statement: %w", err)
		}
		defer stmt.Close()

		for _, a := range assignments {
			if _, err := stmt.ExecContext(ctx, a.DocumentID, a.CommunityID, a.Label, a.Confidence,
				nullString(a.RunID), utc(a.AssignedAt)); err != nil {
				return fmt.Errorf("saving assignment for %s: %w", a.DocumentID, err)
			}
		}
		return nil
	})
}

// ListCommunities returns assignments ordered by community then document.
func (s *communityStore) ListCommunities(ctx context.Context) ([]domain.CommunityAssignment, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT document_id, community_id, label, confidence, run_id, assigned_at
		FROM communities ORDER BY community_id, document_id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying communities: %w", err)
	}
	defer rows.Close()

	result := []domain.CommunityAssignment{}
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating communities: %w", err)
	}
	return result, nil
}

// CommunityFor returns a document's assignment or domain.ErrNotFound.
func (s *communityStore) CommunityFor(ctx context.Context, documentID string) (*domain.CommunityAssignment, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT document_id, community_id, label, confidence, run_id, assigned_at
		FROM communities WHERE document_id = ?
	`, documentID)
	return scanAssignment(row)
}

func scanAssignment(row rowScanner) (*domain.CommunityAssignment, error) {
	var a domain.CommunityAssignment
	var runID sql.NullString
	if err := row.Scan(&a.DocumentID, &a.CommunityID, &a.Label, &a.Confidence, &runID, &a.AssignedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning community assignment: %w", err)
	}
	a.RunID = runID.String
	return &a, nil
}

// ==================== Diagnostics Store ====================

// diagnosticsStore implements driven.DiagnosticsStore. Snapshots are kept
// as JSON so new metrics need no migration.
type diagnosticsStore struct {
	store *Store
}

var _ driven.DiagnosticsStore = (*diagnosticsStore)(nil)

// SaveSnapshot appends a snapshot.
func (s *diagnosticsStore) SaveSnapshot(ctx context.Context, snapshot *domain.DiagnosticsSnapshot) error {
	if snapshot == nil || snapshot.ID == "" {
		return domain.ErrInvalidInput
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshalling snapshot: %w", err)
	}
	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO diagnostics_snapshots (id, run_id, captured_at, payload) VALUES (?, ?, ?, ?)
	`, snapshot.ID, nullString(snapshot.RunID), utc(snapshot.CapturedAt), string(payload))
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns snapshots newest first.
func (s *diagnosticsStore) ListSnapshots(ctx context.Context, limit int) ([]domain.DiagnosticsSnapshot, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT payload FROM diagnostics_snapshots
		ORDER BY captured_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	result := []domain.DiagnosticsSnapshot{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		var snap domain.DiagnosticsSnapshot
		if err := json.Unmarshal([]byte(payload), &snap); err != nil {
			return nil, fmt.Errorf("unmarshaling snapshot: %w", err)
		}
		result = append(result, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshots: %w", err)
	}
	return result, nil
}

// LatestSnapshot returns the newest snapshot.
func (s *diagnosticsStore) LatestSnapshot(ctx context.Context) (*domain.DiagnosticsSnapshot, error) {
	snaps, err := s.ListSnapshots(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, domain.ErrNotFound
	}
	return &snaps[0], nil
}

// ==================== Run Store ====================

// runStore implements driven.RunStore. The partial unique index on
// pipeline_runs(active) holds at most one active row, across processes too.
// heartbeat_at is kept in its own column so heartbeats never rewrite the payload.
type runStore struct {
	store *Store
}

var _ driven.RunStore = (*runStore)(nil)

// runColumns are the columns scanRun expects.
const runColumns = "payload, heartbeat_at"

// CreateRun stores a new run unless another run is active. In that case
// the active run is returned with domain.ErrPipelineRunning.
func (s *runStore) CreateRun(ctx context.Context, run *domain.PipelineRun) (*domain.PipelineRun, error) {
	if run == nil || run.ID == "" {
		return nil, domain.ErrInvalidInput
	}
	payload, err := json.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("marshalling run: %w", err)
	}

	var active *domain.PipelineRun
	err = s.store.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanRun(tx.QueryRowContext(ctx,
			"SELECT "+runColumns+" FROM pipeline_runs WHERE active = 1"))
		switch {
		case err == nil:
			active = existing
			return fmt.Errorf("%w: run %s", domain.ErrPipelineRunning, existing.ID)
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO pipeline_runs (id, state, active, started_at, heartbeat_at, payload)
			VALUES (?, ?, ?, ?, ?, ?)
		`, run.ID, string(run.State), boolToInt(run.IsActive()), utc(run.StartedAt),
			formatNullableTime(run.LastSeen()), string(payload))
		if err != nil {
			return insertRunError(run.ID, err)
		}
		return nil
	})
	if err != nil {
		return active, err
	}
	return nil, nil
}

// insertRunError maps constraint failures onto domain errors.
func insertRunError(id string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "pipeline_runs.active"):
		return fmt.Errorf("%w: %v", domain.ErrPipelineRunning, err)
	case strings.Contains(msg, "pipeline_runs.id"):
		return fmt.Errorf("run %s: %w", id, domain.ErrAlreadyExists)
	default:
		return fmt.Errorf("inserting run: %w", err)
	}
}

// UpdateRun persists a run's current state. Only active rows are updated,
// so a run reclaimed by ExpireRun cannot be reopened by its old owner.
func (s *runStore) UpdateRun(ctx context.Context, run *domain.PipelineRun) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshalling run: %w", err)
	}
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE pipeline_runs
		SET state = ?, active = ?, payload = ?,
		    heartbeat_at = MAX(COALESCE(heartbeat_at, ''), COALESCE(?, ''))
		WHERE id = ? AND active = 1
	`, string(run.State), boolToInt(run.IsActive()), string(payload),
		formatNullableTime(run.HeartbeatAt), run.ID)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	return s.checkActiveUpdate(ctx, res, run.ID)
}

// TouchRun records a heartbeat for an active run.
func (s *runStore) TouchRun(ctx context.Context, id string, at time.Time) error {
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE pipeline_runs SET heartbeat_at = MAX(COALESCE(heartbeat_at, ''), ?)
		WHERE id = ? AND active = 1
	`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("touching run: %w", err)
	}
	return s.checkActiveUpdate(ctx, res, id)
}

// checkActiveUpdate tells a missing run apart from one that already finished.
func (s *runStore) checkActiveUpdate(ctx context.Context, res sql.Result, id string) error {
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("run %s is %s: %w", id, run.State, domain.ErrConflict)
}

// ExpireRun fails an active run whose last heartbeat is not after staleBefore.
func (s *runStore) ExpireRun(ctx context.Context, id string, staleBefore time.Time, reason string) (bool, error) {
	expired := false
	err := s.store.inTx(ctx, func(tx *sql.Tx) error {
		run, err := scanRun(tx.QueryRowContext(ctx,
			"SELECT "+runColumns+" FROM pipeline_runs WHERE id = ?", id))
		if err != nil {
			return err
		}
		if !run.IsActive() || run.LastSeen().After(staleBefore) {
			return nil
		}

		run.State = domain.StateFailed
		run.Error = reason
		run.EndedAt = time.Now()
		payload, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("marshalling run: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE pipeline_runs SET state = ?, active = 0, payload = ? WHERE id = ?
		`, string(run.State), string(payload), id); err != nil {
			return fmt.Errorf("expiring run: %w", err)
		}
		expired = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return expired, nil
}

// GetRun retrieves a run by ID.
func (s *runStore) GetRun(ctx context.Context, id string) (*domain.PipelineRun, error) {
	return scanRun(s.store.db.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM pipeline_runs WHERE id = ?", id))
}

// ActiveRun returns the active run, or nil.
func (s *runStore) ActiveRun(ctx context.Context) (*domain.PipelineRun, error) {
	run, err := scanRun(s.store.db.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM pipeline_runs WHERE active = 1"))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return run, err
}

// ListRuns returns runs newest first.
func (s *runStore) ListRuns(ctx context.Context, limit int) ([]domain.PipelineRun, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM pipeline_runs ORDER BY started_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	result := []domain.PipelineRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return result, nil
}

func scanRun(row rowScanner) (*domain.PipelineRun, error) {
	var (
		payload   string
		heartbeat sql.NullString
	)
	if err := row.Scan(&payload, &heartbeat); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	var run domain.PipelineRun
	if err := json.Unmarshal([]byte(payload), &run); err != nil {
		return nil, fmt.Errorf("unmarshaling run: %w", err)
	}
	if beat := parseNullableTime(heartbeat); beat.After(run.HeartbeatAt) {
		run.HeartbeatAt = beat
	}
	return &run, nil
}
