package driven

import (
	"context"
	"time"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
)

// CommunityStore persists community assignments.
type CommunityStore interface {
	// ReplaceCommunities swaps the full assignment set atomically.
	// Readers see either the previous set or the new one, never a mix.
	ReplaceCommunities(ctx context.Context, assignments []domain.CommunityAssignment) error

	// ListCommunities returns all assignments ordered by community then document.
	ListCommunities(ctx context.Context) ([]domain.CommunityAssignment, error)

	// CommunityFor returns the assignment for a document.
	// Returns domain.ErrNotFound if the document has none.
	CommunityFor(ctx context.Context, documentID string) (*domain.CommunityAssignment, error)
}

// DiagnosticsStore persists append-only graph health snapshots.
type DiagnosticsStore interface {
	// SaveSnapshot appends a snapshot.
	SaveSnapshot(ctx context.Context, snapshot *domain.DiagnosticsSnapshot) error

	// ListSnapshots returns snapshots newest first.
	ListSnapshots(ctx context.Context, limit int) ([]domain.DiagnosticsSnapshot, error)

	// LatestSnapshot returns the newest snapshot.
	// Returns domain.ErrNotFound if none exist.
	LatestSnapshot(ctx context.Context) (*domain.DiagnosticsSnapshot, error)
}

// RunStore persists pipeline runs.
type RunStore interface {
	// CreateRun stores a new run. If another run is active, it returns the
	// active run and an error wrapping domain.ErrPipelineRunning.
	CreateRun(ctx context.Context, run *domain.PipelineRun) (*domain.PipelineRun, error)

	// UpdateRun persists a run's current state.
	// Returns domain.ErrConflict if the stored run already finished, as it
	// does after ExpireRun reclaimed it.
	UpdateRun(ctx context.Context, run *domain.PipelineRun) error

	// TouchRun records a heartbeat for an active run.
	// Returns domain.ErrConflict if the run is no longer active.
	TouchRun(ctx context.Context, id string, at time.Time) error

	// ExpireRun marks an active run failed with reason when its last
	// heartbeat is not after staleBefore. It reports whether it did.
	ExpireRun(ctx context.Context, id string, staleBefore time.Time, reason string) (bool, error)

	// GetRun retrieves a run by ID.
	// Returns domain.ErrNotFound if the run does not exist.
	GetRun(ctx context.Context, id string) (*domain.PipelineRun, error)

	// ActiveRun returns the active run, or nil if none is active.
	ActiveRun(ctx context.Context) (*domain.PipelineRun, error)

	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, limit int) ([]domain.PipelineRun, error)
}
