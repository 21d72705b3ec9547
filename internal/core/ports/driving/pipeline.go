package driving

import (
	"context"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
)

// PipelineService runs the graph quality pipeline.
type PipelineService interface {
	// Run starts a pipeline run in the background and returns its ID.
	// If a run is already active, its ID is returned with an error wrapping
	// domain.ErrPipelineRunning.
	Run(ctx context.Context, opts domain.RunOptions) (string, error)

	// Wait blocks until the run reaches a terminal state or ctx is done.
	Wait(ctx context.Context, runID string) (*domain.PipelineRun, error)

	// Cancel requests cooperative cancellation of an active run.
	// The run stops after the current stage.
	Cancel(runID string) error

	// Status returns a run by ID.
	Status(ctx context.Context, runID string) (*domain.PipelineRun, error)

	// ListRuns returns recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]domain.PipelineRun, error)

	// Retry re-runs a failed run. With fromFailed set, completed steps are
	// skipped and the run resumes at the failed step.
	Retry(ctx context.Context, runID string, fromFailed bool) (string, error)
}
