package domain

import "time"

// ScheduledTask represents a recurring background task.
type ScheduledTask struct {
	// ID is the unique identifier for the task.
	ID string

	// Name is a human-readable name for the task.
	Name string

	// Interval defines how often the task should run.
	Interval time.Duration

	// LastRun is when the task last ran.
	LastRun time.Time

	// NextRun is when the task should run next.
	NextRun time.Time

	// LastError contains the last error message, if any.
	LastError string

	// LastSuccess is when the task last completed successfully.
	LastSuccess time.Time

	// Enabled indicates whether the task is active.
	Enabled bool
}

// TaskResult represents the outcome of a task execution.
type TaskResult struct {
	// TaskID identifies which task was run.
	TaskID string

	// RunID links to the pipeline run the task started, if any.
	RunID string

	// Trigger records whether a notification or the timer fired.
	Trigger string

	// StartedAt is when the task started.
	StartedAt time.Time

	// EndedAt is when the task completed.
	EndedAt time.Time

	// Success indicates whether the task completed without error.
	Success bool

	// Error contains the error message if Success is false.
	Error string

	// ItemsProcessed is a count of items handled (edges affected).
	ItemsProcessed int
}

// SchedulerConfig holds maintenance scheduler configuration.
type SchedulerConfig struct {
	// Enabled is the master switch for the scheduler.
	Enabled bool

	// PollInterval is the safety-net wait: a run is triggered when no
	// notification arrives within this window.
	PollInterval time.Duration

	// MinSpacing is the minimum gap between notification-triggered runs.
	MinSpacing time.Duration

	// HistoryLimit is the number of task results kept per task.
	HistoryLimit int
}

// DefaultSchedulerConfig returns sensible defaults for the scheduler.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:      true,
		PollInterval: 15 * time.Minute,
		MinSpacing:   1 * time.Minute,
		HistoryLimit: 100,
	}
}

// Task IDs for built-in tasks.
const (
	TaskIDGraphMaintenance = "graph-maintenance"
)
