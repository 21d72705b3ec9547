package domain

import (
	"fmt"
	"time"
)

// PipelineStep names one stage of the graph quality pipeline.
type PipelineStep string

// Pipeline steps in execution order.
const (
	StepNormalize PipelineStep = "normalize"
	StepSNN       PipelineStep = "snn"
	StepSparsify  PipelineStep = "sparsify"
	StepCommunity PipelineStep = "community"
	StepSnapshot  PipelineStep = "snapshot"
)

// AllPipelineSteps returns every step in canonical order.
func AllPipelineSteps() []PipelineStep {
	return []PipelineStep{StepNormalize, StepSNN, StepSparsify, StepCommunity, StepSnapshot}
}

// IsValid returns true if the step is recognised.
func (s PipelineStep) IsValid() bool {
	for _, known := range AllPipelineSteps() {
		if s == known {
			return true
		}
	}
	return false
}

// State returns the run state entered while the step executes.
func (s PipelineStep) State() PipelineState {
	switch s {
	case StepNormalize:
		return StateNormalizing
	case StepSNN:
		return StateScoringSNN
	case StepSparsify:
		return StateSparsifying
	case StepCommunity:
		return StateDetectingCommunities
	case StepSnapshot:
		return StateSnapshotting
	default:
		return StatePending
	}
}

// OrderSteps validates and sorts steps into canonical order, dropping duplicates.
// An empty input selects every step.
func OrderSteps(steps []PipelineStep) ([]PipelineStep, error) {
	if len(steps) == 0 {
		return AllPipelineSteps(), nil
	}
	want := make(map[PipelineStep]bool, len(steps))
	for _, s := range steps {
		if !s.IsValid() {
			return nil, fmt.Errorf("%w: unknown pipeline step %q", ErrInvalidInput, s)
		}
		want[s] = true
	}
	ordered := make([]PipelineStep, 0, len(want))
	for _, s := range AllPipelineSteps() {
		if want[s] {
			ordered = append(ordered, s)
		}
	}
	return ordered, nil
}

// PipelineState is the lifecycle state of a pipeline run.
type PipelineState string

// Pipeline states.
const (
	StatePending              PipelineState = "pending"
	StateNormalizing          PipelineState = "normalizing"
	StateScoringSNN           PipelineState = "scoring_snn"
	StateSparsifying          PipelineState = "sparsifying"
	StateDetectingCommunities PipelineState = "detecting_communities"
	StateSnapshotting         PipelineState = "snapshotting"
	StateDone                 PipelineState = "done"
	StateFailed               PipelineState = "failed"
)

// stateOrder positions the working states so transitions only move forward.
var stateOrder = map[PipelineState]int{
	StatePending:              0,
	StateNormalizing:          1,
	StateScoringSNN:           2,
	StateSparsifying:          3,
	StateDetectingCommunities: 4,
	StateSnapshotting:         5,
	StateDone:                 6,
}

// IsTerminal returns true for Done and Failed.
func (s PipelineState) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// CanTransition reports whether a run may move from s to next.
// Failed is reachable from any non-terminal state; otherwise states only
// advance, and skipped steps may be jumped over.
func (s PipelineState) CanTransition(next PipelineState) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	from, okFrom := stateOrder[s]
	to, okTo := stateOrder[next]
	return okFrom && okTo && to > from
}

// StepStatus is the outcome of one step.
type StepStatus string

// Step outcomes.
const (
	StepStatusOK      StepStatus = "ok"
	StepStatusSkipped StepStatus = "skipped"
	StepStatusFailed  StepStatus = "failed"
)

// StepResult records what a step did.
type StepResult struct {
	Step     PipelineStep       `json:"step"`
	Status   StepStatus         `json:"status"`
	Detail   string             `json:"detail,omitempty"`
	Affected int                `json:"affected"`
	Duration time.Duration      `json:"duration"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
}

// PipelineRun is one execution of the graph quality pipeline.
type PipelineRun struct {
	// ID is the unique run identifier.
	ID string

	// State is the current lifecycle state.
	State PipelineState

	// Steps are the steps requested, in canonical order.
	Steps []PipelineStep

	// Completed are the steps that finished (ok or skipped).
	Completed []PipelineStep

	// FailedStep is set when State is Failed during a step.
	FailedStep PipelineStep

	// Error is the failure message.
	Error string

	// Results holds per-step outcomes.
	Results map[PipelineStep]StepResult

	// RetryOf links a retry to the failed run it repeats.
	RetryOf string

	// Trigger records what started the run (manual, notify, timer).
	Trigger string

	StartedAt time.Time
	EndedAt   time.Time

	// HeartbeatAt is the last time the owning process reported the run alive.
	HeartbeatAt time.Time
}

// IsActive returns true while the run has not reached a terminal state.
func (r *PipelineRun) IsActive() bool {
	return !r.State.IsTerminal()
}

// LastSeen returns the latest sign of life from the owning process.
func (r *PipelineRun) LastSeen() time.Time {
	if r.HeartbeatAt.After(r.StartedAt) {
		return r.HeartbeatAt
	}
	return r.StartedAt
}

// IsStale reports whether an active run has gone longer than lease without
// a heartbeat, as it does when its process died mid-run.
func (r *PipelineRun) IsStale(now time.Time, lease time.Duration) bool {
	return r.IsActive() && now.Sub(r.LastSeen()) > lease
}

// HasCompleted reports whether the step finished in this run.
func (r *PipelineRun) HasCompleted(step PipelineStep) bool {
	for _, s := range r.Completed {
		if s == step {
			return true
		}
	}
	return false
}

// RunOptions configures a pipeline trigger.
type RunOptions struct {
	// Steps selects a subset of steps. Empty runs all.
	Steps []PipelineStep

	// Trigger is recorded on the run for diagnostics.
	Trigger string
}

// DefaultRunLease is how long an active run may go without a heartbeat
// before another process treats it as abandoned.
const DefaultRunLease = 2 * time.Minute

// Run triggers.
const (
	TriggerManual = "manual"
	TriggerNotify = "notify"
	TriggerTimer  = "timer"
	TriggerRetry  = "retry"
)

// CommunityAssignment places a document in a detected community.
type CommunityAssignment struct {
	DocumentID  string    `json:"document_id"`
	CommunityID int       `json:"community_id"`
	Label       string    `json:"label"`
	Confidence  float64   `json:"confidence"`
	RunID       string    `json:"run_id"`
	AssignedAt  time.Time `json:"assigned_at"`
}

// DiagnosticsSnapshot is a point-in-time health record of the graph.
type DiagnosticsSnapshot struct {
	ID             string    `json:"id"`
	RunID          string    `json:"run_id"`
	Label          string    `json:"label"`
	CapturedAt     time.Time `json:"captured_at"`
	DocumentCount  int       `json:"document_count"`
	EdgesBefore    int       `json:"edges_before"`
	EdgesAfter     int       `json:"edges_after"`
	MeanDegree     float64   `json:"mean_degree"`
	SNNCoverage    float64   `json:"snn_coverage"`
	RetentionRatio float64   `json:"retention_ratio"`
	CommunityCount int       `json:"community_count"`
	IsolatedCount  int       `json:"isolated_count"`
	Modularity     float64   `json:"modularity"`
}
