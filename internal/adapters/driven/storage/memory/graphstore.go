package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
	"github.com/Fortemi/fortemi-sub000/internal/core/ports/driven"
)

// Ensure the graph stores implement their interfaces.
var (
	_ driven.CommunityStore   = (*CommunityStore)(nil)
	_ driven.DiagnosticsStore = (*DiagnosticsStore)(nil)
	_ driven.RunStore         = (*RunStore)(nil)
)

// CommunityStore is an in-memory implementation of driven.CommunityStore.
type CommunityStore struct {
	mu          sync.RWMutex
	assignments map[string]domain.CommunityAssignment
}

// NewCommunityStore creates a new in-memory community store.
func NewCommunityStore() *CommunityStore {
	return &CommunityStore{
		assignments: make(map[string]domain.CommunityAssignment),
	}
}

// ReplaceCommunities swaps the full assignment set.
func (s *CommunityStore) ReplaceCommunities(_ context.Context, assignments []domain.CommunityAssignment) error {
	next := make(map[string]domain.CommunityAssignment, len(assignments))
	for _, a := range assignments {
		next[a.DocumentID] = a
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments = next
	return nil
}

// ListCommunities returns assignments ordered by community then document.
func (s *CommunityStore) ListCommunities(_ context.Context) ([]domain.CommunityAssignment, error) {
	s.mu.RLock()
	result := make([]domain.CommunityAssignment, 0, len(s.assignments))
	for _, a := range s.assignments {
		result = append(result, a)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CommunityID != result[j].CommunityID {
			return result[i].CommunityID < result[j].CommunityID
		}
		return result[i].DocumentID < result[j].DocumentID
	})
	return result, nil
}

// CommunityFor returns the assignment for a document.
func (s *CommunityStore) CommunityFor(_ context.Context, documentID string) (*domain.CommunityAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[documentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

// DiagnosticsStore is an in-memory implementation of driven.DiagnosticsStore.
type DiagnosticsStore struct {
	mu        sync.RWMutex
	snapshots []domain.DiagnosticsSnapshot
}

// NewDiagnosticsStore creates a new in-memory diagnostics store.
func NewDiagnosticsStore() *DiagnosticsStore {
	return &DiagnosticsStore{}
}

// SaveSnapshot appends a snapshot.
func (s *DiagnosticsStore) SaveSnapshot(_ context.Context, snapshot *domain.DiagnosticsSnapshot) error {
	if snapshot == nil {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, *snapshot)
	return nil
}

// ListSnapshots returns snapshots newest first.
func (s *DiagnosticsStore) ListSnapshots(_ context.Context, limit int) ([]domain.DiagnosticsSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.DiagnosticsSnapshot, 0, len(s.snapshots))
	for i := len(s.snapshots) - 1; i >= 0; i-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		result = append(result, s.snapshots[i])
	}
	return result, nil
}

// LatestSnapshot returns the newest snapshot.
func (s *DiagnosticsStore) LatestSnapshot(_ context.Context) (*domain.DiagnosticsSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.snapshots) == 0 {
		return nil, domain.ErrNotFound
	}
	snap := s.snapshots[len(s.snapshots)-1]
	return &snap, nil
}

// RunStore is an in-memory implementation of driven.RunStore.
// The mutex makes the active-run check and insert a single step.
type RunStore struct {
	mu    sync.RWMutex
	runs  map[string]*domain.PipelineRun
	order []string
}

// NewRunStore creates a new in-memory run store.
func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]*domain.PipelineRun),
	}
}

// CreateRun stores a new run unless another run is active.
func (s *RunStore) CreateRun(_ context.Context, run *domain.PipelineRun) (*domain.PipelineRun, error) {
	if run == nil || run.ID == "" {
		return nil, domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		if existing := s.runs[id]; existing.IsActive() {
			active := cloneRun(existing)
			return active, fmt.Errorf("%w: run %s", domain.ErrPipelineRunning, existing.ID)
		}
	}
	if _, ok := s.runs[run.ID]; ok {
		return nil, domain.ErrAlreadyExists
	}
	s.runs[run.ID] = cloneRun(run)
	s.order = append(s.order, run.ID)
	return nil, nil
}

// UpdateRun persists a run's current state. A finished run is not reopened.
func (s *RunStore) UpdateRun(_ context.Context, run *domain.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.runs[run.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if !stored.IsActive() {
		return fmt.Errorf("run %s is %s: %w", run.ID, stored.State, domain.ErrConflict)
	}
	updated := cloneRun(run)
	if stored.HeartbeatAt.After(updated.HeartbeatAt) {
		updated.HeartbeatAt = stored.HeartbeatAt
	}
	s.runs[run.ID] = updated
	return nil
}

// TouchRun records a heartbeat for an active run.
func (s *RunStore) TouchRun(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !run.IsActive() {
		return fmt.Errorf("run %s is %s: %w", id, run.State, domain.ErrConflict)
	}
	if at.After(run.HeartbeatAt) {
		run.HeartbeatAt = at
	}
	return nil
}

// ExpireRun fails an active run whose last heartbeat is not after staleBefore.
func (s *RunStore) ExpireRun(_ context.Context, id string, staleBefore time.Time, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if !run.IsActive() || run.LastSeen().After(staleBefore) {
		return false, nil
	}
	run.State = domain.StateFailed
	run.Error = reason
	run.EndedAt = time.Now()
	return true, nil
}

// GetRun retrieves a run by ID.
func (s *RunStore) GetRun(_ context.Context, id string) (*domain.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneRun(run), nil
}

// ActiveRun returns the active run, or nil.
func (s *RunStore) ActiveRun(_ context.Context) (*domain.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.order {
		if run := s.runs[id]; run.IsActive() {
			return cloneRun(run), nil
		}
	}
	return nil, nil
}

// ListRuns returns runs newest first.
func (s *RunStore) ListRuns(_ context.Context, limit int) ([]domain.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.PipelineRun, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		result = append(result, *cloneRun(s.runs[s.order[i]]))
	}
	return result, nil
}

func cloneRun(run *domain.PipelineRun) *domain.PipelineRun {
	c := *run
	c.Steps = append([]domain.PipelineStep(nil), run.Steps...)
	c.Completed = append([]domain.PipelineStep(nil), run.Completed...)
	c.Results = make(map[domain.PipelineStep]domain.StepResult, len(run.Results))
	for step, res := range run.Results {
		if res.Metrics != nil {
			metrics := make(map[string]float64, len(res.Metrics))
			for k, v := range res.Metrics {
				metrics[k] = v
			}
			res.Metrics = metrics
		}
		c.Results[step] = res
	}
	return &c
}
