package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
	"github.com/Fortemi/fortemi-sub000/internal/core/ports/driven"
	"github.com/Fortemi/fortemi-sub000/internal/core/ports/driving"
	"github.com/Fortemi/fortemi-sub000/internal/logger"
)

// Ensure PipelineService implements the interface.
var _ driving.PipelineService = (*PipelineService)(nil)

const (
	// minCommunityWeight keeps the weakest retained edge in the community graph
	// after normalization maps it to zero.
	minCommunityWeight = 0.01

	// waitPollInterval is how often Wait polls runs owned by another process.
	waitPollInterval = 100 * time.Millisecond

	// defaultRunListLimit applies when ListRuns is called without a limit.
	defaultRunListLimit = 20

	// heartbeatsPerLease is how many heartbeats an owner sends per lease.
	heartbeatsPerLease = 4
)

// PipelineService runs the graph quality pipeline in the background.
// At most one run is active at a time; the run store enforces this across
// processes and the service tracks the run it owns.
type PipelineService struct {
	docStore         driven.DocumentStore
	edgeStore        driven.EdgeStore
	communityStore   driven.CommunityStore
	diagnosticsStore driven.DiagnosticsStore
	runStore         driven.RunStore
	lease            time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	settings domain.GraphSettings
	active   *activeRun
	done     map[string]chan struct{}
}

// activeRun is the in-process handle of the running pipeline.
type activeRun struct {
	id        string
	cancelled atomic.Bool

	// lost is set once another process reclaimed the run.
	lost atomic.Bool
}

// runState carries values between the stages of one run.
type runState struct {
	run         *domain.PipelineRun
	settings    domain.GraphSettings
	before      graphCounts
	scoreRange  *ScoreRange
	communities int
	modularity  float64
	detected    bool
}

// PipelineOption configures a PipelineService.
type PipelineOption func(*PipelineService)

// WithRunLease sets how long a run may go without a heartbeat before it is
// treated as abandoned and reclaimed. Defaults to domain.DefaultRunLease.
func WithRunLease(lease time.Duration) PipelineOption {
	return func(s *PipelineService) {
		if lease > 0 {
			s.lease = lease
		}
	}
}

// NewPipelineService creates a pipeline service. Runs execute on the
// service's own lifetime context; call Close to stop them.
func NewPipelineService(
	docStore driven.DocumentStore,
	edgeStore driven.EdgeStore,
	communityStore driven.CommunityStore,
	diagnosticsStore driven.DiagnosticsStore,
	runStore driven.RunStore,
	settings domain.GraphSettings,
	opts ...PipelineOption,
) *PipelineService {
	ctx, cancel := context.WithCancel(context.Background())
	s := &PipelineService{
		docStore:         docStore,
		edgeStore:        edgeStore,
		communityStore:   communityStore,
		diagnosticsStore: diagnosticsStore,
		runStore:         runStore,
		lease:            domain.DefaultRunLease,
		ctx:              ctx,
		cancel:           cancel,
		settings:         settings,
		done:             make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UpdateSettings swaps the graph parameters used by later runs.
func (s *PipelineService) UpdateSettings(settings domain.GraphSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
}

// Close cancels the active run at its next checkpoint and waits for it to stop.
func (s *PipelineService) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

// Run starts a pipeline run over the requested steps.
func (s *PipelineService) Run(ctx context.Context, opts domain.RunOptions) (string, error) {
	steps, err := domain.OrderSteps(opts.Steps)
	if err != nil {
		return "", err
	}
	return s.start(ctx, steps, nil, opts.Trigger, "")
}

// Retry starts a new run repeating a failed one.
func (s *PipelineService) Retry(ctx context.Context, runID string, fromFailed bool) (string, error) {
	prev, err := s.runStore.GetRun(ctx, runID)
	if err != nil {
		return "", fmt.Errorf("get run: %w", err)
	}
	if prev.State != domain.StateFailed {
		return "", fmt.Errorf("%w: run %s is %s, only failed runs can be retried",
			domain.ErrInvalidInput, runID, prev.State)
	}

	var carried []domain.StepResult
	if fromFailed {
		for _, step := range prev.Steps {
			if prev.HasCompleted(step) {
				carried = append(carried, domain.StepResult{
					Step:   step,
					Status: domain.StepStatusSkipped,
					Detail: "completed in run " + prev.ID,
				})
			}
		}
	}
	return s.start(ctx, prev.Steps, carried, domain.TriggerRetry, prev.ID)
}

func (s *PipelineService) start(
	ctx context.Context,
	steps []domain.PipelineStep,
	carried []domain.StepResult,
	trigger, retryOf string,
) (string, error) {
	if trigger == "" {
		trigger = domain.TriggerManual
	}
	now := time.Now()
	run := &domain.PipelineRun{
		ID:          uuid.New().String(),
		State:       domain.StatePending,
		Steps:       steps,
		Results:     make(map[domain.PipelineStep]domain.StepResult, len(steps)),
		RetryOf:     retryOf,
		Trigger:     trigger,
		StartedAt:   now,
		HeartbeatAt: now,
	}
	for _, res := range carried {
		run.Results[res.Step] = res
		run.Completed = append(run.Completed, res.Step)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return "", errors.New("pipeline service closed")
	}

	existing, err := s.runStore.CreateRun(ctx, run)
	if errors.Is(err, domain.ErrPipelineRunning) && existing != nil && !s.owns(existing.ID) && s.reclaim(ctx, existing) {
		existing, err = s.runStore.CreateRun(ctx, run)
	}
	if err != nil {
		if errors.Is(err, domain.ErrPipelineRunning) && existing != nil {
			logger.Info("Pipeline run %s already active, coalescing %s trigger", existing.ID, trigger)
			return existing.ID, err
		}
		return "", fmt.Errorf("create run: %w", err)
	}

	handle := &activeRun{id: run.ID}
	done := make(chan struct{})
	s.active = handle
	s.done[run.ID] = done
	settings := s.settings

	stopBeat := make(chan struct{})
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.heartbeat(handle, stopBeat)
	}()
	go func() {
		defer s.wg.Done()
		defer close(done)
		s.execute(run, handle, settings)
		close(stopBeat)

		s.mu.Lock()
		if s.active == handle {
			s.active = nil
		}
		s.mu.Unlock()
	}()

	logger.Info("Started pipeline run %s (steps=%v, trigger=%s)", run.ID, steps, trigger)
	return run.ID, nil
}

// execute drives a run through its steps. Cancellation is honoured only
// between steps; each step's writes go through a non-cancellable context.
func (s *PipelineService) execute(run *domain.PipelineRun, handle *activeRun, settings domain.GraphSettings) {
	ctx := context.WithoutCancel(s.ctx)
	logger.Section("Graph Maintenance")

	state := &runState{run: run, settings: settings}
	before, err := s.counts(ctx)
	if err != nil {
		s.fail(ctx, run, run.Steps[0], fmt.Errorf("count graph: %w", err))
		return
	}
	state.before = before

	for _, step := range run.Steps {
		if handle.lost.Load() {
			logger.Warn("Pipeline run %s was reclaimed by another process, stopping before %s", run.ID, step)
			return
		}
		if handle.cancelled.Load() || s.ctx.Err() != nil {
			logger.Info("Pipeline run %s cancelled before %s", run.ID, step)
			s.fail(ctx, run, "", domain.ErrPipelineCancelled)
			return
		}
		if run.HasCompleted(step) {
			continue
		}

		s.transition(run, step.State())
		s.persist(ctx, run)

		logger.Debug("Running step %s", step)
		started := time.Now()
		res, err := s.runStep(ctx, state, step)
		res.Step = step
		res.Duration = time.Since(started)
		if res.Status == "" {
			res.Status = domain.StepStatusOK
		}
		if err != nil {
			res.Status = domain.StepStatusFailed
			res.Detail = err.Error()
			run.Results[step] = res
			s.fail(ctx, run, step, err)
			return
		}

		run.Results[step] = res
		run.Completed = append(run.Completed, step)
		logger.Info("Step %s %s (affected=%d, %s)", step, res.Status, res.Affected, res.Duration)
		s.persist(ctx, run)
	}

	s.transition(run, domain.StateDone)
	run.EndedAt = time.Now()
	s.persist(ctx, run)
	logger.Info("Pipeline run %s done", run.ID)
}

func (s *PipelineService) runStep(ctx context.Context, state *runState, step domain.PipelineStep) (domain.StepResult, error) {
	switch step {
	case domain.StepNormalize:
		return s.normalize(ctx, state)
	case domain.StepSNN:
		return s.scoreSNN(ctx, state)
	case domain.StepSparsify:
		return s.sparsify(ctx, state)
	case domain.StepCommunity:
		return s.detectCommunities(ctx, state)
	case domain.StepSnapshot:
		return s.snapshot(ctx, state)
	default:
		return domain.StepResult{}, fmt.Errorf("%w: unknown step %q", domain.ErrInvalidInput, step)
	}
}

func (s *PipelineService) transition(run *domain.PipelineRun, next domain.PipelineState) {
	if !run.State.CanTransition(next) {
		logger.Warn("Run %s: ignoring transition %s -> %s", run.ID, run.State, next)
		return
	}
	run.State = next
}

func (s *PipelineService) fail(ctx context.Context, run *domain.PipelineRun, step domain.PipelineStep, err error) {
	s.transition(run, domain.StateFailed)
	run.FailedStep = step
	run.Error = err.Error()
	run.EndedAt = time.Now()
	if !errors.Is(err, domain.ErrPipelineCancelled) {
		logger.Error("Pipeline run %s failed at %s: %v", run.ID, step, err)
	}
	s.persist(ctx, run)
}

func (s *PipelineService) persist(ctx context.Context, run *domain.PipelineRun) {
	run.HeartbeatAt = time.Now()
	if err := s.runStore.UpdateRun(ctx, run); err != nil {
		logger.Error("Failed to persist pipeline run %s: %v", run.ID, err)
	}
}

// heartbeat keeps the owned run's lease fresh until stop is closed.
func (s *PipelineService) heartbeat(handle *activeRun, stop <-chan struct{}) {
	ticker := time.NewTicker(s.lease / heartbeatsPerLease)
	defer ticker.Stop()
	ctx := context.WithoutCancel(s.ctx)
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			err := s.runStore.TouchRun(ctx, handle.id, now)
			switch {
			case errors.Is(err, domain.ErrConflict):
				handle.lost.Store(true)
				return
			case err != nil:
				logger.Warn("Heartbeat for pipeline run %s failed: %v", handle.id, err)
			}
		}
	}
}

// owns reports whether this process runs the given run. Callers hold s.mu.
func (s *PipelineService) owns(runID string) bool {
	return s.active != nil && s.active.id == runID
}

// reclaim fails a run whose owner stopped sending heartbeats, as happens
// when its process dies mid-run. It reports whether the run was failed.
func (s *PipelineService) reclaim(ctx context.Context, run *domain.PipelineRun) bool {
	now := time.Now()
	if !run.IsStale(now, s.lease) {
		return false
	}
	reason := fmt.Sprintf("%v: no heartbeat since %s", domain.ErrPipelineInterrupted,
		run.LastSeen().UTC().Format(time.RFC3339))
	expired, err := s.runStore.ExpireRun(ctx, run.ID, now.Add(-s.lease), reason)
	if err != nil {
		logger.Warn("Failed to reclaim pipeline run %s: %v", run.ID, err)
		return false
	}
	if expired {
		logger.Warn("Reclaimed abandoned pipeline run %s (%s)", run.ID, reason)
	}
	return expired
}

// Wait blocks until the run is terminal.
func (s *PipelineService) Wait(ctx context.Context, runID string) (*domain.PipelineRun, error) {
	s.mu.Lock()
	done, owned := s.done[runID]
	s.mu.Unlock()

	if owned {
		select {
		case <-done:
			return s.runStore.GetRun(ctx, runID)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		run, err := s.runStore.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run.State.IsTerminal() {
			return run, nil
		}
		if s.reclaim(ctx, run) {
			continue
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Cancel asks the active run to stop at its next checkpoint.
func (s *PipelineService) Cancel(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.id != runID {
		return fmt.Errorf("%w: run %s is not active in this process", domain.ErrNotFound, runID)
	}
	s.active.cancelled.Store(true)
	logger.Info("Cancellation requested for pipeline run %s", runID)
	return nil
}

// Status returns a run by ID.
func (s *PipelineService) Status(ctx context.Context, runID string) (*domain.PipelineRun, error) {
	return s.runStore.GetRun(ctx, runID)
}

// ListRuns returns recent runs, newest first.
func (s *PipelineService) ListRuns(ctx context.Context, limit int) ([]domain.PipelineRun, error) {
	if limit <= 0 {
		limit = defaultRunListLimit
	}
	return s.runStore.ListRuns(ctx, limit)
}

// loadGraph reads every semantic edge and groups reciprocal pairs.
// Asymmetric pairs are logged and left out.
func (s *PipelineService) loadGraph(ctx context.Context) (*edgeGraph, error) {
	edges, err := s.edgeStore.ListEdges(ctx, domain.EdgeQuery{Kind: domain.EdgeSemantic})
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	g := buildEdgeGraph(edges)
	if err := g.invariantError(); err != nil {
		logger.Warn("Excluding pairs from graph maintenance: %v", err)
	}
	return g, nil
}

// counts tallies documents and edges for diagnostics.
func (s *PipelineService) counts(ctx context.Context) (graphCounts, error) {
	docs, err := s.docStore.ListDocuments(ctx, 0, 0)
	if err != nil {
		return graphCounts{}, fmt.Errorf("list documents: %w", err)
	}
	edges, err := s.edgeStore.ListEdges(ctx, domain.EdgeQuery{})
	if err != nil {
		return graphCounts{}, fmt.Errorf("list edges: %w", err)
	}
	ids := make([]string, len(docs))
	for i := range docs {
		ids[i] = docs[i].ID
	}
	return countGraph(ids, edges), nil
}

// applyWithRetry plans and applies edge updates, replanning from fresh
// state when a concurrent writer changed an edge in between.
func (s *PipelineService) applyWithRetry(
	ctx context.Context,
	retries int,
	plan func() ([]domain.EdgeUpdate, domain.StepResult, error),
) (domain.StepResult, error) {
	for attempt := 0; ; attempt++ {
		updates, res, err := plan()
		if err != nil || len(updates) == 0 {
			return res, err
		}
		err = s.edgeStore.ApplyEdgeUpdates(ctx, updates)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, domain.ErrConflict) || attempt >= retries {
			return res, fmt.Errorf("%w: apply %d edge updates: %w", domain.ErrPipelineStep, len(updates), err)
		}
		logger.Warn("Edge version conflict, replanning (attempt %d/%d)", attempt+1, retries)
	}
}

// normalize records the raw score range of retained semantic edges.
// Nothing is written; scores are normalized when read.
func (s *PipelineService) normalize(ctx context.Context, state *runState) (domain.StepResult, error) {
	edges, err := s.edgeStore.ListEdges(ctx, domain.EdgeQuery{Kind: domain.EdgeSemantic, RetainedOnly: true})
	if err != nil {
		return domain.StepResult{}, fmt.Errorf("list edges: %w", err)
	}
	lo, hi, ok := scoreRangeOf(edges)
	state.scoreRange = &ScoreRange{Min: lo, Max: hi, Gamma: state.settings.Gamma}

	res := domain.StepResult{
		Status: domain.StepStatusOK,
		Metrics: map[string]float64{
			"min":   lo,
			"max":   hi,
			"gamma": state.settings.Gamma,
			"edges": float64(len(edges)),
		},
	}
	if !ok {
		res.Detail = "no retained semantic edges"
	}
	return res, nil
}

func (s *PipelineService) currentRange(ctx context.Context, state *runState) (ScoreRange, error) {
	if state.scoreRange == nil {
		if _, err := s.normalize(ctx, state); err != nil {
			return ScoreRange{}, err
		}
	}
	return *state.scoreRange, nil
}

// scoreSNN scores shared-nearest-neighbour overlap and prunes weak pairs.
func (s *PipelineService) scoreSNN(ctx context.Context, state *runState) (domain.StepResult, error) {
	n, err := s.docStore.CountDocuments(ctx)
	if err != nil {
		return domain.StepResult{}, fmt.Errorf("count documents: %w", err)
	}

	return s.applyWithRetry(ctx, state.settings.ApplyRetries, func() ([]domain.EdgeUpdate, domain.StepResult, error) {
		g, err := s.loadGraph(ctx)
		if err != nil {
			return nil, domain.StepResult{}, err
		}
		out := scoreSNN(g, n, state.settings)
		res := domain.StepResult{
			Status: domain.StepStatusOK,
			Metrics: map[string]float64{
				"k":           float64(out.k),
				"mean_degree": out.meanDegree,
			},
		}
		if out.skipReason != "" {
			logger.Warn("Skipping SNN: %s", out.skipReason)
			res.Status = domain.StepStatusSkipped
			res.Detail = out.skipReason
			return nil, res, nil
		}
		res.Affected = len(out.prune)
		res.Metrics["scored_pairs"] = float64(len(out.scores))
		res.Metrics["pruned_pairs"] = float64(len(out.prune))
		return snnUpdates(g, out), res, nil
	})
}

// sparsify removes transitively redundant pairs.
func (s *PipelineService) sparsify(ctx context.Context, state *runState) (domain.StepResult, error) {
	n, err := s.docStore.CountDocuments(ctx)
	if err != nil {
		return domain.StepResult{}, fmt.Errorf("count documents: %w", err)
	}
	if n < 3 {
		reason := fmt.Sprintf("corpus too small for sparsification (%d documents)", n)
		logger.Warn("Skipping sparsify: %s", reason)
		return domain.StepResult{Status: domain.StepStatusSkipped, Detail: reason}, nil
	}

	return s.applyWithRetry(ctx, state.settings.ApplyRetries, func() ([]domain.EdgeUpdate, domain.StepResult, error) {
		g, err := s.loadGraph(ctx)
		if err != nil {
			return nil, domain.StepResult{}, err
		}
		before := len(g.retainedPairs())
		prune := rngPrune(g)
		res := domain.StepResult{
			Status:   domain.StepStatusOK,
			Affected: len(prune),
			Metrics: map[string]float64{
				"retained_before": float64(before),
				"retained_after":  float64(before - len(prune)),
			},
		}
		return pruneUpdates(g, prune, domain.PrunedBySparsify), res, nil
	})
}

// detectCommunities partitions the retained graph and replaces assignments.
func (s *PipelineService) detectCommunities(ctx context.Context, state *runState) (domain.StepResult, error) {
	docs, err := s.docStore.ListDocuments(ctx, 0, 0)
	if err != nil {
		return domain.StepResult{}, fmt.Errorf("list documents: %w", err)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	index := make(map[string]int, len(docs))
	for i := range docs {
		index[docs[i].ID] = i
	}

	g, err := s.loadGraph(ctx)
	if err != nil {
		return domain.StepResult{}, err
	}
	rng, err := s.currentRange(ctx, state)
	if err != nil {
		return domain.StepResult{}, err
	}

	wg := newWGraph(len(docs))
	for _, p := range g.retainedPairs() {
		a, okA := index[p.key.A]
		b, okB := index[p.key.B]
		if !okA || !okB {
			continue
		}
		wg.addEdge(a, b, max(rng.Normalize(p.score()), minCommunityWeight))
	}

	result := louvain(wg, state.settings.Resolution)
	ids := communityLayout(result.community)

	members := make(map[int][]*domain.Document)
	for i := range docs {
		members[ids[i]] = append(members[ids[i]], &docs[i])
	}
	labels := make(map[int]string, len(members))
	for id, m := range members {
		labels[id] = communityLabel(id, m)
	}

	now := time.Now()
	assignments := make([]domain.CommunityAssignment, len(docs))
	for i := range docs {
		assignments[i] = domain.CommunityAssignment{
			DocumentID:  docs[i].ID,
			CommunityID: ids[i],
			Label:       labels[ids[i]],
			Confidence:  memberConfidence(wg, result.community, i),
			RunID:       state.run.ID,
			AssignedAt:  now,
		}
	}
	if err := s.communityStore.ReplaceCommunities(ctx, assignments); err != nil {
		return domain.StepResult{}, fmt.Errorf("replace communities: %w", err)
	}

	state.detected = true
	state.communities = len(members)
	state.modularity = result.modularity
	return domain.StepResult{
		Status:   domain.StepStatusOK,
		Affected: len(assignments),
		Metrics: map[string]float64{
			"communities": float64(len(members)),
			"modularity":  result.modularity,
			"levels":      float64(result.levels),
		},
	}, nil
}

// snapshot appends a diagnostics snapshot for the run.
func (s *PipelineService) snapshot(ctx context.Context, state *runState) (domain.StepResult, error) {
	after, err := s.counts(ctx)
	if err != nil {
		return domain.StepResult{}, err
	}

	communities, modularity := state.communities, state.modularity
	if !state.detected {
		assignments, err := s.communityStore.ListCommunities(ctx)
		if err != nil {
			return domain.StepResult{}, fmt.Errorf("list communities: %w", err)
		}
		communities = distinctCommunities(assignments)
		if prev, ok := state.run.Results[domain.StepCommunity]; ok && prev.Metrics != nil {
			modularity = prev.Metrics["modularity"]
		}
	}

	snap := buildSnapshot(state.run.ID, "pipeline:"+state.run.Trigger, state.before, after, communities, modularity)
	if err := s.diagnosticsStore.SaveSnapshot(ctx, &snap); err != nil {
		return domain.StepResult{}, fmt.Errorf("save snapshot: %w", err)
	}
	return domain.StepResult{
		Status:   domain.StepStatusOK,
		Affected: 1,
		Metrics: map[string]float64{
			"edges_before":    float64(snap.EdgesBefore),
			"edges_after":     float64(snap.EdgesAfter),
			"retention_ratio": snap.RetentionRatio,
		},
	}, nil
}
