package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fortemi/fortemi-sub000/internal/adapters/driven/storage/memory"
	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
)

// gatedDocumentStore blocks ListDocuments until the gate is closed, holding
// a run inside its first step.
type gatedDocumentStore struct {
	*memory.DocumentStore
	gate chan struct{}
}

func (s *gatedDocumentStore) ListDocuments(ctx context.Context, limit, offset int) ([]domain.Document, error) {
	<-s.gate
	return s.DocumentStore.ListDocuments(ctx, limit, offset)
}

// flakyCommunityStore fails ReplaceCommunities while fail is set.
type flakyCommunityStore struct {
	*memory.CommunityStore
	fail atomic.Bool
}

func (s *flakyCommunityStore) ReplaceCommunities(ctx context.Context, a []domain.CommunityAssignment) error {
	if s.fail.Load() {
		return errBackendDown
	}
	return s.CommunityStore.ReplaceCommunities(ctx, a)
}

// conflictingEdgeStore reports a version conflict on the first apply.
type conflictingEdgeStore struct {
	*memory.EdgeStore
	applies atomic.Int32
}

func (s *conflictingEdgeStore) ApplyEdgeUpdates(ctx context.Context, updates []domain.EdgeUpdate) error {
	if s.applies.Add(1) == 1 {
		return fmt.Errorf("edge %s: %w", updates[0].ID, domain.ErrConflict)
	}
	return s.EdgeStore.ApplyEdgeUpdates(ctx, updates)
}

// tornEdgeStore hides one direction of a pair from ListEdges, as a
// half-applied write would.
type tornEdgeStore struct {
	*memory.EdgeStore
	hidden string
}

func (s *tornEdgeStore) ListEdges(ctx context.Context, q domain.EdgeQuery) ([]domain.Edge, error) {
	edges, err := s.EdgeStore.ListEdges(ctx, q)
	if err != nil {
		return nil, err
	}
	out := edges[:0]
	for _, e := range edges {
		if e.ID != s.hidden {
			out = append(out, e)
		}
	}
	return out, nil
}

type pipelineFixture struct {
	docs        *memory.DocumentStore
	edges       *memory.EdgeStore
	communities *memory.CommunityStore
	diagnostics *memory.DiagnosticsStore
	runs        *memory.RunStore
}

func newPipelineFixture() *pipelineFixture {
	return &pipelineFixture{
		docs:        memory.NewDocumentStore(),
		edges:       memory.NewEdgeStore(),
		communities: memory.NewCommunityStore(),
		diagnostics: memory.NewDiagnosticsStore(),
		runs:        memory.NewRunStore(),
	}
}

func (f *pipelineFixture) addDocs(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, f.docs.SaveDocument(context.Background(), &domain.Document{
			ID: id, Title: id, Content: id, CreatedAt: time.Now(),
		}))
	}
}

func (f *pipelineFixture) service(settings domain.GraphSettings) *PipelineService {
	return NewPipelineService(f.docs, f.edges, f.communities, f.diagnostics, f.runs, settings)
}

func graphSettings() domain.GraphSettings {
	s := domain.DefaultAppSettings().Graph
	s.KMin, s.KMax = 2, 3
	return s
}

// hubCorpus links hub M to nine spokes that also form a ring.
func hubCorpus(t *testing.T, f *pipelineFixture) []string {
	t.Helper()
	spokes := make([]string, 9)
	for i := range spokes {
		spokes[i] = fmt.Sprintf("s%d", i)
	}
	f.addDocs(t, append([]string{"M"}, spokes...)...)
	for i, s := range spokes {
		insertPair(t, f.edges, "M", s, 0.70+0.02*float64(i))
		insertPair(t, f.edges, s, spokes[(i+1)%len(spokes)], 0.90)
	}
	return spokes
}

func retainedDegree(t *testing.T, f *pipelineFixture, id string) int {
	t.Helper()
	out, err := f.edges.EdgesFor(context.Background(), id, domain.EdgeQuery{Kind: domain.EdgeSemantic, RetainedOnly: true})
	require.NoError(t, err)
	return len(out)
}

func runAndWait(t *testing.T, svc *PipelineService, opts domain.RunOptions) *domain.PipelineRun {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	id, err := svc.Run(ctx, opts)
	require.NoError(t, err)
	run, err := svc.Wait(ctx, id)
	require.NoError(t, err)
	return run
}

func TestPipelineService_BreaksHubStarWithDefaultSettings(t *testing.T) {
	f := newPipelineFixture()
	spokes := hubCorpus(t, f)
	svc := f.service(domain.DefaultAppSettings().Graph)
	defer svc.Close()

	run := runAndWait(t, svc, domain.RunOptions{})

	require.Equal(t, domain.StateDone, run.State, run.Error)
	// Ten documents give k=5, above the mean degree of 3.6, so only the
	// relative neighbourhood rule prunes.
	snn := run.Results[domain.StepSNN]
	assert.Equal(t, domain.StepStatusSkipped, snn.Status)
	assert.Equal(t, 5.0, snn.Metrics["k"])
	assert.Equal(t, domain.StepStatusOK, run.Results[domain.StepSparsify].Status)

	// Each spoke but the strongest has a ring neighbour closer to the hub.
	assert.Equal(t, 1, retainedDegree(t, f, "M"))
	hub, err := f.edges.EdgesFor(context.Background(), "M", domain.EdgeQuery{Kind: domain.EdgeSemantic, RetainedOnly: true})
	require.NoError(t, err)
	require.Len(t, hub, 1)
	assert.Equal(t, spokes[len(spokes)-1], hub[0].Target)
	for _, s := range spokes {
		assert.GreaterOrEqual(t, retainedDegree(t, f, s), 2, "ring edges of %s survive", s)
	}
}

func TestPipelineService_BreaksHubStar(t *testing.T) {
	f := newPipelineFixture()
	hubCorpus(t, f)
	svc := f.service(graphSettings())
	defer svc.Close()
	ctx := context.Background()

	before, err := f.edges.ListEdges(ctx, domain.EdgeQuery{Kind: domain.EdgeSemantic, RetainedOnly: true})
	require.NoError(t, err)
	require.Equal(t, 9, retainedDegree(t, f, "M"))

	run := runAndWait(t, svc, domain.RunOptions{})

	require.Equal(t, domain.StateDone, run.State, run.Error)
	assert.Equal(t, domain.AllPipelineSteps(), run.Completed)
	assert.Equal(t, domain.StepStatusOK, run.Results[domain.StepSNN].Status)
	assert.Equal(t, domain.StepStatusOK, run.Results[domain.StepSparsify].Status)
	assert.Less(t, retainedDegree(t, f, "M"), 9)

	after, err := f.edges.ListEdges(ctx, domain.EdgeQuery{Kind: domain.EdgeSemantic, RetainedOnly: true})
	require.NoError(t, err)
	assert.Less(t, len(after), len(before))
	beforeIDs := make(map[string]bool, len(before))
	for _, e := range before {
		beforeIDs[e.ID] = true
	}
	for _, e := range after {
		assert.True(t, beforeIDs[e.ID], "edge %s appeared during maintenance", e.ID)
	}

	// Pruning keeps both directions of a pair in step.
	all, err := f.edges.ListEdges(ctx, domain.EdgeQuery{Kind: domain.EdgeSemantic})
	require.NoError(t, err)
	assert.Empty(t, buildEdgeGraph(all).asymmetric)
	retained := make(map[[2]string]bool)
	for _, e := range all {
		retained[[2]string{e.Source, e.Target}] = e.Retained
	}
	for _, e := range all {
		assert.Equal(t, e.Retained, retained[[2]string{e.Target, e.Source}])
	}

	assignments, err := f.communities.ListCommunities(ctx)
	require.NoError(t, err)
	assert.Len(t, assignments, 10)
	for _, a := range assignments {
		assert.Equal(t, run.ID, a.RunID)
	}

	snap, err := f.diagnostics.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, run.ID, snap.RunID)
	assert.Equal(t, 36, snap.EdgesBefore)
	assert.Equal(t, len(after), snap.EdgesAfter)
	assert.Less(t, snap.RetentionRatio, 1.0)
	assert.Equal(t, "pipeline:manual", snap.Label)
}

func TestPipelineService_RerunIsStable(t *testing.T) {
	f := newPipelineFixture()
	hubCorpus(t, f)
	svc := f.service(graphSettings())
	defer svc.Close()
	ctx := context.Background()

	runAndWait(t, svc, domain.RunOptions{})
	first, err := f.edges.CountEdges(ctx, domain.EdgeQuery{RetainedOnly: true})
	require.NoError(t, err)

	second := runAndWait(t, svc, domain.RunOptions{Steps: []domain.PipelineStep{domain.StepSNN, domain.StepSparsify}})
	require.Equal(t, domain.StateDone, second.State)
	again, err := f.edges.CountEdges(ctx, domain.EdgeQuery{RetainedOnly: true})
	require.NoError(t, err)
	assert.LessOrEqual(t, again, first)
}

func TestPipelineService_SmallCorpusSkipsSteps(t *testing.T) {
	f := newPipelineFixture()
	f.addDocs(t, "a", "b")
	insertPair(t, f.edges, "a", "b", 0.8)
	svc := f.service(graphSettings())
	defer svc.Close()

	run := runAndWait(t, svc, domain.RunOptions{})

	require.Equal(t, domain.StateDone, run.State)
	assert.Equal(t, domain.StepStatusSkipped, run.Results[domain.StepSNN].Status)
	assert.Equal(t, domain.StepStatusSkipped, run.Results[domain.StepSparsify].Status)
	assert.Equal(t, 2, retainedDegree(t, f, "a")+retainedDegree(t, f, "b"))
}

func TestPipelineService_SelectiveSteps(t *testing.T) {
	f := newPipelineFixture()
	hubCorpus(t, f)
	svc := f.service(graphSettings())
	defer svc.Close()

	run := runAndWait(t, svc, domain.RunOptions{
		Steps:   []domain.PipelineStep{domain.StepSnapshot, domain.StepNormalize, domain.StepSnapshot},
		Trigger: domain.TriggerNotify,
	})

	require.Equal(t, domain.StateDone, run.State)
	assert.Equal(t, []domain.PipelineStep{domain.StepNormalize, domain.StepSnapshot}, run.Steps)
	assert.Equal(t, domain.TriggerNotify, run.Trigger)
	assert.Equal(t, 9, retainedDegree(t, f, "M"))
	assert.InDelta(t, 0.90, run.Results[domain.StepNormalize].Metrics["max"], 1e-9)

	_, err := svc.Run(context.Background(), domain.RunOptions{Steps: []domain.PipelineStep{"reindex"}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestPipelineService_SingleActiveRun(t *testing.T) {
	f := newPipelineFixture()
	hubCorpus(t, f)
	gated := &gatedDocumentStore{DocumentStore: f.docs, gate: make(chan struct{})}
	svc := NewPipelineService(gated, f.edges, f.communities, f.diagnostics, f.runs, graphSettings())
	defer svc.Close()
	ctx := context.Background()

	const callers = 16
	ids := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids[i], errs[i] = svc.Run(ctx, domain.RunOptions{Trigger: domain.TriggerNotify})
		}()
	}
	wg.Wait()

	var winner string
	started := 0
	for i, err := range errs {
		if err == nil {
			started++
			winner = ids[i]
		}
	}
	require.Equal(t, 1, started)
	for i, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, domain.ErrPipelineRunning)
			assert.Equal(t, winner, ids[i])
		}
	}

	close(gated.gate)
	run, err := svc.Wait(ctx, winner)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, run.State)

	runs, err := svc.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestPipelineService_Cancel(t *testing.T) {
	f := newPipelineFixture()
	hubCorpus(t, f)
	gated := &gatedDocumentStore{DocumentStore: f.docs, gate: make(chan struct{})}
	svc := NewPipelineService(gated, f.edges, f.communities, f.diagnostics, f.runs, graphSettings())
	defer svc.Close()
	ctx := context.Background()

	id, err := svc.Run(ctx, domain.RunOptions{})
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(id))
	close(gated.gate)

	run, err := svc.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, run.State)
	assert.Contains(t, run.Error, domain.ErrPipelineCancelled.Error())
	assert.Empty(t, run.Completed)
	assert.Equal(t, 9, retainedDegree(t, f, "M"))

	assert.ErrorIs(t, svc.Cancel(id), domain.ErrNotFound)
	assert.ErrorIs(t, svc.Cancel("unknown"), domain.ErrNotFound)
}

func TestPipelineService_FailureAndRetry(t *testing.T) {
	f := newPipelineFixture()
	hubCorpus(t, f)
	flaky := &flakyCommunityStore{CommunityStore: f.communities}
	flaky.fail.Store(true)
	svc := NewPipelineService(f.docs, f.edges, flaky, f.diagnostics, f.runs, graphSettings())
	defer svc.Close()
	ctx := context.Background()

	failed := runAndWait(t, svc, domain.RunOptions{})
	require.Equal(t, domain.StateFailed, failed.State)
	assert.Equal(t, domain.StepCommunity, failed.FailedStep)
	assert.Equal(t, []domain.PipelineStep{domain.StepNormalize, domain.StepSNN, domain.StepSparsify}, failed.Completed)
	assert.Equal(t, domain.StepStatusFailed, failed.Results[domain.StepCommunity].Status)
	assert.Less(t, retainedDegree(t, f, "M"), 9, "earlier steps keep their effects")

	_, err := f.diagnostics.LatestSnapshot(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	flaky.fail.Store(false)
	retryID, err := svc.Retry(ctx, failed.ID, true)
	require.NoError(t, err)
	retried, err := svc.Wait(ctx, retryID)
	require.NoError(t, err)

	require.Equal(t, domain.StateDone, retried.State)
	assert.Equal(t, failed.ID, retried.RetryOf)
	assert.Equal(t, domain.TriggerRetry, retried.Trigger)
	assert.Equal(t, domain.StepStatusSkipped, retried.Results[domain.StepSNN].Status)
	assert.Contains(t, retried.Results[domain.StepSNN].Detail, failed.ID)
	assert.Equal(t, domain.StepStatusOK, retried.Results[domain.StepCommunity].Status)

	snap, err := f.diagnostics.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, retryID, snap.RunID)
}

func TestPipelineService_RetryFromTop(t *testing.T) {
	f := newPipelineFixture()
	hubCorpus(t, f)
	flaky := &flakyCommunityStore{CommunityStore: f.communities}
	flaky.fail.Store(true)
	svc := NewPipelineService(f.docs, f.edges, flaky, f.diagnostics, f.runs, graphSettings())
	defer svc.Close()
	ctx := context.Background()

	failed := runAndWait(t, svc, domain.RunOptions{})
	require.Equal(t, domain.StateFailed, failed.State)

	flaky.fail.Store(false)
	retryID, err := svc.Retry(ctx, failed.ID, false)
	require.NoError(t, err)
	retried, err := svc.Wait(ctx, retryID)
	require.NoError(t, err)

	require.Equal(t, domain.StateDone, retried.State)
	for _, step := range domain.AllPipelineSteps() {
		assert.NotEqual(t, domain.StepStatusFailed, retried.Results[step].Status)
	}
	assert.NotContains(t, retried.Results[domain.StepSNN].Detail, failed.ID)

	_, err = svc.Retry(ctx, retryID, false)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = svc.Retry(ctx, "missing", false)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPipelineService_ReplansAfterConflict(t *testing.T) {
	f := newPipelineFixture()
	hubCorpus(t, f)
	conflicting := &conflictingEdgeStore{EdgeStore: f.edges}
	svc := NewPipelineService(f.docs, conflicting, f.communities, f.diagnostics, f.runs, graphSettings())
	defer svc.Close()

	run := runAndWait(t, svc, domain.RunOptions{Steps: []domain.PipelineStep{domain.StepSNN}})

	require.Equal(t, domain.StateDone, run.State, run.Error)
	assert.GreaterOrEqual(t, conflicting.applies.Load(), int32(2))
}

func TestPipelineService_ConflictRetriesExhausted(t *testing.T) {
	f := newPipelineFixture()
	hubCorpus(t, f)
	conflicting := &conflictingEdgeStore{EdgeStore: f.edges}
	settings := graphSettings()
	settings.ApplyRetries = 0
	svc := NewPipelineService(f.docs, conflicting, f.communities, f.diagnostics, f.runs, settings)
	defer svc.Close()

	run := runAndWait(t, svc, domain.RunOptions{Steps: []domain.PipelineStep{domain.StepSNN}})

	assert.Equal(t, domain.StateFailed, run.State)
	assert.Equal(t, domain.StepSNN, run.FailedStep)
	assert.Contains(t, run.Error, domain.ErrConflict.Error())
}

func TestPipelineService_AsymmetricPairsExcluded(t *testing.T) {
	f := newPipelineFixture()
	hubCorpus(t, f)
	ctx := context.Background()
	out, err := f.edges.EdgesFor(ctx, "s3", domain.EdgeQuery{Kind: domain.EdgeSemantic})
	require.NoError(t, err)
	torn := &tornEdgeStore{EdgeStore: f.edges, hidden: out[0].ID}
	svc := NewPipelineService(f.docs, torn, f.communities, f.diagnostics, f.runs, graphSettings())
	defer svc.Close()

	g, err := svc.loadGraph(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, g.invariantError(), domain.ErrGraphInvariant)
	assert.Len(t, g.asymmetric, 1)

	run := runAndWait(t, svc, domain.RunOptions{})
	assert.Equal(t, domain.StateDone, run.State, run.Error)
}

func TestPipelineService_StatusAndClose(t *testing.T) {
	f := newPipelineFixture()
	f.addDocs(t, "a")
	svc := f.service(graphSettings())
	ctx := context.Background()

	run := runAndWait(t, svc, domain.RunOptions{})
	status, err := svc.Status(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, status.State)
	assert.Equal(t, domain.TriggerManual, status.Trigger)

	_, err = svc.Status(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, svc.Close())
	_, err = svc.Run(ctx, domain.RunOptions{})
	assert.Error(t, err)
}

// abandonRun leaves an active run behind, as a process killed mid-run would.
func abandonRun(t *testing.T, f *pipelineFixture, id string, lastSeen time.Time) {
	t.Helper()
	_, err := f.runs.CreateRun(context.Background(), &domain.PipelineRun{
		ID:        id,
		State:     domain.StateSparsifying,
		Steps:     domain.AllPipelineSteps(),
		Results:   map[domain.PipelineStep]domain.StepResult{},
		Trigger:   domain.TriggerTimer,
		StartedAt: lastSeen,
	})
	require.NoError(t, err)
}

func TestPipelineService_ReclaimsAbandonedRun(t *testing.T) {
	f := newPipelineFixture()
	hubCorpus(t, f)
	abandonRun(t, f, "dead", time.Now().Add(-time.Hour))
	svc := f.service(graphSettings())
	defer svc.Close()

	run := runAndWait(t, svc, domain.RunOptions{})
	assert.NotEqual(t, "dead", run.ID)
	assert.Equal(t, domain.StateDone, run.State)

	dead, err := svc.Status(context.Background(), "dead")
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, dead.State)
	assert.Contains(t, dead.Error, domain.ErrPipelineInterrupted.Error())

	// The reclaimed run can be retried like any failed run.
	retryID, err := svc.Retry(context.Background(), "dead", true)
	require.NoError(t, err)
	retried, err := svc.Wait(context.Background(), retryID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, retried.State)
}

func TestPipelineService_WaitOnAbandonedRunReturns(t *testing.T) {
	f := newPipelineFixture()
	abandonRun(t, f, "dead", time.Now().Add(-time.Hour))
	svc := f.service(graphSettings())
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	run, err := svc.Wait(ctx, "dead")
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, run.State)
	assert.Contains(t, run.Error, domain.ErrPipelineInterrupted.Error())
}

func TestPipelineService_FreshForeignRunIsKept(t *testing.T) {
	f := newPipelineFixture()
	abandonRun(t, f, "live", time.Now())
	svc := f.service(graphSettings())
	defer svc.Close()

	id, err := svc.Run(context.Background(), domain.RunOptions{})
	assert.ErrorIs(t, err, domain.ErrPipelineRunning)
	assert.Equal(t, "live", id)

	live, err := svc.Status(context.Background(), "live")
	require.NoError(t, err)
	assert.Equal(t, domain.StateSparsifying, live.State)
}

func TestPipelineService_HeartbeatKeepsRunOwned(t *testing.T) {
	const lease = 200 * time.Millisecond
	f := newPipelineFixture()
	hubCorpus(t, f)
	gated := &gatedDocumentStore{DocumentStore: f.docs, gate: make(chan struct{})}
	owner := NewPipelineService(gated, f.edges, f.communities, f.diagnostics, f.runs, graphSettings(), WithRunLease(lease))
	defer owner.Close()
	other := NewPipelineService(f.docs, f.edges, f.communities, f.diagnostics, f.runs, graphSettings(), WithRunLease(lease))
	defer other.Close()
	ctx := context.Background()

	id, err := owner.Run(ctx, domain.RunOptions{})
	require.NoError(t, err)

	time.Sleep(3 * lease)

	again, err := other.Run(ctx, domain.RunOptions{})
	assert.ErrorIs(t, err, domain.ErrPipelineRunning)
	assert.Equal(t, id, again)

	close(gated.gate)
	run, err := owner.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, run.State)
}

func TestPipelineService_ReclaimedRunIsNotReopened(t *testing.T) {
	f := newPipelineFixture()
	hubCorpus(t, f)
	gated := &gatedDocumentStore{DocumentStore: f.docs, gate: make(chan struct{})}
	svc := NewPipelineService(gated, f.edges, f.communities, f.diagnostics, f.runs, graphSettings(),
		WithRunLease(40*time.Millisecond))
	defer svc.Close()
	ctx := context.Background()

	id, err := svc.Run(ctx, domain.RunOptions{})
	require.NoError(t, err)

	expired, err := f.runs.ExpireRun(ctx, id, time.Now().Add(time.Hour), "pipeline interrupted: test")
	require.NoError(t, err)
	require.True(t, expired)

	time.Sleep(100 * time.Millisecond)
	close(gated.gate)

	run, err := svc.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, run.State)
	assert.Equal(t, "pipeline interrupted: test", run.Error)
}
