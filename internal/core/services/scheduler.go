package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
	"github.com/Fortemi/fortemi-sub000/internal/core/ports/driven"
	"github.com/Fortemi/fortemi-sub000/internal/core/ports/driving"
	"github.com/Fortemi/fortemi-sub000/internal/logger"
)

// Ensure MaintenanceScheduler implements the interface.
var _ driving.Scheduler = (*MaintenanceScheduler)(nil)

// MaintenanceScheduler triggers graph maintenance when the graph changes,
// with a safety-net timer for when no change notification arrives.
type MaintenanceScheduler struct {
	config   domain.SchedulerConfig
	store    driven.SchedulerStore
	pipeline driving.PipelineService
	limiter  *rate.Limiter
	notifyCh chan struct{}

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewMaintenanceScheduler creates a scheduler with configuration.
// The store is optional; without it task history is not recorded.
func NewMaintenanceScheduler(
	config domain.SchedulerConfig,
	store driven.SchedulerStore,
	pipeline driving.PipelineService,
) *MaintenanceScheduler {
	limit := rate.Inf
	if config.MinSpacing > 0 {
		limit = rate.Every(config.MinSpacing)
	}
	if config.PollInterval <= 0 {
		config.PollInterval = domain.DefaultSchedulerConfig().PollInterval
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = domain.DefaultSchedulerConfig().HistoryLimit
	}
	return &MaintenanceScheduler{
		config:   config,
		store:    store,
		pipeline: pipeline,
		limiter:  rate.NewLimiter(limit, 1),
		notifyCh: make(chan struct{}, 1),
	}
}

// Notify signals a graph change without blocking. Notifications that
// arrive while one is pending coalesce into it.
func (s *MaintenanceScheduler) Notify() {
	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

// Start begins the scheduler loop. This method blocks until Stop is called
// or ctx is cancelled.
func (s *MaintenanceScheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		logger.Info("Maintenance scheduler disabled")
		return nil
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	if err := s.ensureTask(ctx); err != nil {
		logger.Warn("scheduler: failed to initialise task: %v", err)
	}

	err := s.run(ctx, stopCh)

	// A cancelled context ends the loop without Stop, so release the slot
	// here unless a later Start already owns it.
	s.mu.Lock()
	if s.stopCh == stopCh {
		s.running = false
	}
	s.mu.Unlock()
	return err
}

// Stop gracefully shuts down the scheduler and waits for in-flight triggers.
func (s *MaintenanceScheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// ensureTask creates or refreshes the maintenance task record.
func (s *MaintenanceScheduler) ensureTask(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	task, err := s.store.GetTask(ctx, domain.TaskIDGraphMaintenance)
	if err != nil {
		return err
	}
	if task == nil {
		task = &domain.ScheduledTask{
			ID:   domain.TaskIDGraphMaintenance,
			Name: "Graph Maintenance",
		}
	}
	task.Interval = s.config.PollInterval
	task.Enabled = true
	task.NextRun = time.Now().Add(s.config.PollInterval)
	return s.store.SaveTask(ctx, task)
}

// run is the main scheduler loop.
func (s *MaintenanceScheduler) run(ctx context.Context, stopCh <-chan struct{}) error {
	timer := time.NewTimer(s.config.PollInterval)
	defer timer.Stop()

	deferred := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-stopCh:
			return nil

		case <-s.notifyCh:
			if !s.limiter.Allow() {
				// Serve it once the spacing window has passed.
				if !deferred {
					deferred = true
					resetTimer(timer, s.config.MinSpacing)
				}
				logger.Debug("scheduler: notification deferred by minimum spacing")
				continue
			}
			s.trigger(ctx, domain.TriggerNotify)
			deferred = false
			resetTimer(timer, s.config.PollInterval)

		case <-timer.C:
			trigger := domain.TriggerTimer
			if deferred {
				trigger = domain.TriggerNotify
				deferred = false
			}
			s.trigger(ctx, trigger)
			timer.Reset(s.config.PollInterval)
		}
	}
}

// resetTimer stops, drains and re-arms a timer.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// trigger starts a pipeline run and records its outcome in the background.
func (s *MaintenanceScheduler) trigger(ctx context.Context, trigger string) {
	result := &domain.TaskResult{
		TaskID:    domain.TaskIDGraphMaintenance,
		Trigger:   trigger,
		StartedAt: time.Now(),
	}

	runID, err := s.pipeline.Run(ctx, domain.RunOptions{Trigger: trigger})
	if errors.Is(err, domain.ErrPipelineRunning) {
		logger.Debug("scheduler: %s trigger coalesced into active run %s", trigger, runID)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		recordCtx := context.WithoutCancel(ctx)
		result.RunID = runID

		if err == nil {
			var run *domain.PipelineRun
			run, err = s.pipeline.Wait(ctx, runID)
			if err == nil {
				for _, res := range run.Results {
					result.ItemsProcessed += res.Affected
				}
				if run.State == domain.StateFailed {
					err = errors.New(run.Error)
				}
			}
		}

		result.EndedAt = time.Now()
		result.Success = err == nil
		if err != nil {
			result.Error = err.Error()
			logger.Warn("scheduler: graph maintenance (%s) failed: %v", trigger, err)
		}
		s.record(recordCtx, result)
	}()
}

// record persists the task state and result, pruning old history.
func (s *MaintenanceScheduler) record(ctx context.Context, result *domain.TaskResult) {
	if s.store == nil {
		return
	}

	task, err := s.store.GetTask(ctx, domain.TaskIDGraphMaintenance)
	if err != nil || task == nil {
		task = &domain.ScheduledTask{
			ID:       domain.TaskIDGraphMaintenance,
			Name:     "Graph Maintenance",
			Interval: s.config.PollInterval,
			Enabled:  true,
		}
	}
	task.LastRun = result.StartedAt
	task.NextRun = result.EndedAt.Add(s.config.PollInterval)
	if result.Success {
		task.LastError = ""
		task.LastSuccess = result.EndedAt
	} else {
		task.LastError = result.Error
	}

	if err := s.store.SaveTask(ctx, task); err != nil {
		logger.Warn("scheduler: failed to save task %s: %v", task.ID, err)
	}
	if err := s.store.RecordResult(ctx, result); err != nil {
		logger.Warn("scheduler: failed to record result for %s: %v", task.ID, err)
	}
	if err := s.store.PruneHistory(ctx, s.config.HistoryLimit); err != nil {
		logger.Warn("scheduler: failed to prune history: %v", err)
	}
}
