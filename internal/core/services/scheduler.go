package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-sync/internal/logger"
)

// Ensure Scheduler implements the interface.
var _ driving.Scheduler = (*Scheduler)(nil)

// DefaultJobRetention is how long terminal jobs are kept.
const DefaultJobRetention = 7 * 24 * time.Hour

// historyKeep is the number of results kept per task.
const historyKeep = 100

// SchedulerDeps are the collaborators the built-in tasks act on.
// A nil collaborator disables the tasks that need it.
type SchedulerDeps struct {
	Sync      driving.SyncOrchestrator
	Sources   driven.SourceStore
	Queue     driven.JobQueue
	Retention *RetentionSelector
	Webhooks  driving.WebhookNormalizer

	// JobRetention is how long terminal jobs are kept. Zero uses the default.
	JobRetention time.Duration
}

type taskFunc func(ctx context.Context) (int, error)

// Scheduler manages background task execution.
// It is a pure core service with no external control API.
type Scheduler struct {
	config domain.SchedulerConfig
	store  driven.SchedulerStore
	deps   SchedulerDeps
	tasks  map[string]taskFunc
	names  map[string]string
	tick   time.Duration
	now    func() time.Time

	mu       sync.Mutex
	running  bool
	inflight map[string]bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler with configuration.
func NewScheduler(
	config domain.SchedulerConfig,
	store driven.SchedulerStore,
	deps SchedulerDeps,
) *Scheduler {
	if deps.JobRetention <= 0 {
		deps.JobRetention = DefaultJobRetention
	}
	s := &Scheduler{
		config:   config,
		store:    store,
		deps:     deps,
		tick:     time.Minute,
		now:      time.Now,
		inflight: make(map[string]bool),
	}
	s.tasks = map[string]taskFunc{
		domain.TaskIDTTLSweep:      s.runTTLSweep,
		domain.TaskIDJobCleanup:    s.runJobCleanup,
		domain.TaskIDStaleChunks:   s.runStaleChunks,
		domain.TaskIDPollSync:      s.runPollSync,
		domain.TaskIDWebhookReplay: s.runWebhookReplay,
	}
	s.names = map[string]string{
		domain.TaskIDTTLSweep:      "TTL Sweep",
		domain.TaskIDJobCleanup:    "Job Cleanup",
		domain.TaskIDStaleChunks:   "Stale Chunks",
		domain.TaskIDPollSync:      "Poll Sync",
		domain.TaskIDWebhookReplay: "Webhook Replay",
	}
	return s
}

// Start begins the scheduler loop. This method blocks until Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		logger.CtxInfo(ctx, "scheduler disabled")
		return nil
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil // Already running
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	ctx = logger.WithField(ctx, logger.FieldComponent, "scheduler")
	if err := s.initialiseTasks(ctx); err != nil {
		logger.CtxError(ctx, "failed to initialise tasks: %v", err)
	}

	return s.run(ctx)
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	// Wait for running tasks to complete
	s.wg.Wait()

	return nil
}

// initialiseTasks ensures all configured tasks exist in the store.
func (s *Scheduler) initialiseTasks(ctx context.Context) error {
	for id := range s.tasks {
		taskCfg := s.config.GetTaskConfig(id)
		if !taskCfg.Enabled || taskCfg.Interval <= 0 {
			if err := s.disableTask(ctx, id); err != nil {
				return err
			}
			continue
		}
		if err := s.ensureTask(ctx, id, s.names[id], taskCfg); err != nil {
			return fmt.Errorf("ensure task %s: %w", id, err)
		}
	}
	return nil
}

// ensureTask creates or updates a task in the store.
func (s *Scheduler) ensureTask(ctx context.Context, id, name string, cfg domain.TaskConfig) error {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}

	now := s.now()
	if task == nil {
		task = &domain.ScheduledTask{
			ID:       id,
			Name:     name,
			Interval: cfg.Interval,
			Enabled:  cfg.Enabled,
			NextRun:  now.Add(cfg.Interval),
		}
	} else {
		// Recalculate next run when the interval changed
		if task.Interval != cfg.Interval {
			task.Interval = cfg.Interval
			task.NextRun = now.Add(cfg.Interval)
		}
		task.Enabled = cfg.Enabled
	}

	return s.store.SaveTask(ctx, task)
}

func (s *Scheduler) disableTask(ctx context.Context, id string) error {
	task, err := s.store.GetTask(ctx, id)
	if err != nil || task == nil || !task.Enabled {
		return err
	}
	task.Enabled = false
	return s.store.SaveTask(ctx, task)
}

// run is the main scheduler loop.
func (s *Scheduler) run(ctx context.Context) error {
	// Check for due tasks immediately on startup
	s.checkAndRunDueTasks(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		case <-ticker.C:
			s.checkAndRunDueTasks(ctx)
		}
	}
}

// checkAndRunDueTasks finds and executes tasks that are due.
func (s *Scheduler) checkAndRunDueTasks(ctx context.Context) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		logger.CtxError(ctx, "failed to list tasks: %v", err)
		return
	}

	now := s.now()
	for i := range tasks {
		task := tasks[i]
		if !task.Enabled {
			continue
		}
		if task.NextRun.IsZero() || !task.NextRun.After(now) {
			s.runTask(ctx, &task)
		}
	}
}

// runTask executes a single task unless a previous run is still going.
func (s *Scheduler) runTask(ctx context.Context, task *domain.ScheduledTask) {
	fn, ok := s.tasks[task.ID]
	if !ok {
		logger.CtxWarn(ctx, "unknown task ID: %s", task.ID)
		return
	}

	s.mu.Lock()
	if s.inflight[task.ID] {
		s.mu.Unlock()
		return
	}
	s.inflight[task.ID] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inflight, task.ID)
			s.mu.Unlock()
		}()

		taskCtx := logger.WithField(ctx, logger.FieldTaskID, task.ID)
		result := &domain.TaskResult{
			TaskID:    task.ID,
			StartedAt: s.now(),
		}

		var err error
		result.ItemsProcessed, err = fn(taskCtx)

		result.EndedAt = s.now()
		if err != nil {
			result.Success = false
			result.Error = err.Error()
			task.LastError = err.Error()
			logger.CtxError(taskCtx, "task failed: %v", err)
		} else {
			result.Success = true
			task.LastError = ""
			task.LastSuccess = result.EndedAt
			logger.FromContext(taskCtx).WithFields(logger.Fields{
				logger.FieldCount:      result.ItemsProcessed,
				logger.FieldDurationMs: result.EndedAt.Sub(result.StartedAt).Milliseconds(),
			}).Debug("task finished")
		}

		task.LastRun = result.StartedAt
		task.NextRun = result.EndedAt.Add(task.Interval)

		if saveErr := s.store.SaveTask(taskCtx, task); saveErr != nil {
			logger.CtxError(taskCtx, "failed to save task: %v", saveErr)
		}
		if recordErr := s.store.RecordResult(taskCtx, result); recordErr != nil {
			logger.CtxError(taskCtx, "failed to record result: %v", recordErr)
		}
		if pruneErr := s.store.PruneHistory(taskCtx, historyKeep); pruneErr != nil {
			logger.CtxError(taskCtx, "failed to prune history: %v", pruneErr)
		}
	}()
}

// runTTLSweep deletes retained bodies past their purge time.
func (s *Scheduler) runTTLSweep(ctx context.Context) (int, error) {
	if s.deps.Retention == nil {
		return 0, nil
	}
	return s.deps.Retention.SweepExpired(ctx)
}

// runJobCleanup prunes terminal jobs past the retention window.
func (s *Scheduler) runJobCleanup(ctx context.Context) (int, error) {
	if s.deps.Queue == nil {
		return 0, nil
	}
	return s.deps.Queue.Prune(ctx, s.now().Add(-s.deps.JobRetention))
}

// runStaleChunks fails chunks stuck in pending.
func (s *Scheduler) runStaleChunks(ctx context.Context) (int, error) {
	if s.deps.Retention == nil {
		return 0, nil
	}
	return s.deps.Retention.FailStalePending(ctx)
}

// runPollSync triggers incremental syncs for sources registered for polling.
func (s *Scheduler) runPollSync(ctx context.Context) (int, error) {
	if s.deps.Sync == nil || s.deps.Sources == nil {
		return 0, nil
	}
	sources, err := s.deps.Sources.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sources: %w", err)
	}

	triggered := 0
	for i := range sources {
		src := &sources[i]
		if src.Webhook == nil || src.Webhook.Kind != domain.WebhookPoll {
			continue
		}
		if _, err := s.deps.Sync.Trigger(ctx, src.ID, domain.JobKindIncremental); err != nil {
			logger.CtxWarn(ctx, "poll trigger for %s failed: %v", src.ID, err)
			continue
		}
		triggered++
	}
	return triggered, nil
}

// runWebhookReplay re-enqueues logged events that never became jobs.
func (s *Scheduler) runWebhookReplay(ctx context.Context) (int, error) {
	if s.deps.Webhooks == nil {
		return 0, nil
	}
	return s.deps.Webhooks.Replay(ctx)
}
