package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-sync/internal/logger"
)

// WatchConfig tunes the watch supervisor.
type WatchConfig struct {
	// Debounce is how long changes are gathered before a job is enqueued.
	Debounce time.Duration

	// Rescan is how often the source list is re-read to start and stop watches.
	Rescan time.Duration

	// MaxAttempts caps retries of the jobs it enqueues.
	MaxAttempts int
}

// DefaultWatchConfig returns a 2s debounce and a 1m rescan.
func DefaultWatchConfig() WatchConfig {
	return WatchConfig{
		Debounce:    2 * time.Second,
		Rescan:      time.Minute,
		MaxAttempts: domain.DefaultMaxAttempts,
	}
}

type watchEntry struct {
	cancel context.CancelFunc
}

// WatchSupervisor runs in-process watches for sources registered with a
// watch handle and turns their change streams into incremental jobs.
type WatchSupervisor struct {
	sources driven.SourceStore
	queue   driven.JobQueue
	factory driven.ConnectorFactory
	cfg     WatchConfig

	mu      sync.Mutex
	watches map[string]*watchEntry
	wg      sync.WaitGroup
}

// NewWatchSupervisor creates a watch supervisor.
func NewWatchSupervisor(
	sources driven.SourceStore,
	queue driven.JobQueue,
	factory driven.ConnectorFactory,
	cfg WatchConfig,
) *WatchSupervisor {
	def := DefaultWatchConfig()
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.Rescan <= 0 {
		cfg.Rescan = def.Rescan
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	return &WatchSupervisor{
		sources: sources,
		queue:   queue,
		factory: factory,
		cfg:     cfg,
		watches: make(map[string]*watchEntry),
	}
}

// Run watches sources until ctx is cancelled, then flushes pending changes
// and waits for every watch to stop.
func (w *WatchSupervisor) Run(ctx context.Context) error {
	ctx = logger.WithField(ctx, logger.FieldComponent, "watch")

	w.reconcile(ctx)
	ticker := time.NewTicker(w.cfg.Rescan)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			for _, e := range w.watches {
				e.cancel()
			}
			w.mu.Unlock()
			w.wg.Wait()
			return nil
		case <-ticker.C:
			w.reconcile(ctx)
		}
	}
}

// Watching returns the number of active watches.
func (w *WatchSupervisor) Watching() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watches)
}

// reconcile starts watches for new watch sources and stops those whose
// source went away.
func (w *WatchSupervisor) reconcile(ctx context.Context) {
	sources, err := w.sources.List(ctx)
	if err != nil {
		logger.CtxError(ctx, "failed to list sources: %v", err)
		return
	}

	wanted := make(map[string]bool)
	for i := range sources {
		src := sources[i]
		if src.Webhook == nil || src.Webhook.Kind != domain.WebhookWatch {
			continue
		}
		wanted[src.ID] = true

		w.mu.Lock()
		_, running := w.watches[src.ID]
		w.mu.Unlock()
		if running {
			continue
		}
		if err := w.start(ctx, src); err != nil {
			logger.CtxWarn(ctx, "watch for %s not started: %v", src.ID, err)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for id, e := range w.watches {
		if !wanted[id] {
			e.cancel()
		}
	}
}

func (w *WatchSupervisor) start(ctx context.Context, src domain.Source) error {
	conn, err := w.factory.Create(ctx, src)
	if err != nil {
		return fmt.Errorf("create connector: %w", err)
	}
	watcher, ok := conn.(driven.Watcher)
	if !ok {
		conn.Close()
		return fmt.Errorf("%w: %s connector cannot watch", domain.ErrUnsupported, src.Provider)
	}

	watchCtx, cancel := context.WithCancel(logger.WithField(ctx, logger.FieldSourceID, src.ID))
	changes, err := watcher.Watch(watchCtx)
	if err != nil {
		cancel()
		conn.Close()
		return fmt.Errorf("start watch: %w", err)
	}

	entry := &watchEntry{cancel: cancel}
	w.mu.Lock()
	w.watches[src.ID] = entry
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer conn.Close()
		defer func() {
			cancel()
			w.mu.Lock()
			if w.watches[src.ID] == entry {
				delete(w.watches, src.ID)
			}
			w.mu.Unlock()
		}()
		w.drain(watchCtx, src.ID, changes)
	}()

	logger.CtxInfo(watchCtx, "watching source %s", src.ID)
	return nil
}

// drain batches changes for the debounce window and enqueues each batch.
// It returns when the stream closes.
func (w *WatchSupervisor) drain(ctx context.Context, sourceID string, changes <-chan domain.FileChange) {
	var (
		pending []domain.FileChange
		timer   *time.Timer
		fire    <-chan time.Time
	)
	flush := func() {
		if len(pending) > 0 {
			w.enqueue(context.WithoutCancel(ctx), sourceID, pending)
			pending = nil
		}
		fire = nil
	}

	for {
		select {
		case change, ok := <-changes:
			if !ok {
				if timer != nil {
					timer.Stop()
				}
				flush()
				return
			}
			change.Sequence = arrivals.Reserve(time.Now(), 1)
			pending = append(pending, change)
			if fire == nil {
				timer = time.NewTimer(w.cfg.Debounce)
				fire = timer.C
			}
		case <-fire:
			flush()
		}
	}
}

func (w *WatchSupervisor) enqueue(ctx context.Context, sourceID string, changes []domain.FileChange) {
	job := domain.NewSyncJob(uuid.New().String(), sourceID, domain.JobKindIncremental)
	job.MaxAttempts = w.cfg.MaxAttempts
	job.Changes = domain.CollapseChanges(changes)

	id, merged, err := w.queue.EnqueueOrCoalesce(ctx, job)
	if err != nil {
		logger.CtxError(ctx, "failed to enqueue %d watched changes: %v", len(changes), err)
		return
	}
	if merged {
		logger.CtxDebug(ctx, "merged %d watched changes into job %s", len(job.Changes), id)
		return
	}
	logger.CtxInfo(ctx, "enqueued job %s with %d watched changes", id, len(job.Changes))
}
