package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-sync/internal/logger"
)

// Ensure SyncOrchestrator implements the interface.
var _ driving.SyncOrchestrator = (*SyncOrchestrator)(nil)

// SyncConfig tunes job execution.
type SyncConfig struct {
	// BatchSize is the number of files processed between progress checkpoints.
	BatchSize int

	// Concurrency bounds the file pipelines running at once within a job.
	Concurrency int

	// MaxAttempts caps retries of new jobs.
	MaxAttempts int

	// HeartbeatInterval is how often a running job extends its lease.
	HeartbeatInterval time.Duration
}

// DefaultSyncConfig returns batches of 10 with 10 concurrent files.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		BatchSize:         10,
		Concurrency:       10,
		MaxAttempts:       domain.DefaultMaxAttempts,
		HeartbeatInterval: time.Minute,
	}
}

// activeRun tracks a job executing in this process.
type activeRun struct {
	jobID   string
	stopped atomic.Bool
	done    chan struct{}

	mu       sync.Mutex
	progress domain.JobProgress
}

// stop flags the run. Files already in flight finish, nothing new starts.
func (r *activeRun) stop() {
	r.stopped.Store(true)
}

func (r *activeRun) record(outcome fileOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch outcome {
	case outcomeProcessed:
		r.progress.FilesProcessed++
	case outcomeUnchanged, outcomeSkipped:
		r.progress.FilesSkipped++
	case outcomeDeleted:
		r.progress.FilesDeleted++
	}
}

func (r *activeRun) recordError() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress.Errors++
}

func (r *activeRun) setTotal(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress.FilesTotal = n
}

func (r *activeRun) snapshot() domain.JobProgress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// SyncOrchestrator coordinates source synchronisation.
type SyncOrchestrator struct {
	sources   driven.SourceStore
	files     driven.FileStore
	queue     driven.JobQueue
	factory   driven.ConnectorFactory
	processor *FileProcessor
	retention *RetentionSelector
	cfg       SyncConfig
	now       func() time.Time

	mu     sync.Mutex
	active map[string]*activeRun
}

// NewSyncOrchestrator creates a new sync orchestrator.
func NewSyncOrchestrator(
	sources driven.SourceStore,
	files driven.FileStore,
	queue driven.JobQueue,
	factory driven.ConnectorFactory,
	processor *FileProcessor,
	retention *RetentionSelector,
	cfg SyncConfig,
) *SyncOrchestrator {
	def := DefaultSyncConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	return &SyncOrchestrator{
		sources:   sources,
		files:     files,
		queue:     queue,
		factory:   factory,
		processor: processor,
		retention: retention,
		cfg:       cfg,
		now:       time.Now,
		active:    make(map[string]*activeRun),
	}
}

// Connect validates and stores a new source, registers its webhook and
// enqueues the initial full sync.
func (o *SyncOrchestrator) Connect(ctx context.Context, source domain.Source, callbackURL string) (*domain.Source, error) {
	if source.Provider == "" {
		return nil, fmt.Errorf("%w: provider is required", domain.ErrInvalidInput)
	}
	if source.ID == "" {
		source.ID = uuid.New().String()
	}
	now := o.now()
	source.Status = domain.SourceStatusPending
	source.CreatedAt = now
	source.UpdatedAt = now
	source.DeletedAt = nil

	conn, err := o.factory.Create(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("create connector: %w", err)
	}
	defer conn.Close()

	if err := conn.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validate source: %w", err)
	}
	if ident, ok := conn.(driven.ExternalIdentifier); ok && source.ExternalID == "" {
		source.ExternalID = ident.ExternalID()
	}

	if callbackURL != "" || !conn.Capabilities().SupportsWebhooks {
		handle, err := conn.SetupWebhook(ctx, callbackURL)
		switch {
		case err == nil:
			source.Webhook = handle
		case errors.Is(err, domain.ErrUnsupported):
		default:
			logger.CtxWarn(ctx, "webhook setup failed for source %s, changes will only sync on demand: %v", source.ID, err)
		}
	}

	if err := o.sources.Save(ctx, source); err != nil {
		return nil, fmt.Errorf("save source: %w", err)
	}

	job := o.newJob(source.ID, domain.JobKindFull)
	job.IdempotencyKey = "initial:" + source.ID
	if _, err := o.queue.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue initial sync: %w", err)
	}

	logger.CtxInfo(ctx, "connected %s source %s", source.Provider, source.ID)
	return &source, nil
}

// Declare connects declared sources that do not exist yet and refreshes the
// name and config of live ones. A source disconnected earlier stays
// disconnected. One failing source does not stop the others.
func (o *SyncOrchestrator) Declare(
	ctx context.Context,
	sources []domain.Source,
	callbackURL func(domain.ProviderType) string,
) (int, error) {
	connected := 0
	var errs []error
	for _, decl := range sources {
		existing, err := o.sources.Get(ctx, decl.ID)
		switch {
		case err == nil:
			if existing.IsDeleted() {
				logger.CtxDebug(ctx, "declared source %s was disconnected, skipping", decl.ID)
				continue
			}
			if existing.Provider != decl.Provider {
				errs = append(errs, fmt.Errorf("%w: source %s is %s, declared %s",
					domain.ErrInvalidInput, decl.ID, existing.Provider, decl.Provider))
				continue
			}
			existing.Name = decl.Name
			existing.Config = decl.Config
			existing.UpdatedAt = o.now()
			if err := o.sources.Save(ctx, *existing); err != nil {
				errs = append(errs, fmt.Errorf("update source %s: %w", decl.ID, err))
			}
		case errors.Is(err, domain.ErrNotFound):
			callback := ""
			if callbackURL != nil {
				callback = callbackURL(decl.Provider)
			}
			if _, err := o.Connect(ctx, decl, callback); err != nil {
				errs = append(errs, fmt.Errorf("connect source %s: %w", decl.ID, err))
				continue
			}
			connected++
		default:
			errs = append(errs, fmt.Errorf("get source %s: %w", decl.ID, err))
		}
	}
	return connected, errors.Join(errs...)
}

// Disconnect soft-deletes a source, discards its queued jobs, stops and
// waits for its active run, tears down the webhook and removes its files.
func (o *SyncOrchestrator) Disconnect(ctx context.Context, sourceID string) error {
	source, err := o.sources.Get(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("get source: %w", err)
	}
	if source.IsDeleted() {
		return nil
	}

	now := o.now()
	source.DeletedAt = &now
	source.UpdatedAt = now
	if err := o.sources.Save(ctx, *source); err != nil {
		return fmt.Errorf("save source: %w", err)
	}

	if n, err := o.queue.DiscardQueued(ctx, sourceID, domain.ErrSourceDisconnected.Error()); err != nil {
		logger.CtxWarn(ctx, "failed to discard queued jobs for %s: %v", sourceID, err)
	} else if n > 0 {
		logger.CtxInfo(ctx, "discarded %d queued jobs for %s", n, sourceID)
	}

	o.mu.Lock()
	run := o.active[sourceID]
	o.mu.Unlock()
	if run != nil {
		run.stop()
		select {
		case <-run.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	o.teardownWebhook(ctx, source)

	if _, err := o.files.DeleteBySource(ctx, sourceID); err != nil {
		return fmt.Errorf("delete file records: %w", err)
	}
	if _, err := o.retention.RemoveSource(ctx, sourceID); err != nil {
		return fmt.Errorf("remove chunks: %w", err)
	}

	logger.CtxInfo(ctx, "disconnected source %s", sourceID)
	return nil
}

func (o *SyncOrchestrator) teardownWebhook(ctx context.Context, source *domain.Source) {
	if source.Webhook == nil || source.Webhook.Kind != domain.WebhookPush {
		return
	}
	conn, err := o.factory.Create(ctx, *source)
	if err != nil {
		logger.CtxWarn(ctx, "webhook teardown skipped for %s: %v", source.ID, err)
		return
	}
	defer conn.Close()

	remover, ok := conn.(driven.WebhookRemover)
	if !ok {
		return
	}
	if err := remover.RemoveWebhook(ctx, *source.Webhook); err != nil {
		logger.CtxWarn(ctx, "webhook teardown failed for %s: %v", source.ID, err)
	}
}

// Trigger enqueues a sync for a source. Incremental triggers read the
// connector's change feed and coalesce with a queued incremental job.
func (o *SyncOrchestrator) Trigger(ctx context.Context, sourceID string, kind domain.JobKind) (string, error) {
	source, err := o.sources.Get(ctx, sourceID)
	if err != nil {
		return "", fmt.Errorf("get source: %w", err)
	}
	if source.IsDeleted() {
		return "", domain.ErrSourceDisconnected
	}

	job := o.newJob(sourceID, kind)
	switch kind {
	case domain.JobKindFull:
		id, err := o.queue.Enqueue(ctx, job)
		if err != nil {
			return "", fmt.Errorf("enqueue full sync: %w", err)
		}
		return id, nil
	case domain.JobKindIncremental:
		job.UseChangeFeed = true
		id, merged, err := o.queue.EnqueueOrCoalesce(ctx, job)
		if err != nil {
			return "", fmt.Errorf("enqueue incremental sync: %w", err)
		}
		if merged {
			logger.CtxDebug(ctx, "incremental trigger for %s merged into %s", sourceID, id)
		}
		return id, nil
	default:
		return "", fmt.Errorf("%w: cannot trigger %s job", domain.ErrInvalidInput, kind)
	}
}

// Retry enqueues a new job carrying the work of a failed job.
func (o *SyncOrchestrator) Retry(ctx context.Context, jobID string) (string, error) {
	failed, err := o.queue.Get(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("get job: %w", err)
	}
	if failed.Status != domain.JobStatusFailed {
		return "", fmt.Errorf("%w: job %s is %s", domain.ErrInvalidTransition, jobID, failed.Status)
	}
	source, err := o.sources.Get(ctx, failed.SourceID)
	if err != nil {
		return "", fmt.Errorf("get source: %w", err)
	}
	if source.IsDeleted() {
		return "", domain.ErrSourceDisconnected
	}

	job := o.newJob(failed.SourceID, failed.Kind)
	job.Changes = failed.Changes
	job.UseChangeFeed = failed.UseChangeFeed
	job.Paths = failed.Paths
	id, err := o.queue.Enqueue(ctx, job)
	if err != nil {
		return "", fmt.Errorf("enqueue retry: %w", err)
	}
	return id, nil
}

// Status returns the sync status for a source with live progress.
func (o *SyncOrchestrator) Status(ctx context.Context, sourceID string) (*driving.SyncStatus, error) {
	source, err := o.sources.Get(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("get source: %w", err)
	}
	status := &driving.SyncStatus{
		SourceID:   sourceID,
		State:      source.Status,
		LastSyncAt: source.LastSyncAt,
		LastError:  source.LastError,
	}

	o.mu.Lock()
	run := o.active[sourceID]
	o.mu.Unlock()
	if run != nil {
		status.Running = true
		status.JobID = run.jobID
		status.Progress = run.snapshot()
		return status, nil
	}

	jobs, err := o.queue.List(ctx, domain.JobFilter{SourceID: sourceID, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	if len(jobs) > 0 {
		status.JobID = jobs[0].ID
		status.Progress = jobs[0].Progress
		status.Running = jobs[0].Status == domain.JobStatusRunning
	}
	return status, nil
}

// Reprocess re-embeds a chunk from its retained body. Without a body the
// chunk's file is queued for a single-file job whose ID is returned.
func (o *SyncOrchestrator) Reprocess(ctx context.Context, chunkID string) (string, error) {
	chunk, err := o.retention.Chunk(ctx, chunkID)
	if err != nil {
		return "", fmt.Errorf("get chunk: %w", err)
	}

	err = o.retention.Reembed(ctx, chunkID)
	if err == nil {
		logger.CtxInfo(ctx, "re-embedded chunk %s from retained body", chunkID)
		return "", nil
	}
	if !errors.Is(err, domain.ErrBodyUnavailable) {
		return "", fmt.Errorf("re-embed chunk: %w", err)
	}

	source, err := o.sources.Get(ctx, chunk.SourceID)
	if err != nil {
		return "", fmt.Errorf("get source: %w", err)
	}
	if source.IsDeleted() {
		return "", domain.ErrSourceDisconnected
	}

	job := o.newJob(chunk.SourceID, domain.JobKindSingleFile)
	job.Paths = []string{chunk.FilePath}
	job.IdempotencyKey = "reprocess:" + chunk.SourceID + ":" + chunk.FilePath
	id, err := o.queue.Enqueue(ctx, job)
	if err != nil {
		return "", fmt.Errorf("enqueue reprocess: %w", err)
	}
	return id, nil
}

func (o *SyncOrchestrator) newJob(sourceID string, kind domain.JobKind) *domain.SyncJob {
	job := domain.NewSyncJob(uuid.New().String(), sourceID, kind)
	job.MaxAttempts = o.cfg.MaxAttempts
	return job
}
