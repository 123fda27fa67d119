// Package app wires the configured adapters into the core services.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/sercha-sync/internal/adapters/driven/auth"
	"github.com/custodia-labs/sercha-sync/internal/adapters/driven/config/file"
	"github.com/custodia-labs/sercha-sync/internal/adapters/driven/pipeline"
	"github.com/custodia-labs/sercha-sync/internal/adapters/driven/pipeline/local"
	"github.com/custodia-labs/sercha-sync/internal/adapters/driven/storage"
	"github.com/custodia-labs/sercha-sync/internal/adapters/driven/storage/object"
	"github.com/custodia-labs/sercha-sync/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/sercha-sync/internal/adapters/driving/webhook"
	"github.com/custodia-labs/sercha-sync/internal/config"
	"github.com/custodia-labs/sercha-sync/internal/connectors/factory"
	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-sync/internal/core/services"
	"github.com/custodia-labs/sercha-sync/internal/logger"
)

// App holds the wired services of one process.
type App struct {
	cfg *config.Config

	store    *sqlite.Store
	queue    driven.JobQueue
	bodies   driven.BodyStore
	manifest driven.SourceManifest

	Sync      *services.SyncOrchestrator
	Sources   *services.SourceService
	Webhooks  *services.WebhookNormalizer
	Scheduler *services.Scheduler
	Watches   *services.WatchSupervisor
	Server    *webhook.Server

	syncPool    *services.WorkerPool
	processPool *services.WorkerPool
}

// New builds the application from cfg. Nothing runs until Run is called.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	configureLogger(cfg.Log)

	mode, err := cfg.RetentionMode()
	if err != nil {
		return nil, err
	}

	store, err := sqlite.NewStore(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	a := &App{cfg: cfg, store: store}

	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	a.queue, err = storage.BuildJobQueue(cfg.Storage.QueueDSN, driven.QueueOptions{
		Visibility:  cfg.Sync.Lease,
		BackoffBase: cfg.Sync.BackoffBase,
	}, store)
	if err != nil {
		return nil, fmt.Errorf("building job queue: %w", err)
	}

	a.bodies, err = storage.BuildBodyStore(ctx, storage.BodyStoreConfig{
		Mode:    mode,
		TTL:     cfg.Retention.TTL,
		Backend: cfg.Retention.Backend,
		MinIO: object.MinIOConfig{
			Endpoint:  cfg.Retention.MinIO.Endpoint,
			AccessKey: cfg.Retention.MinIO.AccessKey,
			SecretKey: cfg.Retention.MinIO.SecretKey,
			UseSSL:    cfg.Retention.MinIO.UseSSL,
			Bucket:    cfg.Retention.MinIO.Bucket,
		},
		S3: object.S3Config{
			Endpoint:  cfg.Retention.S3.Endpoint,
			AccessKey: cfg.Retention.S3.AccessKey,
			SecretKey: cfg.Retention.S3.SecretKey,
			UseSSL:    cfg.Retention.S3.UseSSL,
			Bucket:    cfg.Retention.S3.Bucket,
			Region:    cfg.Retention.S3.Region,
		},
		PostgresDSN: cfg.Storage.PostgresDSN,
	}, store)
	if err != nil {
		return nil, fmt.Errorf("building body store: %w", err)
	}

	credentials, err := buildCredentials(cfg.Auth)
	if err != nil {
		return nil, err
	}
	connectors := factory.NewDefault(auth.NewFactory(credentials), cfg.Connectors.DownloadTimeout)

	p := cfg.Pipeline
	stage := func(url string) pipeline.Config {
		return pipeline.Config{BaseURL: url, APIKey: p.APIKey, Timeout: p.Timeout}
	}
	var embedder driven.Embedder = pipeline.NewEmbedder(stage(p.EmbedURL))
	if strings.EqualFold(p.Embedder, "ollama") {
		embedder = pipeline.NewOllamaEmbedder(pipeline.OllamaConfig{
			BaseURL: p.OllamaURL,
			Model:   p.OllamaModel,
			Timeout: p.Timeout,
		})
	}

	retention, err := services.NewRetentionSelector(services.RetentionConfig{
		Mode:       mode,
		TTL:        cfg.Retention.TTL,
		StaleAfter: cfg.Retention.StaleAfter,
	}, store.ChunkStore(), a.bodies, embedder, pipeline.NewGraphWriter(stage(p.GraphURL)))
	if err != nil {
		return nil, err
	}

	var normaliser driven.Normaliser = pipeline.NewNormaliser(stage(p.NormalizeURL))
	if strings.EqualFold(p.Normalizer, "local") {
		normaliser = local.NewNormaliser()
	}
	var chunker driven.Chunker = pipeline.NewChunker(stage(p.ChunkURL))
	if strings.EqualFold(p.Chunker, "local") {
		chunker = local.NewChunker(local.WithChunkSize(p.ChunkSize), local.WithOverlap(p.ChunkOverlap))
	}

	processor := services.NewFileProcessor(store.FileStore(), retention, normaliser, chunker)

	a.Sync = services.NewSyncOrchestrator(
		store.SourceStore(),
		store.FileStore(),
		a.queue,
		connectors,
		processor,
		retention,
		services.SyncConfig{
			BatchSize:         cfg.Sync.BatchSize,
			Concurrency:       cfg.Sync.Concurrency,
			MaxAttempts:       cfg.Sync.MaxAttempts,
			HeartbeatInterval: cfg.Sync.Heartbeat,
		},
	)
	a.Sources = services.NewSourceService(store.SourceStore(), a.queue, store.ChunkStore())
	a.Webhooks = services.NewWebhookNormalizer(store.SourceStore(), store.WebhookEventStore(), a.queue, connectors)
	a.Scheduler = services.NewScheduler(cfg.SchedulerTasks(), store.SchedulerStore(), services.SchedulerDeps{
		Sync:         a.Sync,
		Sources:      store.SourceStore(),
		Queue:        a.queue,
		Retention:    retention,
		Webhooks:     a.Webhooks,
		JobRetention: cfg.Scheduler.JobRetention,
	})
	a.Watches = services.NewWatchSupervisor(store.SourceStore(), a.queue, connectors, services.WatchConfig{
		Debounce:    cfg.Watch.Debounce,
		Rescan:      cfg.Watch.Rescan,
		MaxAttempts: cfg.Sync.MaxAttempts,
	})
	a.Server = webhook.NewServer(a.Webhooks, webhook.Config{
		Addr:            cfg.Server.Addr,
		Mode:            cfg.Server.Mode,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	a.syncPool = services.NewWorkerPool(a.queue, a.Sync, domain.QueueSync, cfg.Workers.Sync)
	a.processPool = services.NewWorkerPool(a.queue, a.Sync, domain.QueueProcess, cfg.Workers.Process)
	a.manifest = file.NewSourceManifest(cfg.SourcesPath())

	ok = true
	return a, nil
}

// configureLogger installs the process logger, keeping debug level when
// verbose mode was already switched on.
func configureLogger(cfg config.LogConfig) {
	lc := logger.DefaultConfig()
	if cfg.Level != "" {
		lc.Level = cfg.Level
	}
	if cfg.Format != "" {
		lc.Format = cfg.Format
	}
	lc.File = cfg.File
	if cfg.MaxSizeMB > 0 {
		lc.MaxSizeMB = cfg.MaxSizeMB
	}
	if cfg.MaxBackups > 0 {
		lc.MaxBackups = cfg.MaxBackups
	}
	if cfg.MaxAgeDays > 0 {
		lc.MaxAgeDays = cfg.MaxAgeDays
	}

	verbose := logger.IsVerbose()
	logger.SetDefault(logger.New(lc))
	if verbose {
		logger.SetVerbose(true)
	}
}

// buildCredentials prefers the auth service and falls back to static tokens.
func buildCredentials(cfg config.AuthConfig) (driven.CredentialProvider, error) {
	if cfg.ServiceURL != "" {
		return auth.NewHTTPCredentials(auth.HTTPConfig{
			BaseURL: cfg.ServiceURL,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
		}), nil
	}
	if len(cfg.Tokens) == 0 {
		return auth.NullCredentials{}, nil
	}
	creds, err := auth.NewStaticCredentials(cfg.Tokens)
	if err != nil {
		return nil, fmt.Errorf("auth tokens: %w", err)
	}
	return creds, nil
}

// Declare connects the sources listed in the manifest.
func (a *App) Declare(ctx context.Context) error {
	if a.manifest.Path() == "" {
		return nil
	}
	sources, err := a.manifest.Load()
	if err != nil {
		return fmt.Errorf("loading %s: %w", a.manifest.Path(), err)
	}
	if len(sources) == 0 {
		return nil
	}
	n, err := a.Sync.Declare(ctx, sources, a.cfg.CallbackURL)
	logger.CtxInfo(ctx, "declared %d of %d sources from %s", n, len(sources), a.manifest.Path())
	return err
}

// Run connects manifest sources, then runs the workers, watches, scheduler
// and webhook receiver until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	ctx = logger.WithField(ctx, logger.FieldComponent, "app")
	logger.Section("sercha-sync")
	logger.CtxInfo(ctx, "starting: %d sync workers, %d process workers, retention %s",
		a.cfg.Workers.Sync, a.cfg.Workers.Process, a.cfg.Retention.Mode)

	if err := a.Declare(ctx); err != nil {
		logger.CtxWarn(ctx, "source manifest: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.syncPool.Run(gctx) })
	g.Go(func() error { return a.processPool.Run(gctx) })
	g.Go(func() error { return a.Watches.Run(gctx) })
	g.Go(func() error { return a.Scheduler.Start(gctx) })
	g.Go(func() error { return a.Server.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		return a.Scheduler.Stop()
	})

	err := g.Wait()
	logger.CtxInfo(ctx, "stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the queue, body store and database.
func (a *App) Close() error {
	var errs []error
	if a.queue != nil {
		errs = append(errs, a.queue.Close())
	}
	if c, ok := a.bodies.(interface{ Close() error }); ok {
		errs = append(errs, c.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	errs = append(errs, logger.Sync())
	return errors.Join(errs...)
}
