package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-sync/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// --- Fakes shared by the orchestrator, webhook and retention tests ---

// fakeConnector serves an in-memory file tree.
type fakeConnector struct {
	mu sync.Mutex

	sourceID string
	caps     driven.ConnectorCapabilities
	files    map[string]string
	order    []string
	hashes   map[string]string
	cursor   string

	// rateLimitOn makes the first fetch of a path fail with a rate limit.
	rateLimitOn map[string]bool
	fetchErr    map[string]error
	fetches     map[string]int

	validSignature bool
	parsed         []domain.FileChange
	feed           []domain.FileChange
	feedCursor     string
	feedErr        error
	feedFrom       []string

	// gate, when set, holds every fetch until it is closed or ctx ends.
	gate    chan struct{}
	entered chan struct{}

	setupHandle *domain.WebhookHandle
	setupErr    error
	removed     []string
	closed      int
}

func newFakeConnector(files map[string]string) *fakeConnector {
	c := &fakeConnector{
		caps:           driven.ConnectorCapabilities{SupportsWebhooks: true, SupportsChangeFeed: true},
		files:          map[string]string{},
		hashes:         map[string]string{},
		rateLimitOn:    map[string]bool{},
		fetchErr:       map[string]error{},
		fetches:        map[string]int{},
		validSignature: true,
		cursor:         "cursor-1",
	}
	for p, content := range files {
		c.put(p, content)
	}
	return c
}

func (c *fakeConnector) put(p, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.files[p]; !ok {
		c.order = append(c.order, p)
		sort.Strings(c.order)
	}
	c.files[p] = content
}

func (c *fakeConnector) remove(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.files, p)
	for i, o := range c.order {
		if o == p {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *fakeConnector) fetchCount(p string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetches[p]
}

func (c *fakeConnector) Type() domain.ProviderType { return domain.ProviderGitHub }
func (c *fakeConnector) SourceID() string          { return c.sourceID }
func (c *fakeConnector) Capabilities() driven.ConnectorCapabilities {
	return c.caps
}
func (c *fakeConnector) Validate(_ context.Context) error { return nil }

func (c *fakeConnector) ListFiles(ctx context.Context, _ driven.ListOptions) (<-chan domain.FileInfo, <-chan error) {
	c.mu.Lock()
	infos := make([]domain.FileInfo, 0, len(c.order))
	for _, p := range c.order {
		infos = append(infos, domain.FileInfo{
			Path:        p,
			SizeBytes:   int64(len(c.files[p])),
			ContentHash: c.hashes[p],
		})
	}
	cursor := c.cursor
	c.mu.Unlock()

	files := make(chan domain.FileInfo)
	errs := make(chan error, 1)
	go func() {
		defer close(files)
		defer close(errs)
		for _, info := range infos {
			select {
			case <-ctx.Done():
				return
			case files <- info:
			}
		}
		errs <- &driven.SyncComplete{NewCursor: cursor}
	}()
	return files, errs
}

func (c *fakeConnector) GetFileContent(ctx context.Context, p string) ([]byte, error) {
	if c.gate != nil {
		select {
		case c.entered <- struct{}{}:
		default:
		}
		select {
		case <-c.gate:
		case <-ctx.Done():
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetches[p]++
	if c.rateLimitOn[p] {
		delete(c.rateLimitOn, p)
		return nil, &domain.RateLimitError{Provider: domain.ProviderGitHub, ResetAt: time.Now().Add(time.Minute)}
	}
	if err := c.fetchErr[p]; err != nil {
		return nil, err
	}
	content, ok := c.files[p]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return []byte(content), nil
}

func (c *fakeConnector) SetupWebhook(_ context.Context, callbackURL string) (*domain.WebhookHandle, error) {
	if c.setupErr != nil {
		return nil, c.setupErr
	}
	if c.setupHandle != nil {
		return c.setupHandle, nil
	}
	return &domain.WebhookHandle{ID: "hook-1", Kind: domain.WebhookPush, CallbackURL: callbackURL}, nil
}

func (c *fakeConnector) ValidateWebhook(_ *domain.WebhookRequest) bool {
	return c.validSignature
}

func (c *fakeConnector) ParseWebhook(_ *domain.WebhookRequest) []domain.FileChange {
	return c.parsed
}

func (c *fakeConnector) ListChanges(_ context.Context, cursor string) ([]domain.FileChange, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feedFrom = append(c.feedFrom, cursor)
	if c.feedErr != nil {
		return nil, "", c.feedErr
	}
	return c.feed, c.feedCursor, nil
}

func (c *fakeConnector) RemoveWebhook(_ context.Context, handle domain.WebhookHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = append(c.removed, handle.ID)
	return nil
}

func (c *fakeConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

var (
	_ driven.Connector      = (*fakeConnector)(nil)
	_ driven.ChangeLister   = (*fakeConnector)(nil)
	_ driven.WebhookRemover = (*fakeConnector)(nil)
)

// fakeFactory hands out one connector for every source.
type fakeFactory struct {
	conn       *fakeConnector
	externalID string
	createErr  error
}

func (f *fakeFactory) Create(_ context.Context, source domain.Source) (driven.Connector, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.conn.sourceID = source.ID
	return f.conn, nil
}

func (f *fakeFactory) Register(domain.ProviderType, driven.ConnectorBuilder, driven.SourceIdentifier) {
}

func (f *fakeFactory) Identify(_ domain.ProviderType, _ *domain.WebhookRequest) (string, bool) {
	return f.externalID, f.externalID != ""
}

func (f *fakeFactory) SupportedTypes() []domain.ProviderType {
	return []domain.ProviderType{domain.ProviderGitHub}
}

// recordingPipeline fakes the normalise, chunk, embed and graph services.
// Each file becomes one chunk holding its whole content.
type recordingPipeline struct {
	mu         sync.Mutex
	normalised []string
	chunked    int
	embedded   int
	stored     int
	embedErr   error
	nodes      int
}

func (p *recordingPipeline) Normalise(_ context.Context, req driven.NormaliseRequest) (*driven.NormaliseResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.normalised = append(p.normalised, req.Path)
	return &driven.NormaliseResult{NormalizedText: req.Content}, nil
}

func (p *recordingPipeline) Chunk(_ context.Context, req driven.ChunkRequest) ([]driven.ChunkPiece, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunked++
	return []driven.ChunkPiece{{Index: 0, Text: req.NormalizedText, TokenCount: len(req.NormalizedText)}}, nil
}

func (p *recordingPipeline) Embed(_ context.Context, chunks []driven.ChunkPiece) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.embedded++
	if p.embedErr != nil {
		return nil, p.embedErr
	}
	vectors := make([][]float32, len(chunks))
	for i := range chunks {
		vectors[i] = []float32{1, 2, 3}
	}
	return vectors, nil
}

func (p *recordingPipeline) Store(_ context.Context, chunks []driven.GraphChunk, _ [][]float32) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stored++
	ids := make([]string, len(chunks))
	for i := range chunks {
		p.nodes++
		ids[i] = fmt.Sprintf("node-%d", p.nodes)
	}
	return ids, nil
}

func (p *recordingPipeline) calls() (normalised, chunked, embedded int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.normalised), p.chunked, p.embedded
}

func (p *recordingPipeline) normalisedPaths() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := append([]string(nil), p.normalised...)
	sort.Strings(out)
	return out
}

// syncHarness wires an orchestrator over in-memory stores.
type syncHarness struct {
	sources   *memory.SourceStore
	files     *memory.FileStore
	chunks    *memory.ChunkStore
	bodies    *memory.BodyStore
	events    *memory.WebhookEventStore
	queue     *memory.JobQueue
	conn      *fakeConnector
	factory   *fakeFactory
	pipeline  *recordingPipeline
	retention *RetentionSelector
	processor *FileProcessor
	orch      *SyncOrchestrator
}

func newSyncHarness(t *testing.T, mode domain.RetentionMode, files map[string]string) *syncHarness {
	t.Helper()

	h := &syncHarness{
		sources:  memory.NewSourceStore(),
		files:    memory.NewFileStore(),
		chunks:   memory.NewChunkStore(),
		bodies:   memory.NewBodyStore(),
		events:   memory.NewWebhookEventStore(),
		queue:    memory.NewJobQueue(driven.QueueOptions{PollInterval: 10 * time.Millisecond}),
		conn:     newFakeConnector(files),
		pipeline: &recordingPipeline{},
	}
	h.factory = &fakeFactory{conn: h.conn}
	t.Cleanup(func() { h.queue.Close() })

	retention, err := NewRetentionSelector(
		RetentionConfig{Mode: mode, TTL: time.Hour},
		h.chunks, h.bodies, h.pipeline, h.pipeline)
	require.NoError(t, err)
	h.retention = retention

	h.processor = NewFileProcessor(h.files, retention, h.pipeline, h.pipeline)
	h.orch = h.orchestrator(SyncConfig{})
	return h
}

// orchestrator builds another orchestrator over the harness stores, the
// way a second process would share them.
func (h *syncHarness) orchestrator(cfg SyncConfig) *SyncOrchestrator {
	return NewSyncOrchestrator(h.sources, h.files, h.queue, h.factory, h.processor, h.retention, cfg)
}

// addSource stores a source ready to sync.
func (h *syncHarness) addSource(t *testing.T, cfg domain.SourceConfig) *domain.Source {
	t.Helper()
	src := domain.Source{
		ID:         "src-1",
		TenantID:   "tenant-1",
		Provider:   domain.ProviderGitHub,
		ExternalID: "acme/api",
		Config:     cfg,
		Status:     domain.SourceStatusPending,
	}
	require.NoError(t, h.sources.Save(context.Background(), src))
	return &src
}

// lease enqueues a job and dequeues it the way a worker would.
func (h *syncHarness) lease(t *testing.T, job *domain.SyncJob) *domain.SyncJob {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := h.queue.Enqueue(ctx, job)
	require.NoError(t, err)
	leased, err := h.queue.Dequeue(ctx, job.Queue)
	require.NoError(t, err)
	require.NotNil(t, leased, "job %s was not leased", job.ID)
	return leased
}

// run leases a job, executes it and settles the lease like a worker.
func (h *syncHarness) run(t *testing.T, job *domain.SyncJob) (*domain.SyncJob, error) {
	t.Helper()
	leased := h.lease(t, job)
	runErr := h.orch.RunJob(context.Background(), leased)
	h.settle(t, leased, runErr)
	return leased, runErr
}

// runQueued leases the next process job, which must be id, runs and
// settles it.
func (h *syncHarness) runQueued(t *testing.T, id string) (*domain.SyncJob, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	leased, err := h.queue.Dequeue(ctx, domain.QueueProcess)
	require.NoError(t, err)
	require.NotNil(t, leased, "job %s was not leased", id)
	require.Equal(t, id, leased.ID)
	runErr := h.orch.RunJob(context.Background(), leased)
	h.settle(t, leased, runErr)
	return leased, runErr
}

func (h *syncHarness) settle(t *testing.T, job *domain.SyncJob, runErr error) {
	t.Helper()
	ctx := context.Background()
	if runErr == nil {
		require.NoError(t, h.queue.Ack(ctx, job.ID))
		return
	}
	if wait, ok := domain.RetryAfter(runErr, time.Now()); ok {
		require.NoError(t, h.queue.Defer(ctx, job, time.Now().Add(wait)))
		return
	}
	_, err := h.queue.Fail(ctx, job.ID, runErr)
	require.NoError(t, err)
}

func (h *syncHarness) runFull(t *testing.T) (*domain.SyncJob, error) {
	t.Helper()
	return h.run(t, domain.NewSyncJob(fmt.Sprintf("full-%d", time.Now().UnixNano()), "src-1", domain.JobKindFull))
}
