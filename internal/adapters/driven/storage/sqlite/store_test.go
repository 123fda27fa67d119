package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-sync/internal/adapters/driven/storage/queuetest"
	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "sercha-sync-test-*")
	require.NoError(t, err)

	store, err := NewStore(tempDir)
	require.NoError(t, err)
	require.NotNil(t, store)

	cleanup := func() {
		assert.NoError(t, store.Close())
		assert.NoError(t, os.RemoveAll(tempDir))
	}

	return store, cleanup
}

func TestNewStore_ErrorHandling(t *testing.T) {
	_, err := NewStore("/invalid\x00path")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "creating data directory")
}

func TestNewStore_Success(t *testing.T) {
	tempDir := t.TempDir()

	store, err := NewStore(tempDir)
	require.NoError(t, err)
	defer store.Close()

	dbPath := filepath.Join(tempDir, "sync.db")
	assert.Equal(t, dbPath, store.Path())
	assert.FileExists(t, dbPath)
	assert.NoError(t, store.db.Ping())
}

func TestNewStore_Migrations(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	var count int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 1, count)

	tables := []string{
		"sources", "files", "path_sequences", "jobs", "webhook_events",
		"chunks", "chunk_bodies", "scheduled_tasks", "task_results",
	}
	for _, table := range tables {
		var exists int
		err := store.db.QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&exists)
		require.NoError(t, err)
		assert.Equal(t, 1, exists, "table %s should exist", table)
	}
}

func TestNewStore_ReopenSkipsAppliedMigrations(t *testing.T) {
	tempDir := t.TempDir()

	store, err := NewStore(tempDir)
	require.NoError(t, err)
	require.NoError(t, store.SourceStore().Save(context.Background(), domain.Source{ID: "s1", Provider: domain.ProviderLocal}))
	require.NoError(t, store.Close())

	store, err = NewStore(tempDir)
	require.NoError(t, err)
	defer store.Close()

	src, err := store.SourceStore().Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderLocal, src.Provider)
}

// ==================== SourceStore Tests ====================

func TestSourceStore_SaveAndGet(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	sources := store.SourceStore()

	handle := &domain.WebhookHandle{ID: "hook-1", Kind: domain.WebhookPush, CallbackURL: "https://x/webhooks/github"}
	source := domain.Source{
		ID:         "src-1",
		TenantID:   "t1",
		UserID:     "u1",
		Provider:   domain.ProviderGitHub,
		Name:       "api",
		ExternalID: "acme/api",
		Config: domain.SourceConfig{
			ExcludePaths:  []string{"*.md"},
			Branch:        "main",
			WebhookSecret: "s3cret",
			Settings:      map[string]string{"repository": "acme/api"},
		},
		Status:  domain.SourceStatusSynced,
		Cursor:  "abc123",
		Webhook: handle,
	}
	require.NoError(t, sources.Save(ctx, source))

	got, err := sources.Get(ctx, "src-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderGitHub, got.Provider)
	assert.Equal(t, "acme/api", got.ExternalID)
	assert.Equal(t, []string{"*.md"}, got.Config.ExcludePaths)
	assert.Equal(t, "acme/api", got.Setting("repository", ""))
	assert.Equal(t, "abc123", got.Cursor)
	require.NotNil(t, got.Webhook)
	assert.Equal(t, "hook-1", got.Webhook.ID)
	assert.Nil(t, got.DeletedAt)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = sources.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSourceStore_SoftDeleteAndLookup(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	sources := store.SourceStore()

	require.NoError(t, sources.Save(ctx, domain.Source{ID: "a", Provider: domain.ProviderGitHub, ExternalID: "acme/api"}))
	require.NoError(t, sources.Save(ctx, domain.Source{ID: "b", Provider: domain.ProviderGitHub, ExternalID: "acme/api"}))

	now := time.Now()
	b, err := sources.Get(ctx, "b")
	require.NoError(t, err)
	b.DeletedAt = &now
	require.NoError(t, sources.Save(ctx, *b))

	list, err := sources.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].ID)

	found, err := sources.FindByExternalID(ctx, domain.ProviderGitHub, "acme/api")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "a", found[0].ID)
}

func TestSourceStore_CompareAndSetStatus(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	sources := store.SourceStore()

	require.NoError(t, sources.Save(ctx, domain.Source{ID: "s1", Provider: domain.ProviderLocal}))
	from := []domain.SourceStatus{domain.SourceStatusPending, domain.SourceStatusSynced, domain.SourceStatusError}

	ok, err := sources.CompareAndSetStatus(ctx, "s1", from, domain.SourceStatusSyncing)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = sources.CompareAndSetStatus(ctx, "s1", from, domain.SourceStatusSyncing)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = sources.CompareAndSetStatus(ctx, "missing", from, domain.SourceStatusSyncing)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// ==================== FileStore Tests ====================

func TestFileStore_Lifecycle(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	files := store.FileStore()

	rec := domain.FileRecord{
		SourceID: "s1", Path: "src/a.go", ContentHash: "h1", ProviderHash: "blob1",
		SizeBytes: 12, Language: "go", LastIndexedAt: time.Now(), Sequence: 3,
	}
	require.NoError(t, files.Upsert(ctx, rec))
	require.NoError(t, files.Upsert(ctx, domain.FileRecord{SourceID: "s1", Path: "README.md"}))

	got, err := files.Get(ctx, "s1", "src/a.go")
	require.NoError(t, err)
	assert.Equal(t, "blob1", got.ProviderHash)
	assert.Equal(t, int64(3), got.Sequence)

	list, err := files.List(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "README.md", list[0].Path)

	require.NoError(t, files.SetSequence(ctx, "s1", "src/a.go", 9))
	require.NoError(t, files.Delete(ctx, "s1", "src/a.go"))
	_, err = files.Get(ctx, "s1", "src/a.go")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	seq, err := files.LastSequence(ctx, "s1", "src/a.go")
	require.NoError(t, err)
	assert.Equal(t, int64(9), seq)

	n, err := files.DeleteBySource(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	seq, err = files.LastSequence(ctx, "s1", "src/a.go")
	require.NoError(t, err)
	assert.Zero(t, seq)
}

// ==================== WebhookEventStore Tests ====================

func TestWebhookEventStore_Lifecycle(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	events := store.WebhookEventStore()
	now := time.Now()

	require.NoError(t, events.Save(ctx, domain.WebhookEvent{
		ID: "e1", SourceID: "s1", Provider: domain.ProviderGitHub, EventType: "push",
		DeliveryID: "d1", Payload: []byte(`{"ref":"refs/heads/main"}`), SignatureValid: true, ReceivedAt: now,
	}))
	require.NoError(t, events.Save(ctx, domain.WebhookEvent{
		ID: "e2", SourceID: "s1", Provider: domain.ProviderGitHub, DeliveryID: "d1",
		SignatureValid: true, DuplicateOf: "e1", ReceivedAt: now.Add(time.Second),
	}))
	require.NoError(t, events.Save(ctx, domain.WebhookEvent{
		ID: "orphan", Provider: domain.ProviderGitHub, DeliveryID: "d2", ReceivedAt: now.Add(2 * time.Second),
	}))
	assert.ErrorIs(t, events.Save(ctx, domain.WebhookEvent{ID: "e1", Provider: domain.ProviderGitHub}), domain.ErrAlreadyExists)

	found, err := events.FindByDelivery(ctx, domain.ProviderGitHub, "d1")
	require.NoError(t, err)
	assert.Equal(t, "e1", found.ID)
	assert.Equal(t, `{"ref":"refs/heads/main"}`, string(found.Payload))

	require.NoError(t, events.MarkProcessed(ctx, "e1", "job-1", now))
	got, err := events.Get(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, got.Processed)
	assert.Equal(t, "job-1", got.JobID)

	pending, err := events.List(ctx, domain.WebhookEventFilter{OnlyPending: true})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "e2", pending[0].ID)
	assert.True(t, pending[1].IsOrphan())

	require.NoError(t, events.Save(ctx, domain.WebhookEvent{
		ID: "e3", SourceID: "s1", Provider: domain.ProviderGitHub, DeliveryID: "d1",
		SignatureValid: true, ReceivedAt: now.Add(3 * time.Second),
	}))
	found, err = events.FindByDelivery(ctx, domain.ProviderGitHub, "d1")
	require.NoError(t, err)
	assert.Equal(t, "e3", found.ID)
}

// ==================== ChunkStore Tests ====================

func TestChunkStore_DedupAndRemoval(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	chunks := store.ChunkStore()
	now := time.Now()

	require.NoError(t, chunks.Save(ctx, domain.ChunkRecord{
		ID: "c1", TenantID: "t1", SourceID: "s1", FilePath: "a.go", ChunkIndex: 0,
		ContentHash: "h", EmbeddingState: domain.EmbeddingEmbedded, GraphNodeID: "n1", BodyKey: "t1/h",
	}))
	require.NoError(t, chunks.Save(ctx, domain.ChunkRecord{
		ID: "c2", TenantID: "t1", SourceID: "s1", FilePath: "a.go", ChunkIndex: 1,
		ContentHash: "h2", CreatedAt: now.Add(-48 * time.Hour),
	}))

	found, err := chunks.FindEmbedded(ctx, "t1", "h")
	require.NoError(t, err)
	assert.Equal(t, "n1", found.GraphNodeID)
	_, err = chunks.FindEmbedded(ctx, "t2", "h")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list, err := chunks.ListByFile(ctx, "s1", "a.go")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 0, list[0].ChunkIndex)

	n, err := chunks.FailStalePending(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	keys, err := chunks.MarkRemovedByTenant(ctx, "t1", now)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1/h"}, keys)

	_, err = chunks.FindEmbedded(ctx, "t1", "h")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	stats, err := chunks.Stats(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Removed)
	assert.Zero(t, stats.Embedded)
}

// ==================== BodyStore Tests ====================

func TestBodyStore_PutGetExpire(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	bodies := store.BodyStore()

	key, err := bodies.Put(ctx, domain.ChunkBody{TenantID: "t1", ContentHash: "h", Text: "func main() {}"})
	require.NoError(t, err)
	assert.Equal(t, "t1/h", key)

	body, err := bodies.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "func main() {}", body.Text)

	_, err = bodies.Put(ctx, domain.ChunkBody{Key: "old", Text: "x", PurgeAt: time.Now().Add(-time.Minute)})
	require.NoError(t, err)
	_, err = bodies.Get(ctx, "old")
	assert.ErrorIs(t, err, domain.ErrBodyUnavailable)

	n, err := bodies.DeleteExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, bodies.Delete(ctx, key))
	_, err = bodies.Get(ctx, key)
	assert.ErrorIs(t, err, domain.ErrBodyUnavailable)
}

// ==================== JobQueue Tests ====================

func TestJobQueue_Conformance(t *testing.T) {
	queuetest.Run(t, func(t *testing.T, opts driven.QueueOptions) driven.JobQueue {
		store, err := NewStore(t.TempDir())
		require.NoError(t, err)
		q := store.JobQueue(opts)
		t.Cleanup(func() {
			_ = q.Close()
			_ = store.Close()
		})
		return q
	})
}

func TestJobQueue_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewStore(dir)
	require.NoError(t, err)
	job := domain.NewSyncJob("", "s1", domain.JobKindIncremental)
	job.Changes = []domain.FileChange{{Path: "a.go", Kind: domain.ChangeModified, Sequence: 5, Cursor: "c1"}}
	id, err := store.JobQueue(queuetest.Options).Enqueue(ctx, job)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = NewStore(dir)
	require.NoError(t, err)
	defer store.Close()

	q := store.JobQueue(queuetest.Options)
	dctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	got, err := q.Dequeue(dctx, domain.QueueProcess)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, got.ID)
	require.Len(t, got.Changes, 1)
	assert.Equal(t, "c1", got.Changes[0].Cursor)
}
