package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

func TestChunkStore_FindEmbedded(t *testing.T) {
	store := NewChunkStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, domain.ChunkRecord{
		ID: "c1", TenantID: "t1", ContentHash: "h", EmbeddingState: domain.EmbeddingPending,
	}))
	_, err := store.FindEmbedded(ctx, "t1", "h")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, store.Save(ctx, domain.ChunkRecord{
		ID: "c2", TenantID: "t1", ContentHash: "h", EmbeddingState: domain.EmbeddingEmbedded, GraphNodeID: "n1",
	}))
	found, err := store.FindEmbedded(ctx, "t1", "h")
	require.NoError(t, err)
	assert.Equal(t, "n1", found.GraphNodeID)

	// Other tenants never share embeddings.
	_, err = store.FindEmbedded(ctx, "t2", "h")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestChunkStore_MarkRemoved(t *testing.T) {
	store := NewChunkStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Save(ctx, domain.ChunkRecord{ID: "c1", TenantID: "t1", SourceID: "s1", FilePath: "a.go"}))
	require.NoError(t, store.Save(ctx, domain.ChunkRecord{ID: "c2", TenantID: "t1", SourceID: "s1", FilePath: "b.go", BodyKey: "k2"}))
	require.NoError(t, store.Save(ctx, domain.ChunkRecord{ID: "c3", TenantID: "t1", SourceID: "s2", FilePath: "a.go", BodyKey: "k3"}))

	n, err := store.MarkRemovedByFile(ctx, "s1", "a.go", now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	chunks, err := store.ListByFile(ctx, "s1", "a.go")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	n, err = store.MarkRemovedBySource(ctx, "s1", now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	keys, err := store.MarkRemovedByTenant(ctx, "t1", now)
	require.NoError(t, err)
	assert.Equal(t, []string{"k3"}, keys)

	stats, err := store.Stats(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.Removed)
}

func TestChunkStore_FailStalePending(t *testing.T) {
	store := NewChunkStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Save(ctx, domain.ChunkRecord{
		ID: "old", TenantID: "t1", EmbeddingState: domain.EmbeddingPending, CreatedAt: now.Add(-48 * time.Hour),
	}))
	require.NoError(t, store.Save(ctx, domain.ChunkRecord{
		ID: "new", TenantID: "t1", EmbeddingState: domain.EmbeddingPending, CreatedAt: now,
	}))

	n, err := store.FailStalePending(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := store.Stats(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Pending)
}

func TestBodyStore_Expiry(t *testing.T) {
	store := NewBodyStore()
	ctx := context.Background()
	now := time.Now()
	store.SetClock(func() time.Time { return now })

	key, err := store.Put(ctx, domain.ChunkBody{TenantID: "t1", ContentHash: "h", Text: "body", PurgeAt: now.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, "t1/h", key)

	body, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "body", body.Text)

	store.SetClock(func() time.Time { return now.Add(2 * time.Hour) })
	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, domain.ErrBodyUnavailable)

	n, err := store.DeleteExpired(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, store.Len())
}
