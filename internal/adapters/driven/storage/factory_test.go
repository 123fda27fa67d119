package storage

import (
	"context"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-sync/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/sercha-sync/internal/adapters/driven/storage/postgres"
	"github.com/custodia-labs/sercha-sync/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

func newLocal(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBuildJobQueue(t *testing.T) {
	local := newLocal(t)
	opts := driven.DefaultQueueOptions()

	tests := []struct {
		name string
		dsn  string
		want interface{}
	}{
		{"empty uses local", "", &sqlite.JobQueue{}},
		{"sqlite scheme uses local", "sqlite://", &sqlite.JobQueue{}},
		{"memory", "memory://", &memory.JobQueue{}},
		{"postgres", "postgres://user@localhost/db", &postgres.JobQueue{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := BuildJobQueue(tt.dsn, opts, local)
			require.NoError(t, err)
			assert.IsType(t, tt.want, q)
		})
	}
}

func TestBuildJobQueue_SeparateSQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	q, err := BuildJobQueue("sqlite://"+path, driven.DefaultQueueOptions(), nil)
	require.NoError(t, err)
	assert.IsType(t, &ownedQueue{}, q)

	id, err := q.Enqueue(context.Background(), domain.NewSyncJob("", "s1", domain.JobKindFull))
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.NoError(t, q.Close())
}

func TestBuildJobQueue_Errors(t *testing.T) {
	_, err := BuildJobQueue("", driven.DefaultQueueOptions(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = BuildJobQueue("kafka://broker", driven.DefaultQueueOptions(), nil)
	assert.ErrorIs(t, err, domain.ErrUnsupportedType)
}

func TestBuildBodyStore(t *testing.T) {
	ctx := context.Background()
	local := newLocal(t)

	store, err := BuildBodyStore(ctx, BodyStoreConfig{Mode: domain.RetentionEphemeral}, local)
	require.NoError(t, err)
	assert.Nil(t, store)

	store, err = BuildBodyStore(ctx, BodyStoreConfig{Mode: domain.RetentionFullPersistence}, local)
	require.NoError(t, err)
	assert.NotNil(t, store)

	store, err = BuildBodyStore(ctx, BodyStoreConfig{
		Mode: domain.RetentionTTLStore, Backend: "memory", TTL: time.Hour,
	}, nil)
	require.NoError(t, err)
	key, err := store.Put(ctx, domain.ChunkBody{TenantID: "t", ContentHash: "h", Text: "x"})
	require.NoError(t, err)
	body, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, body.PurgeAt.IsZero())

	_, err = BuildBodyStore(ctx, BodyStoreConfig{Mode: domain.RetentionTTLStore, Backend: "tape"}, nil)
	assert.ErrorIs(t, err, domain.ErrUnsupportedType)

	_, err = BuildBodyStore(ctx, BodyStoreConfig{Mode: domain.RetentionFullPersistence}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestDSNPath(t *testing.T) {
	assert.Equal(t, "/tmp/q.db", dsnPath(mustParse(t, "sqlite:///tmp/q.db"), "sqlite:///tmp/q.db"))
	assert.Equal(t, "data/q.db", dsnPath(mustParse(t, "sqlite:data/q.db"), "sqlite:data/q.db"))
	assert.Equal(t, "q.db", dsnPath(mustParse(t, "q.db"), "q.db"))
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}
