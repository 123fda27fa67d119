package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-sync/internal/adapters/driven/storage/queuetest"
	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

const dsnEnv = "SERCHA_SYNC_TEST_POSTGRES_DSN"

func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}
	return dsn
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, `"jobs"`, quoteIdentifier("jobs"))
	assert.Equal(t, `"a""b"`, quoteIdentifier(`a"b`))
}

func TestNewConn_RejectsEmptyDSN(t *testing.T) {
	_, err := newConn("  ")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = NewJobQueue("", driven.QueueOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = NewBodyStore("")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestConn_OpenFailureIsSticky(t *testing.T) {
	c, err := newConn("postgres://example")
	require.NoError(t, err)

	calls := 0
	c.openDB = func(_, _ string) (*sql.DB, error) {
		calls++
		return nil, errors.New("dial refused")
	}

	assert.EqualError(t, c.ensureReady(), "dial refused")
	assert.EqualError(t, c.ensureReady(), "dial refused")
	assert.Equal(t, 1, calls)
	assert.NoError(t, c.close())
}

func TestNullTime(t *testing.T) {
	assert.Nil(t, nullTime(time.Time{}))
	assert.Equal(t, time.Time{}, fromNullTime(sql.NullTime{}))

	now := time.Now()
	assert.Equal(t, now.UTC(), nullTime(now))
}

func TestJobQueue_Conformance(t *testing.T) {
	dsn := testDSN(t)

	queuetest.Run(t, func(t *testing.T, opts driven.QueueOptions) driven.JobQueue {
		q, err := NewJobQueue(dsn, opts)
		require.NoError(t, err)
		require.NoError(t, q.conn.ensureReady())
		_, err = q.conn.db.Exec("TRUNCATE " + q.table)
		require.NoError(t, err)
		t.Cleanup(func() { _ = q.Close() })
		return q
	})
}

func TestBodyStore(t *testing.T) {
	dsn := testDSN(t)
	ctx := context.Background()

	s, err := NewBodyStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	key, err := s.Put(ctx, domain.ChunkBody{TenantID: "t1", ContentHash: "h1", Text: "body"})
	require.NoError(t, err)
	assert.Equal(t, "t1/h1", key)

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "body", got.Text)

	_, err = s.Put(ctx, domain.ChunkBody{
		TenantID: "t1", ContentHash: "h2", Text: "old", PurgeAt: time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)
	_, err = s.Get(ctx, "t1/h2")
	assert.ErrorIs(t, err, domain.ErrBodyUnavailable)

	n, err := s.DeleteExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, domain.ErrBodyUnavailable)
}
