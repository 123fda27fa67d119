package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// BodyStore keeps chunk bodies in PostgreSQL for the full-persistence tier.
type BodyStore struct {
	conn  *conn
	table string
}

var _ driven.BodyStore = (*BodyStore)(nil)

// NewBodyStore creates a body store backed by the database at dsn.
func NewBodyStore(dsn string) (*BodyStore, error) {
	table := quoteIdentifier(bodiesTableName)
	c, err := newConn(dsn, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key          TEXT PRIMARY KEY,
		tenant_id    TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		text         TEXT NOT NULL,
		purge_at     TIMESTAMPTZ
	)`, table))
	if err != nil {
		return nil, err
	}
	return &BodyStore{conn: c, table: table}, nil
}

// Put writes a body keyed by tenant and content hash unless a key is set.
func (s *BodyStore) Put(ctx context.Context, body domain.ChunkBody) (string, error) {
	if err := s.conn.ensureReady(); err != nil {
		return "", err
	}
	if body.Key == "" {
		body.Key = body.TenantID + "/" + body.ContentHash
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	_, err := s.conn.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (key, tenant_id, content_hash, text, purge_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE SET text = EXCLUDED.text, purge_at = EXCLUDED.purge_at`, s.table),
		body.Key, body.TenantID, body.ContentHash, body.Text, nullTime(body.PurgeAt))
	if err != nil {
		return "", fmt.Errorf("saving chunk body: %w", err)
	}
	return body.Key, nil
}

// Get reads a body, treating expired rows as unavailable.
func (s *BodyStore) Get(ctx context.Context, key string) (*domain.ChunkBody, error) {
	if err := s.conn.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var body domain.ChunkBody
	var purgeAt sql.NullTime
	err := s.conn.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT key, tenant_id, content_hash, text, purge_at FROM %s WHERE key = $1`, s.table), key).
		Scan(&body.Key, &body.TenantID, &body.ContentHash, &body.Text, &purgeAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrBodyUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("reading chunk body: %w", err)
	}
	body.PurgeAt = fromNullTime(purgeAt)
	if !body.PurgeAt.IsZero() && !time.Now().Before(body.PurgeAt) {
		return nil, domain.ErrBodyUnavailable
	}
	return &body, nil
}

// Delete removes a body.
func (s *BodyStore) Delete(ctx context.Context, key string) error {
	if err := s.conn.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	if _, err := s.conn.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table), key); err != nil {
		return fmt.Errorf("deleting chunk body: %w", err)
	}
	return nil
}

// DeleteExpired removes bodies whose purge time has passed.
func (s *BodyStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if err := s.conn.ensureReady(); err != nil {
		return 0, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	res, err := s.conn.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE purge_at IS NOT NULL AND purge_at <= $1`, s.table), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired bodies: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Close closes the connection.
func (s *BodyStore) Close() error {
	return s.conn.close()
}
