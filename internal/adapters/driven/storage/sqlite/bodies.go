package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// bodyStore implements driven.BodyStore for the full-persistence tier.
type bodyStore struct {
	store *Store
}

var _ driven.BodyStore = (*bodyStore)(nil)

// Put writes a body. The key defaults to tenant/hash so identical bodies
// are stored once per tenant.
func (s *bodyStore) Put(ctx context.Context, body domain.ChunkBody) (string, error) {
	if body.Key == "" {
		body.Key = body.TenantID + "/" + body.ContentHash
	}
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO chunk_bodies (key, tenant_id, content_hash, text, purge_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET text = excluded.text, purge_at = excluded.purge_at
	`, body.Key, body.TenantID, body.ContentHash, body.Text, unixNano(body.PurgeAt))
	if err != nil {
		return "", fmt.Errorf("saving chunk body: %w", err)
	}
	return body.Key, nil
}

// Get reads a body.
func (s *bodyStore) Get(ctx context.Context, key string) (*domain.ChunkBody, error) {
	var body domain.ChunkBody
	var purgeAt sql.NullInt64
	err := s.store.db.QueryRowContext(ctx, `
		SELECT key, tenant_id, content_hash, text, purge_at FROM chunk_bodies WHERE key = ?
	`, key).Scan(&body.Key, &body.TenantID, &body.ContentHash, &body.Text, &purgeAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrBodyUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("reading chunk body: %w", err)
	}
	body.PurgeAt = fromUnixNano(purgeAt)
	if !body.PurgeAt.IsZero() && !time.Now().Before(body.PurgeAt) {
		return nil, domain.ErrBodyUnavailable
	}
	return &body, nil
}

// Delete removes a body.
func (s *bodyStore) Delete(ctx context.Context, key string) error {
	if _, err := s.store.db.ExecContext(ctx, "DELETE FROM chunk_bodies WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting chunk body: %w", err)
	}
	return nil
}

// DeleteExpired removes bodies with a purge time before now.
func (s *bodyStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.store.db.ExecContext(ctx,
		"DELETE FROM chunk_bodies WHERE purge_at IS NOT NULL AND purge_at <= ?", now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("deleting expired bodies: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	return int(n), nil
}
