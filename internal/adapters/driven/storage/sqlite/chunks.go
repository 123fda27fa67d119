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

// chunkStore implements driven.ChunkStore.
type chunkStore struct {
	store *Store
}

var _ driven.ChunkStore = (*chunkStore)(nil)

const chunkColumns = `id, tenant_id, source_id, file_path, chunk_index, content_hash, graph_node_id,
	embedding_state, summary, token_count, body_key, purge_at, removed_at, created_at, embedded_at`

// Save creates or updates a chunk record.
func (s *chunkStore) Save(ctx context.Context, c domain.ChunkRecord) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.EmbeddingState == "" {
		c.EmbeddingState = domain.EmbeddingPending
	}
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO chunks (`+chunkColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content_hash = excluded.content_hash,
			graph_node_id = excluded.graph_node_id,
			embedding_state = excluded.embedding_state,
			summary = excluded.summary,
			token_count = excluded.token_count,
			body_key = excluded.body_key,
			purge_at = excluded.purge_at,
			removed_at = excluded.removed_at,
			embedded_at = excluded.embedded_at
	`, c.ID, c.TenantID, c.SourceID, c.FilePath, c.ChunkIndex, c.ContentHash, nullString(c.GraphNodeID),
		string(c.EmbeddingState), nullString(c.Summary), c.TokenCount, nullString(c.BodyKey),
		unixNano(c.PurgeAt), ptrUnixNano(c.RemovedAt), c.CreatedAt.UnixNano(), unixNano(c.EmbeddedAt))
	if err != nil {
		return fmt.Errorf("saving chunk: %w", err)
	}
	return nil
}

// Get returns a chunk by ID.
func (s *chunkStore) Get(ctx context.Context, id string) (*domain.ChunkRecord, error) {
	row := s.store.db.QueryRowContext(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, id)
	c, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return c, err
}

// FindEmbedded returns the oldest live embedded chunk with the same tenant and hash.
func (s *chunkStore) FindEmbedded(ctx context.Context, tenantID, contentHash string) (*domain.ChunkRecord, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT `+chunkColumns+` FROM chunks
		WHERE tenant_id = ? AND content_hash = ? AND embedding_state = ?
			AND graph_node_id IS NOT NULL AND removed_at IS NULL
		ORDER BY created_at LIMIT 1
	`, tenantID, contentHash, string(domain.EmbeddingEmbedded))
	c, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return c, err
}

// ListByFile returns live chunks of a file ordered by index.
func (s *chunkStore) ListByFile(ctx context.Context, sourceID, path string) ([]domain.ChunkRecord, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT `+chunkColumns+` FROM chunks
		WHERE source_id = ? AND file_path = ? AND removed_at IS NULL
		ORDER BY chunk_index
	`, sourceID, path)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.ChunkRecord //nolint:prealloc // size unknown from query
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}
	return chunks, nil
}

// MarkRemovedByFile flags the chunks of a file for downstream removal.
func (s *chunkStore) MarkRemovedByFile(ctx context.Context, sourceID, path string, at time.Time) (int, error) {
	return s.markRemoved(ctx, "source_id = ? AND file_path = ?", at, sourceID, path)
}

// MarkRemovedBySource flags all chunks of a source.
func (s *chunkStore) MarkRemovedBySource(ctx context.Context, sourceID string, at time.Time) (int, error) {
	return s.markRemoved(ctx, "source_id = ?", at, sourceID)
}

// MarkRemovedByTenant flags all chunks of a tenant and returns their body keys.
func (s *chunkStore) MarkRemovedByTenant(ctx context.Context, tenantID string, at time.Time) ([]string, error) {
	var keys []string
	err := s.store.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT body_key FROM chunks
			WHERE tenant_id = ? AND removed_at IS NULL AND body_key IS NOT NULL
			ORDER BY body_key
		`, tenantID)
		if err != nil {
			return err
		}
		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				rows.Close()
				return err
			}
			keys = append(keys, key)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE chunks SET removed_at = ? WHERE tenant_id = ? AND removed_at IS NULL",
			at.UnixNano(), tenantID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("retiring tenant %s: %w", tenantID, err)
	}
	return keys, nil
}

func (s *chunkStore) markRemoved(ctx context.Context, where string, at time.Time, args ...interface{}) (int, error) {
	res, err := s.store.db.ExecContext(ctx,
		"UPDATE chunks SET removed_at = ? WHERE removed_at IS NULL AND "+where,
		append([]interface{}{at.UnixNano()}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("marking chunks removed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	return int(n), nil
}

// FailStalePending moves chunks pending since before the cutoff to failed.
func (s *chunkStore) FailStalePending(ctx context.Context, before time.Time) (int, error) {
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE chunks SET embedding_state = ?
		WHERE embedding_state = ? AND created_at < ?
	`, string(domain.EmbeddingFailed), string(domain.EmbeddingPending), before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failing stale chunks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	return int(n), nil
}

// Stats summarises chunk storage for a tenant.
func (s *chunkStore) Stats(ctx context.Context, tenantID string) (*domain.StorageStats, error) {
	stats := &domain.StorageStats{TenantID: tenantID}
	err := s.store.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN removed_at IS NULL AND embedding_state = 'embedded' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN removed_at IS NULL AND embedding_state IN ('pending', 'processing') THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN removed_at IS NULL AND embedding_state = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN removed_at IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM chunks WHERE tenant_id = ?
	`, tenantID).Scan(&stats.Total, &stats.Embedded, &stats.Pending, &stats.Failed, &stats.Removed)
	if err != nil {
		return nil, fmt.Errorf("computing storage stats: %w", err)
	}
	return stats, nil
}

func scanChunk(row rowScanner) (*domain.ChunkRecord, error) {
	var c domain.ChunkRecord
	var graphNodeID, summary, bodyKey sql.NullString
	var state string
	var purgeAt, removedAt, createdAt, embeddedAt sql.NullInt64
	if err := row.Scan(&c.ID, &c.TenantID, &c.SourceID, &c.FilePath, &c.ChunkIndex, &c.ContentHash,
		&graphNodeID, &state, &summary, &c.TokenCount, &bodyKey, &purgeAt, &removedAt,
		&createdAt, &embeddedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning chunk: %w", err)
	}
	c.GraphNodeID = graphNodeID.String
	c.EmbeddingState = domain.EmbeddingState(state)
	c.Summary = summary.String
	c.BodyKey = bodyKey.String
	c.PurgeAt = fromUnixNano(purgeAt)
	c.RemovedAt = timePtr(removedAt)
	c.CreatedAt = fromUnixNano(createdAt)
	c.EmbeddedAt = fromUnixNano(embeddedAt)
	return &c, nil
}
