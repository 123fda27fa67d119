package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// fileStore implements driven.FileStore.
type fileStore struct {
	store *Store
}

var _ driven.FileStore = (*fileStore)(nil)

const fileColumns = `source_id, path, content_hash, provider_hash, size_bytes, language,
	last_modified, last_indexed_at, sequence`

// Get returns the record for a path.
func (s *fileStore) Get(ctx context.Context, sourceID, path string) (*domain.FileRecord, error) {
	row := s.store.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE source_id = ? AND path = ?`, sourceID, path)
	rec, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return rec, err
}

// Upsert creates or replaces the record for (source, path).
func (s *fileStore) Upsert(ctx context.Context, rec domain.FileRecord) error {
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO files (`+fileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id, path) DO UPDATE SET
			content_hash = excluded.content_hash,
			provider_hash = excluded.provider_hash,
			size_bytes = excluded.size_bytes,
			language = excluded.language,
			last_modified = excluded.last_modified,
			last_indexed_at = excluded.last_indexed_at,
			sequence = excluded.sequence
	`, rec.SourceID, rec.Path, rec.ContentHash, rec.ProviderHash, rec.SizeBytes, rec.Language,
		unixNano(rec.LastModified), unixNano(rec.LastIndexedAt), rec.Sequence)
	if err != nil {
		return fmt.Errorf("saving file %s: %w", rec.Path, err)
	}
	return nil
}

// Delete removes the record for a path.
func (s *fileStore) Delete(ctx context.Context, sourceID, path string) error {
	_, err := s.store.db.ExecContext(ctx,
		"DELETE FROM files WHERE source_id = ? AND path = ?", sourceID, path)
	if err != nil {
		return fmt.Errorf("deleting file %s: %w", path, err)
	}
	return nil
}

// DeleteBySource removes all records and ordinals of a source.
func (s *fileStore) DeleteBySource(ctx context.Context, sourceID string) (int, error) {
	var n int64
	err := s.store.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM files WHERE source_id = ?", sourceID)
		if err != nil {
			return err
		}
		if n, err = res.RowsAffected(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM path_sequences WHERE source_id = ?", sourceID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("deleting files of source %s: %w", sourceID, err)
	}
	return int(n), nil
}

// List returns all records of a source ordered by path.
func (s *fileStore) List(ctx context.Context, sourceID string) ([]domain.FileRecord, error) {
	rows, err := s.store.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE source_id = ? ORDER BY path`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("querying files: %w", err)
	}
	defer rows.Close()

	var files []domain.FileRecord //nolint:prealloc // size unknown from query
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating files: %w", err)
	}
	return files, nil
}

// LastSequence returns the last applied ordinal for a path.
func (s *fileStore) LastSequence(ctx context.Context, sourceID, path string) (int64, error) {
	var seq int64
	err := s.store.db.QueryRowContext(ctx,
		"SELECT sequence FROM path_sequences WHERE source_id = ? AND path = ?", sourceID, path).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading sequence: %w", err)
	}
	return seq, nil
}

// SetSequence records the last applied ordinal for a path.
func (s *fileStore) SetSequence(ctx context.Context, sourceID, path string, seq int64) error {
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO path_sequences (source_id, path, sequence) VALUES (?, ?, ?)
		ON CONFLICT(source_id, path) DO UPDATE SET sequence = excluded.sequence
	`, sourceID, path, seq)
	if err != nil {
		return fmt.Errorf("saving sequence: %w", err)
	}
	return nil
}

func scanFile(row rowScanner) (*domain.FileRecord, error) {
	var rec domain.FileRecord
	var lastModified, lastIndexed sql.NullInt64
	if err := row.Scan(&rec.SourceID, &rec.Path, &rec.ContentHash, &rec.ProviderHash, &rec.SizeBytes,
		&rec.Language, &lastModified, &lastIndexed, &rec.Sequence); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning file: %w", err)
	}
	rec.LastModified = fromUnixNano(lastModified)
	rec.LastIndexedAt = fromUnixNano(lastIndexed)
	return &rec, nil
}
