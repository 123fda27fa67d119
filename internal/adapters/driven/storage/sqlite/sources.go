package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// sourceStore implements driven.SourceStore.
type sourceStore struct {
	store *Store
}

var _ driven.SourceStore = (*sourceStore)(nil)

const sourceColumns = `id, tenant_id, user_id, provider, name, external_id, config, status,
	last_sync_at, last_error, cursor, webhook, created_at, updated_at, deleted_at`

// Save stores or updates a source.
func (s *sourceStore) Save(ctx context.Context, source domain.Source) error {
	configJSON, err := json.Marshal(source.Config)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	var webhookJSON interface{}
	if source.Webhook != nil {
		b, err := json.Marshal(source.Webhook)
		if err != nil {
			return fmt.Errorf("marshalling webhook: %w", err)
		}
		webhookJSON = string(b)
	}

	now := time.Now().UTC()
	if source.CreatedAt.IsZero() {
		source.CreatedAt = now
	}
	source.UpdatedAt = now
	if source.Status == "" {
		source.Status = domain.SourceStatusPending
	}

	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO sources (`+sourceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			user_id = excluded.user_id,
			provider = excluded.provider,
			name = excluded.name,
			external_id = excluded.external_id,
			config = excluded.config,
			status = excluded.status,
			last_sync_at = excluded.last_sync_at,
			last_error = excluded.last_error,
			cursor = excluded.cursor,
			webhook = excluded.webhook,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at
	`, source.ID, source.TenantID, source.UserID, string(source.Provider), source.Name,
		source.ExternalID, string(configJSON), string(source.Status),
		unixNano(source.LastSyncAt), nullString(source.LastError), nullString(source.Cursor),
		webhookJSON, source.CreatedAt.UnixNano(), source.UpdatedAt.UnixNano(), ptrUnixNano(source.DeletedAt))

	if err != nil {
		return fmt.Errorf("saving source: %w", err)
	}
	return nil
}

// Get retrieves a source by ID.
func (s *sourceStore) Get(ctx context.Context, id string) (*domain.Source, error) {
	row := s.store.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	source, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return source, err
}

// Delete removes a source.
func (s *sourceStore) Delete(ctx context.Context, id string) error {
	_, err := s.store.db.ExecContext(ctx, "DELETE FROM sources WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting source: %w", err)
	}
	return nil
}

// List returns all live sources.
func (s *sourceStore) List(ctx context.Context) ([]domain.Source, error) {
	return s.query(ctx, `SELECT `+sourceColumns+` FROM sources
		WHERE deleted_at IS NULL ORDER BY created_at`)
}

// FindByExternalID returns live sources matching a provider identifier.
func (s *sourceStore) FindByExternalID(
	ctx context.Context, provider domain.ProviderType, externalID string,
) ([]domain.Source, error) {
	return s.query(ctx, `SELECT `+sourceColumns+` FROM sources
		WHERE provider = ? AND external_id = ? AND deleted_at IS NULL ORDER BY id`,
		string(provider), externalID)
}

// CompareAndSetStatus moves a source to `to` if its status is one of `from`.
func (s *sourceStore) CompareAndSetStatus(
	ctx context.Context, id string, from []domain.SourceStatus, to domain.SourceStatus,
) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	args := []interface{}{string(to), time.Now().UTC().UnixNano(), id}
	for _, f := range from {
		args = append(args, string(f))
	}

	res, err := s.store.db.ExecContext(ctx, `
		UPDATE sources SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (`+placeholders(len(from))+`)
	`, args...)
	if err != nil {
		return false, fmt.Errorf("updating source status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	// Distinguish a lost race from a missing source.
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *sourceStore) query(ctx context.Context, query string, args ...interface{}) ([]domain.Source, error) {
	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sources: %w", err)
	}
	defer rows.Close()

	var sources []domain.Source //nolint:prealloc // size unknown from query
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *source)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sources: %w", err)
	}
	return sources, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSource(row rowScanner) (*domain.Source, error) {
	var source domain.Source
	var provider, status, configJSON string
	var lastError, cursor, webhookJSON sql.NullString
	var lastSyncAt, createdAt, updatedAt, deletedAt sql.NullInt64

	if err := row.Scan(&source.ID, &source.TenantID, &source.UserID, &provider, &source.Name,
		&source.ExternalID, &configJSON, &status, &lastSyncAt, &lastError, &cursor, &webhookJSON,
		&createdAt, &updatedAt, &deletedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning source: %w", err)
	}

	if err := json.Unmarshal([]byte(configJSON), &source.Config); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if webhookJSON.Valid && webhookJSON.String != "" {
		var handle domain.WebhookHandle
		if err := json.Unmarshal([]byte(webhookJSON.String), &handle); err != nil {
			return nil, fmt.Errorf("unmarshalling webhook: %w", err)
		}
		source.Webhook = &handle
	}

	source.Provider = domain.ProviderType(provider)
	source.Status = domain.SourceStatus(status)
	source.LastSyncAt = fromUnixNano(lastSyncAt)
	source.LastError = lastError.String
	source.Cursor = cursor.String
	source.CreatedAt = fromUnixNano(createdAt)
	source.UpdatedAt = fromUnixNano(updatedAt)
	source.DeletedAt = timePtr(deletedAt)
	return &source, nil
}
