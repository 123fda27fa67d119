package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// webhookEventStore implements driven.WebhookEventStore.
type webhookEventStore struct {
	store *Store
}

var _ driven.WebhookEventStore = (*webhookEventStore)(nil)

const eventColumns = `id, source_id, provider, event_type, delivery_id, payload, signature_valid,
	processed, processed_at, duplicate_of, job_id, received_at`

// Save appends an event.
func (s *webhookEventStore) Save(ctx context.Context, e domain.WebhookEvent) error {
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO webhook_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, nullString(e.SourceID), string(e.Provider), e.EventType, e.DeliveryID, e.Payload,
		boolToInt(e.SignatureValid), boolToInt(e.Processed), unixNano(e.ProcessedAt),
		nullString(e.DuplicateOf), nullString(e.JobID), e.ReceivedAt.UnixNano())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("saving webhook event: %w", err)
	}
	return nil
}

// Get returns an event by ID.
func (s *webhookEventStore) Get(ctx context.Context, id string) (*domain.WebhookEvent, error) {
	row := s.store.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM webhook_events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return e, err
}

// FindByDelivery returns the latest valid, non-duplicate event for a delivery id.
func (s *webhookEventStore) FindByDelivery(
	ctx context.Context, provider domain.ProviderType, deliveryID string,
) (*domain.WebhookEvent, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM webhook_events
		WHERE provider = ? AND delivery_id = ? AND duplicate_of IS NULL AND signature_valid = 1
		ORDER BY received_at DESC LIMIT 1
	`, string(provider), deliveryID)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return e, err
}

// MarkProcessed sets the processed flag and the job reference.
func (s *webhookEventStore) MarkProcessed(ctx context.Context, id, jobID string, at time.Time) error {
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE webhook_events SET processed = 1, processed_at = ?, job_id = ? WHERE id = ?
	`, at.UnixNano(), nullString(jobID), id)
	if err != nil {
		return fmt.Errorf("marking webhook event processed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns events matching the filter, oldest first.
func (s *webhookEventStore) List(ctx context.Context, filter domain.WebhookEventFilter) ([]domain.WebhookEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM webhook_events WHERE 1 = 1`
	var args []interface{}
	if filter.SourceID != "" {
		query += " AND source_id = ?"
		args = append(args, filter.SourceID)
	}
	if filter.OnlyPending {
		query += " AND processed = 0"
	}
	if !filter.ReceivedAfter.IsZero() {
		query += " AND received_at > ?"
		args = append(args, filter.ReceivedAfter.UnixNano())
	}
	query += " ORDER BY received_at"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying webhook events: %w", err)
	}
	defer rows.Close()

	var events []domain.WebhookEvent //nolint:prealloc // size unknown from query
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating webhook events: %w", err)
	}
	return events, nil
}

func scanEvent(row rowScanner) (*domain.WebhookEvent, error) {
	var e domain.WebhookEvent
	var sourceID, duplicateOf, jobID sql.NullString
	var provider string
	var valid, processed int
	var processedAt, receivedAt sql.NullInt64
	if err := row.Scan(&e.ID, &sourceID, &provider, &e.EventType, &e.DeliveryID, &e.Payload,
		&valid, &processed, &processedAt, &duplicateOf, &jobID, &receivedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning webhook event: %w", err)
	}
	e.SourceID = sourceID.String
	e.Provider = domain.ProviderType(provider)
	e.SignatureValid = valid == 1
	e.Processed = processed == 1
	e.ProcessedAt = fromUnixNano(processedAt)
	e.DuplicateOf = duplicateOf.String
	e.JobID = jobID.String
	e.ReceivedAt = fromUnixNano(receivedAt)
	return &e, nil
}
