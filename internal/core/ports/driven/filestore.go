package driven

import (
	"context"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

// FileStore persists file records and per-path change ordinals.
type FileStore interface {
	// Get returns the record for a path, or domain.ErrNotFound.
	Get(ctx context.Context, sourceID, path string) (*domain.FileRecord, error)

	// Upsert creates or replaces the record for (source, path).
	Upsert(ctx context.Context, record domain.FileRecord) error

	// Delete removes the record for a path. Missing records are not an error.
	Delete(ctx context.Context, sourceID, path string) error

	// DeleteBySource removes all records of a source and returns the count.
	DeleteBySource(ctx context.Context, sourceID string) (int, error)

	// List returns all records of a source.
	List(ctx context.Context, sourceID string) ([]domain.FileRecord, error)

	// LastSequence returns the last applied change ordinal for a path,
	// surviving deletion of the record itself. Zero when none.
	LastSequence(ctx context.Context, sourceID, path string) (int64, error)

	// SetSequence records the last applied change ordinal for a path.
	SetSequence(ctx context.Context, sourceID, path string, seq int64) error
}
