package services

import (
	"context"
	"fmt"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driving"
)

// Ensure SourceService implements the interface.
var _ driving.SourceService = (*SourceService)(nil)

// defaultJobLimit caps job listings without an explicit limit.
const defaultJobLimit = 50

// SourceService exposes read access to sources, their jobs and storage.
type SourceService struct {
	sourceStore driven.SourceStore
	queue       driven.JobQueue
	chunks      driven.ChunkStore
}

// NewSourceService creates a new source service.
func NewSourceService(
	sourceStore driven.SourceStore,
	queue driven.JobQueue,
	chunks driven.ChunkStore,
) *SourceService {
	return &SourceService{
		sourceStore: sourceStore,
		queue:       queue,
		chunks:      chunks,
	}
}

// Get retrieves a source by ID.
func (s *SourceService) Get(ctx context.Context, id string) (*domain.Source, error) {
	if id == "" {
		return nil, domain.ErrInvalidInput
	}
	return s.sourceStore.Get(ctx, id)
}

// List returns all live sources.
func (s *SourceService) List(ctx context.Context) ([]domain.Source, error) {
	return s.sourceStore.List(ctx)
}

// Jobs returns recent jobs matching the filter, newest first.
func (s *SourceService) Jobs(ctx context.Context, filter domain.JobFilter) ([]domain.SyncJob, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultJobLimit
	}
	jobs, err := s.queue.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Job returns one job by ID.
func (s *SourceService) Job(ctx context.Context, id string) (*domain.SyncJob, error) {
	if id == "" {
		return nil, domain.ErrInvalidInput
	}
	return s.queue.Get(ctx, id)
}

// Stats returns chunk storage stats for a tenant.
func (s *SourceService) Stats(ctx context.Context, tenantID string) (*domain.StorageStats, error) {
	stats, err := s.chunks.Stats(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("chunk stats: %w", err)
	}
	return stats, nil
}
