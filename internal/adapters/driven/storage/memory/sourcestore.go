package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// Ensure SourceStore implements the interface.
var _ driven.SourceStore = (*SourceStore)(nil)

// SourceStore is an in-memory implementation of driven.SourceStore.
type SourceStore struct {
	mu      sync.RWMutex
	sources map[string]domain.Source
}

// NewSourceStore creates a new in-memory source store.
func NewSourceStore() *SourceStore {
	return &SourceStore{
		sources: make(map[string]domain.Source),
	}
}

// Save stores or updates a source.
func (s *SourceStore) Save(_ context.Context, source domain.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[source.ID] = source
	return nil
}

// Get retrieves a source by ID.
func (s *SourceStore) Get(_ context.Context, id string) (*domain.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	source, ok := s.sources[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &source, nil
}

// Delete removes a source.
func (s *SourceStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sources, id)
	return nil
}

// List returns all live sources ordered by creation time.
func (s *SourceStore) List(_ context.Context) ([]domain.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.Source, 0, len(s.sources))
	for _, source := range s.sources {
		if source.IsDeleted() {
			continue
		}
		result = append(result, source)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// FindByExternalID returns live sources matching a provider identifier.
func (s *SourceStore) FindByExternalID(
	_ context.Context, provider domain.ProviderType, externalID string,
) ([]domain.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []domain.Source
	for _, source := range s.sources {
		if source.IsDeleted() || source.Provider != provider || source.ExternalID != externalID {
			continue
		}
		result = append(result, source)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// CompareAndSetStatus moves a source to `to` if its status is one of `from`.
func (s *SourceStore) CompareAndSetStatus(
	_ context.Context, id string, from []domain.SourceStatus, to domain.SourceStatus,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	source, ok := s.sources[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	for _, f := range from {
		if source.Status == f {
			source.Status = to
			source.UpdatedAt = time.Now()
			s.sources[id] = source
			return true, nil
		}
	}
	return false, nil
}
