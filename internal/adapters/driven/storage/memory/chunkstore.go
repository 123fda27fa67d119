package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// Ensure ChunkStore implements the interface.
var _ driven.ChunkStore = (*ChunkStore)(nil)

// ChunkStore is an in-memory implementation of driven.ChunkStore.
type ChunkStore struct {
	mu     sync.RWMutex
	chunks map[string]domain.ChunkRecord
}

// NewChunkStore creates a new in-memory chunk store.
func NewChunkStore() *ChunkStore {
	return &ChunkStore{
		chunks: make(map[string]domain.ChunkRecord),
	}
}

// Save creates or updates a chunk record.
func (s *ChunkStore) Save(_ context.Context, chunk domain.ChunkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[chunk.ID] = chunk
	return nil
}

// Get returns a chunk by ID.
func (s *ChunkStore) Get(_ context.Context, id string) (*domain.ChunkRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chunks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

// FindEmbedded returns a live embedded chunk with the same tenant and hash.
func (s *ChunkStore) FindEmbedded(_ context.Context, tenantID, contentHash string) (*domain.ChunkRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *domain.ChunkRecord
	for _, c := range s.chunks {
		if c.TenantID != tenantID || c.ContentHash != contentHash || c.RemovedAt != nil || !c.IsEmbedded() {
			continue
		}
		if found == nil || c.CreatedAt.Before(found.CreatedAt) {
			cp := c
			found = &cp
		}
	}
	if found == nil {
		return nil, domain.ErrNotFound
	}
	return found, nil
}

// ListByFile returns live chunks of a file ordered by index.
func (s *ChunkStore) ListByFile(_ context.Context, sourceID, path string) ([]domain.ChunkRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []domain.ChunkRecord
	for _, c := range s.chunks {
		if c.SourceID == sourceID && c.FilePath == path && c.RemovedAt == nil {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ChunkIndex < result[j].ChunkIndex })
	return result, nil
}

func (s *ChunkStore) markRemoved(match func(domain.ChunkRecord) bool, at time.Time) []domain.ChunkRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var marked []domain.ChunkRecord
	for id, c := range s.chunks {
		if c.RemovedAt != nil || !match(c) {
			continue
		}
		ts := at
		c.RemovedAt = &ts
		s.chunks[id] = c
		marked = append(marked, c)
	}
	return marked
}

// MarkRemovedByFile flags the chunks of a file.
func (s *ChunkStore) MarkRemovedByFile(_ context.Context, sourceID, path string, at time.Time) (int, error) {
	marked := s.markRemoved(func(c domain.ChunkRecord) bool {
		return c.SourceID == sourceID && c.FilePath == path
	}, at)
	return len(marked), nil
}

// MarkRemovedBySource flags all chunks of a source.
func (s *ChunkStore) MarkRemovedBySource(_ context.Context, sourceID string, at time.Time) (int, error) {
	marked := s.markRemoved(func(c domain.ChunkRecord) bool {
		return c.SourceID == sourceID
	}, at)
	return len(marked), nil
}

// MarkRemovedByTenant flags all chunks of a tenant and returns their body keys.
func (s *ChunkStore) MarkRemovedByTenant(_ context.Context, tenantID string, at time.Time) ([]string, error) {
	marked := s.markRemoved(func(c domain.ChunkRecord) bool {
		return c.TenantID == tenantID
	}, at)
	var keys []string
	for _, c := range marked {
		if c.BodyKey != "" {
			keys = append(keys, c.BodyKey)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// FailStalePending moves old pending chunks to failed.
func (s *ChunkStore) FailStalePending(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, c := range s.chunks {
		if c.EmbeddingState == domain.EmbeddingPending && c.CreatedAt.Before(before) {
			c.EmbeddingState = domain.EmbeddingFailed
			s.chunks[id] = c
			n++
		}
	}
	return n, nil
}

// Stats summarises chunk storage for a tenant.
func (s *ChunkStore) Stats(_ context.Context, tenantID string) (*domain.StorageStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &domain.StorageStats{TenantID: tenantID}
	for _, c := range s.chunks {
		if c.TenantID != tenantID {
			continue
		}
		stats.Total++
		if c.RemovedAt != nil {
			stats.Removed++
			continue
		}
		switch c.EmbeddingState {
		case domain.EmbeddingEmbedded:
			stats.Embedded++
		case domain.EmbeddingPending, domain.EmbeddingProcessing:
			stats.Pending++
		case domain.EmbeddingFailed:
			stats.Failed++
		}
	}
	return stats, nil
}
