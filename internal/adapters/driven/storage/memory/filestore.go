package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// Ensure FileStore implements the interface.
var _ driven.FileStore = (*FileStore)(nil)

type fileKey struct {
	sourceID string
	path     string
}

// FileStore is an in-memory implementation of driven.FileStore.
type FileStore struct {
	mu        sync.RWMutex
	files     map[fileKey]domain.FileRecord
	sequences map[fileKey]int64
}

// NewFileStore creates a new in-memory file store.
func NewFileStore() *FileStore {
	return &FileStore{
		files:     make(map[fileKey]domain.FileRecord),
		sequences: make(map[fileKey]int64),
	}
}

// Get returns the record for a path.
func (s *FileStore) Get(_ context.Context, sourceID, path string) (*domain.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.files[fileKey{sourceID, path}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

// Upsert creates or replaces a record.
func (s *FileStore) Upsert(_ context.Context, record domain.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[fileKey{record.SourceID, record.Path}] = record
	return nil
}

// Delete removes a record.
func (s *FileStore) Delete(_ context.Context, sourceID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, fileKey{sourceID, path})
	return nil
}

// DeleteBySource removes every record and ordinal of a source.
func (s *FileStore) DeleteBySource(_ context.Context, sourceID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.files {
		if k.sourceID == sourceID {
			delete(s.files, k)
			n++
		}
	}
	for k := range s.sequences {
		if k.sourceID == sourceID {
			delete(s.sequences, k)
		}
	}
	return n, nil
}

// List returns all records of a source ordered by path.
func (s *FileStore) List(_ context.Context, sourceID string) ([]domain.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []domain.FileRecord
	for k, rec := range s.files {
		if k.sourceID == sourceID {
			result = append(result, rec)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result, nil
}

// LastSequence returns the last applied ordinal for a path.
func (s *FileStore) LastSequence(_ context.Context, sourceID, path string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sequences[fileKey{sourceID, path}], nil
}

// SetSequence records the last applied ordinal for a path.
func (s *FileStore) SetSequence(_ context.Context, sourceID, path string, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequences[fileKey{sourceID, path}] = seq
	return nil
}
