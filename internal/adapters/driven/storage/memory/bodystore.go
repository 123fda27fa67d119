package memory

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// Ensure BodyStore implements the interface.
var _ driven.BodyStore = (*BodyStore)(nil)

// BodyStore is an in-memory chunk body store. Bodies with a purge time
// become unreadable once it passes, mirroring an object-store lifecycle rule.
type BodyStore struct {
	mu     sync.RWMutex
	bodies map[string]domain.ChunkBody
	now    func() time.Time
}

// NewBodyStore creates a new in-memory body store.
func NewBodyStore() *BodyStore {
	return &BodyStore{
		bodies: make(map[string]domain.ChunkBody),
		now:    time.Now,
	}
}

// SetClock replaces the time source. Used by tests.
func (s *BodyStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Put stores a body keyed by tenant and content hash.
func (s *BodyStore) Put(_ context.Context, body domain.ChunkBody) (string, error) {
	if body.Key == "" {
		body.Key = body.TenantID + "/" + body.ContentHash
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies[body.Key] = body
	return body.Key, nil
}

// Get returns a body or domain.ErrBodyUnavailable.
func (s *BodyStore) Get(_ context.Context, key string) (*domain.ChunkBody, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bodies[key]
	if !ok {
		return nil, domain.ErrBodyUnavailable
	}
	if !b.PurgeAt.IsZero() && !s.now().Before(b.PurgeAt) {
		return nil, domain.ErrBodyUnavailable
	}
	return &b, nil
}

// Delete removes a body.
func (s *BodyStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bodies, key)
	return nil
}

// DeleteExpired removes bodies whose purge time has passed.
func (s *BodyStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, b := range s.bodies {
		if !b.PurgeAt.IsZero() && !now.Before(b.PurgeAt) {
			delete(s.bodies, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored bodies.
func (s *BodyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bodies)
}
