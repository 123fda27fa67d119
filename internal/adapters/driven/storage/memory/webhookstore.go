package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// Ensure WebhookEventStore implements the interface.
var _ driven.WebhookEventStore = (*WebhookEventStore)(nil)

// WebhookEventStore is an in-memory webhook event log.
type WebhookEventStore struct {
	mu     sync.RWMutex
	events []domain.WebhookEvent
}

// NewWebhookEventStore creates a new in-memory event log.
func NewWebhookEventStore() *WebhookEventStore {
	return &WebhookEventStore{}
}

// Save appends an event.
func (s *WebhookEventStore) Save(_ context.Context, event domain.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.ID == event.ID {
			return domain.ErrAlreadyExists
		}
	}
	s.events = append(s.events, event)
	return nil
}

// Get returns an event by ID.
func (s *WebhookEventStore) Get(_ context.Context, id string) (*domain.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.events {
		if e.ID == id {
			return &e, nil
		}
	}
	return nil, domain.ErrNotFound
}

// FindByDelivery returns the latest non-duplicate event for a delivery id.
func (s *WebhookEventStore) FindByDelivery(
	_ context.Context, provider domain.ProviderType, deliveryID string,
) (*domain.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if e.Provider == provider && e.DeliveryID == deliveryID && e.DuplicateOf == "" && e.SignatureValid {
			return &e, nil
		}
	}
	return nil, domain.ErrNotFound
}

// MarkProcessed sets the processed flag.
func (s *WebhookEventStore) MarkProcessed(_ context.Context, id, jobID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == id {
			s.events[i].Processed = true
			s.events[i].ProcessedAt = at
			s.events[i].JobID = jobID
			return nil
		}
	}
	return domain.ErrNotFound
}

// List returns matching events, oldest first.
func (s *WebhookEventStore) List(_ context.Context, filter domain.WebhookEventFilter) ([]domain.WebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []domain.WebhookEvent
	for _, e := range s.events {
		if filter.SourceID != "" && e.SourceID != filter.SourceID {
			continue
		}
		if filter.OnlyPending && e.Processed {
			continue
		}
		if !filter.ReceivedAfter.IsZero() && !e.ReceivedAt.After(filter.ReceivedAfter) {
			continue
		}
		result = append(result, e)
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].ReceivedAt.Before(result[j].ReceivedAt) })
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}
