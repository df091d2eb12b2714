package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/hirewire/billing/internal/domain/events"
	ierr "github.com/hirewire/billing/internal/errors"
)

// InMemoryEventStore implements events.Repository
type InMemoryEventStore struct {
	mu     sync.RWMutex
	events []*events.UsageEvent
}

// NewInMemoryEventStore creates a new in-memory usage event store
func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{}
}

func (s *InMemoryEventStore) InsertEvent(ctx context.Context, event *events.UsageEvent) error {
	return s.BulkInsertEvents(ctx, []*events.UsageEvent{event})
}

func (s *InMemoryEventStore) BulkInsertEvents(ctx context.Context, batch []*events.UsageEvent) error {
	for _, event := range batch {
		if event == nil {
			return ierr.NewError("event cannot be nil").
				WithHint("Event cannot be nil").
				Mark(ierr.ErrValidation)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

func (s *InMemoryEventStore) GetUsageEvents(ctx context.Context, params *events.GetUsageEventsParams) ([]*events.UsageEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*events.UsageEvent
	for _, event := range s.events {
		if event.SubscriptionID != params.SubscriptionID {
			continue
		}
		if params.Feature != "" && event.Feature != params.Feature {
			continue
		}
		if !params.StartTime.IsZero() && event.Timestamp.Before(params.StartTime) {
			continue
		}
		if !params.EndTime.IsZero() && event.Timestamp.After(params.EndTime) {
			continue
		}
		result = append(result, event)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].ID > result[j].ID
		}
		return result[i].Timestamp.After(result[j].Timestamp)
	})

	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// HasEvent checks if an event with the given ID was recorded
func (s *InMemoryEventStore) HasEvent(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, event := range s.events {
		if event.ID == id {
			return true
		}
	}
	return false
}

// EventCount returns the number of recorded events
func (s *InMemoryEventStore) EventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Clear removes all events from the store
func (s *InMemoryEventStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}
