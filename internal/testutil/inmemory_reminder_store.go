package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hirewire/billing/internal/domain/reminder"
	ierr "github.com/hirewire/billing/internal/errors"
)

// InMemoryReminderStore implements reminder.Repository. The dedupe index
// mirrors the unique constraint of the postgres reminders table.
type InMemoryReminderStore struct {
	mu       sync.RWMutex
	items    map[string]*reminder.Reminder
	byDedupe map[string]*reminder.Reminder
}

// NewInMemoryReminderStore creates a new in-memory reminder store
func NewInMemoryReminderStore() *InMemoryReminderStore {
	return &InMemoryReminderStore{
		items:    make(map[string]*reminder.Reminder),
		byDedupe: make(map[string]*reminder.Reminder),
	}
}

func (s *InMemoryReminderStore) Create(ctx context.Context, r *reminder.Reminder) error {
	if r == nil {
		return ierr.NewError("reminder cannot be nil").
			WithHint("Reminder cannot be nil").
			Mark(ierr.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := r.DedupeKey()
	if _, exists := s.byDedupe[key]; exists {
		return ierr.NewError("reminder already sent").
			WithHint("This reminder was already sent today").
			WithReportableDetails(map[string]any{
				"subscription_id": r.SubscriptionID,
				"days_before":     r.DaysBefore,
				"sent_on":         reminder.DateOf(r.SentOn),
			}).
			Mark(ierr.ErrAlreadyExists)
	}

	s.items[r.ID] = r
	s.byDedupe[key] = r
	return nil
}

func (s *InMemoryReminderStore) Exists(ctx context.Context, subscriptionID string, daysBefore int, sentOn time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.byDedupe[reminder.DedupeKey(subscriptionID, daysBefore, sentOn)]
	return exists, nil
}

func (s *InMemoryReminderStore) ListBySubscription(ctx context.Context, subscriptionID string) ([]*reminder.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*reminder.Reminder
	for _, r := range s.items {
		if r.SubscriptionID == subscriptionID {
			result = append(result, r)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].SentAt.Equal(result[j].SentAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].SentAt.Before(result[j].SentAt)
	})

	return result, nil
}

// Clear removes all reminders from the store
func (s *InMemoryReminderStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]*reminder.Reminder)
	s.byDedupe = make(map[string]*reminder.Reminder)
}
