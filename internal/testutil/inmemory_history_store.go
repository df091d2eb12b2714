package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/hirewire/billing/internal/domain/subscription"
	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/hirewire/billing/internal/types"
)

// InMemoryHistoryStore implements subscription.HistoryRepository
type InMemoryHistoryStore struct {
	mu               sync.RWMutex
	renewals         []*subscription.Renewal
	upgrades         []*subscription.Upgrade
	downgrades       map[string]*subscription.Downgrade
	cancellations    []*subscription.Cancellation
	trialConversions []*subscription.TrialConversion
}

// NewInMemoryHistoryStore creates a new in-memory lifecycle record store
func NewInMemoryHistoryStore() *InMemoryHistoryStore {
	return &InMemoryHistoryStore{
		downgrades: make(map[string]*subscription.Downgrade),
	}
}

func (s *InMemoryHistoryStore) CreateRenewal(ctx context.Context, renewal *subscription.Renewal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renewals = append(s.renewals, renewal)
	return nil
}

func (s *InMemoryHistoryStore) CreateUpgrade(ctx context.Context, upgrade *subscription.Upgrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upgrades = append(s.upgrades, upgrade)
	return nil
}

func (s *InMemoryHistoryStore) CreateDowngrade(ctx context.Context, downgrade *subscription.Downgrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.downgrades[downgrade.ID]; exists {
		return ierr.NewError("downgrade already exists").
			WithHint("A downgrade record with this identifier already exists").
			WithReportableDetails(map[string]any{"id": downgrade.ID}).
			Mark(ierr.ErrAlreadyExists)
	}

	s.downgrades[downgrade.ID] = downgrade
	return nil
}

func (s *InMemoryHistoryStore) CreateCancellation(ctx context.Context, cancellation *subscription.Cancellation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancellations = append(s.cancellations, cancellation)
	return nil
}

func (s *InMemoryHistoryStore) CreateTrialConversion(ctx context.Context, conversion *subscription.TrialConversion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trialConversions = append(s.trialConversions, conversion)
	return nil
}

func (s *InMemoryHistoryStore) GetDowngrade(ctx context.Context, id string) (*subscription.Downgrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if downgrade, exists := s.downgrades[id]; exists {
		return downgrade, nil
	}

	return nil, ierr.NewError("downgrade not found").
		WithHint("The requested downgrade record does not exist").
		WithReportableDetails(map[string]any{"id": id}).
		Mark(ierr.ErrNotFound)
}

func (s *InMemoryHistoryStore) MarkDowngradeApplied(ctx context.Context, id string, appliedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	downgrade, exists := s.downgrades[id]
	if !exists {
		return ierr.NewError("downgrade not found").
			WithHint("The requested downgrade record does not exist").
			WithReportableDetails(map[string]any{"id": id}).
			Mark(ierr.ErrNotFound)
	}

	if downgrade.Applied {
		return nil
	}

	downgrade.Applied = true
	downgrade.AppliedAt = &appliedAt
	return nil
}

func (s *InMemoryHistoryStore) CountRenewals(ctx context.Context, tf types.Timeframe) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, renewal := range s.renewals {
		if tf.Contains(renewal.CreatedAt) {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryHistoryStore) GetBySubscription(ctx context.Context, subscriptionID string) (*subscription.History, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := &subscription.History{}
	for _, renewal := range s.renewals {
		if renewal.SubscriptionID == subscriptionID {
			history.Renewals = append(history.Renewals, renewal)
		}
	}
	for _, upgrade := range s.upgrades {
		if upgrade.SubscriptionID == subscriptionID {
			history.Upgrades = append(history.Upgrades, upgrade)
		}
	}
	for _, downgrade := range s.downgrades {
		if downgrade.SubscriptionID == subscriptionID {
			history.Downgrades = append(history.Downgrades, downgrade)
		}
	}
	for _, cancellation := range s.cancellations {
		if cancellation.SubscriptionID == subscriptionID {
			history.Cancellations = append(history.Cancellations, cancellation)
		}
	}
	for _, conversion := range s.trialConversions {
		if conversion.SubscriptionID == subscriptionID {
			history.TrialConversions = append(history.TrialConversions, conversion)
		}
	}

	return history, nil
}

// Clear removes all lifecycle records from the store
func (s *InMemoryHistoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renewals = nil
	s.upgrades = nil
	s.downgrades = make(map[string]*subscription.Downgrade)
	s.cancellations = nil
	s.trialConversions = nil
}
