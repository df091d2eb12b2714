package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hirewire/billing/internal/domain/usage"
	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/hirewire/billing/internal/types"
)

// InMemoryUsageStore implements usage.Repository. IncrementIfBelowLimit runs
// the cap check and the write under one lock, matching the single statement
// guarantee of the postgres implementation.
type InMemoryUsageStore struct {
	mu       sync.RWMutex
	counters map[string]*usage.Counter
}

// NewInMemoryUsageStore creates a new in-memory usage counter store
func NewInMemoryUsageStore() *InMemoryUsageStore {
	return &InMemoryUsageStore{
		counters: make(map[string]*usage.Counter),
	}
}

func counterKey(subscriptionID string, feature types.FeatureCode, windowStart time.Time) string {
	return fmt.Sprintf("%s:%s:%s", subscriptionID, feature, windowStart.UTC().Format(time.RFC3339Nano))
}

func (s *InMemoryUsageStore) IncrementIfBelowLimit(ctx context.Context, q usage.IncrementQuery) (*usage.Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := counterKey(q.SubscriptionID, q.Feature, q.WindowStart)
	counter, exists := s.counters[key]
	if !exists {
		counter = &usage.Counter{
			ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_USAGE_COUNTER),
			SubscriptionID: q.SubscriptionID,
			Feature:        q.Feature,
			WindowStart:    q.WindowStart.UTC(),
			Used:           0,
			BaseModel:      types.GetDefaultBaseModel(ctx),
		}
	}

	if q.Limit > 0 && counter.Used+q.Count > q.Limit {
		return nil, ierr.NewError("usage limit exceeded").
			WithHint("The increment would cross the feature limit").
			WithReportableDetails(map[string]any{
				"subscription_id": q.SubscriptionID,
				"feature":         q.Feature,
				"used":            counter.Used,
				"count":           q.Count,
				"limit":           q.Limit,
			}).
			Mark(ierr.ErrValidation)
	}

	counter.Used += q.Count
	counter.UpdatedAt = time.Now().UTC()
	s.counters[key] = counter
	return counter, nil
}

func (s *InMemoryUsageStore) Get(ctx context.Context, subscriptionID string, feature types.FeatureCode, windowStart time.Time) (*usage.Counter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if counter, exists := s.counters[counterKey(subscriptionID, feature, windowStart)]; exists {
		return counter, nil
	}

	return nil, ierr.NewError("usage counter not found").
		WithHint("No usage has been recorded for this feature in this window").
		WithReportableDetails(map[string]any{
			"subscription_id": subscriptionID,
			"feature":         feature,
		}).
		Mark(ierr.ErrNotFound)
}

func (s *InMemoryUsageStore) ListByWindow(ctx context.Context, subscriptionID string, windowStart time.Time) ([]*usage.Counter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	window := windowStart.UTC()
	var result []*usage.Counter
	for _, counter := range s.counters {
		if counter.SubscriptionID == subscriptionID && counter.WindowStart.Equal(window) {
			result = append(result, counter)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Feature < result[j].Feature
	})

	return result, nil
}

// Clear removes all counters from the store
func (s *InMemoryUsageStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = make(map[string]*usage.Counter)
}
