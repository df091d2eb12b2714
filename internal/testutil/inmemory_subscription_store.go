package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hirewire/billing/internal/domain/subscription"
	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/hirewire/billing/internal/types"
	"github.com/samber/lo"
)

// InMemorySubscriptionStore implements subscription.Repository. It keeps its
// own map instead of embedding InMemoryStore because CreateIfNoActive and
// UpdateWithVersion are compound operations that must run under one lock.
// Reads hand out copies, matching the row scan semantics of the postgres
// repository: mutating a read subscription never touches the store until
// UpdateWithVersion commits it.
type InMemorySubscriptionStore struct {
	mu    sync.RWMutex
	items map[string]*subscription.Subscription
}

func cloneSubscription(sub *subscription.Subscription) *subscription.Subscription {
	clone := *sub
	return &clone
}

// NewInMemorySubscriptionStore creates a new in-memory subscription store
func NewInMemorySubscriptionStore() *InMemorySubscriptionStore {
	return &InMemorySubscriptionStore{
		items: make(map[string]*subscription.Subscription),
	}
}

// subscriptionFilterFn implements filtering logic for subscriptions
func subscriptionFilterFn(ctx context.Context, sub *subscription.Subscription, filter interface{}) bool {
	if sub == nil {
		return false
	}

	f, ok := filter.(*types.SubscriptionFilter)
	if !ok || f == nil {
		return true // No filter applied
	}

	if f.SubscriberRef != nil && sub.Subscriber() != *f.SubscriberRef {
		return false
	}

	if len(f.PlanIDs) > 0 && !lo.Contains(f.PlanIDs, sub.PlanID) {
		return false
	}

	if len(f.SubscriptionStatus) > 0 && !lo.Contains(f.SubscriptionStatus, sub.SubscriptionStatus) {
		return false
	}

	if f.IsTrial != nil && sub.IsTrial != *f.IsTrial {
		return false
	}

	if f.TimeRangeFilter != nil {
		if f.StartTime != nil && sub.CreatedAt.Before(*f.StartTime) {
			return false
		}
		if f.EndTime != nil && sub.CreatedAt.After(*f.EndTime) {
			return false
		}
	}

	return true
}

func (s *InMemorySubscriptionStore) CreateIfNoActive(ctx context.Context, sub *subscription.Subscription) error {
	if sub == nil {
		return ierr.NewError("subscription cannot be nil").
			WithHint("Subscription cannot be nil").
			Mark(ierr.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[sub.ID]; exists {
		return ierr.NewError("subscription already exists").
			WithHint("A subscription with this identifier already exists").
			WithReportableDetails(map[string]any{"id": sub.ID}).
			Mark(ierr.ErrAlreadyExists)
	}

	ref := sub.Subscriber()
	for _, existing := range s.items {
		if existing.Subscriber() == ref && existing.IsActive() {
			return ierr.NewError("subscriber already has an active subscription").
				WithHint("Only one active subscription per subscriber is allowed").
				WithReportableDetails(map[string]any{
					"subscriber":               ref.String(),
					"existing_subscription_id": existing.ID,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
	}

	s.items[sub.ID] = cloneSubscription(sub)
	return nil
}

func (s *InMemorySubscriptionStore) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub, exists := s.items[id]; exists {
		return cloneSubscription(sub), nil
	}

	return nil, ierr.NewError("subscription not found").
		WithHint("The requested subscription does not exist").
		WithReportableDetails(map[string]any{"id": id}).
		Mark(ierr.ErrNotFound)
}

func (s *InMemorySubscriptionStore) List(ctx context.Context, filter *types.SubscriptionFilter) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*subscription.Subscription
	for _, sub := range s.items {
		if subscriptionFilterFn(ctx, sub, filter) {
			result = append(result, cloneSubscription(sub))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter != nil && !filter.IsUnlimited() {
		start := filter.GetOffset()
		if start >= len(result) {
			return []*subscription.Subscription{}, nil
		}
		end := start + filter.GetLimit()
		if end > len(result) {
			end = len(result)
		}
		return result[start:end], nil
	}

	return result, nil
}

// ListAll returns all matching subscriptions without pagination
func (s *InMemorySubscriptionStore) ListAll(ctx context.Context, filter *types.SubscriptionFilter) ([]*subscription.Subscription, error) {
	unlimitedFilter := &types.SubscriptionFilter{
		QueryFilter:        types.NewNoLimitQueryFilter(),
		TimeRangeFilter:    filter.TimeRangeFilter,
		SubscriberRef:      filter.SubscriberRef,
		PlanIDs:            filter.PlanIDs,
		SubscriptionStatus: filter.SubscriptionStatus,
		IsTrial:            filter.IsTrial,
	}
	return s.List(ctx, unlimitedFilter)
}

func (s *InMemorySubscriptionStore) Count(ctx context.Context, filter *types.SubscriptionFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, sub := range s.items {
		if subscriptionFilterFn(ctx, sub, filter) {
			count++
		}
	}
	return count, nil
}

func (s *InMemorySubscriptionStore) UpdateWithVersion(ctx context.Context, sub *subscription.Subscription, expectedVersion int) error {
	if sub == nil {
		return ierr.NewError("subscription cannot be nil").
			WithHint("Subscription cannot be nil").
			Mark(ierr.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.items[sub.ID]
	if !exists {
		return ierr.NewError("subscription not found").
			WithHint("The requested subscription does not exist").
			WithReportableDetails(map[string]any{"id": sub.ID}).
			Mark(ierr.ErrNotFound)
	}

	if existing.Version != expectedVersion {
		return ierr.NewError("subscription was modified concurrently").
			WithHint("The subscription changed since it was read, retry the operation").
			WithReportableDetails(map[string]any{
				"id":               sub.ID,
				"expected_version": expectedVersion,
				"actual_version":   existing.Version,
			}).
			Mark(ierr.ErrVersionConflict)
	}

	sub.Version = expectedVersion + 1
	s.items[sub.ID] = cloneSubscription(sub)
	return nil
}

func (s *InMemorySubscriptionStore) CountTrials(ctx context.Context, ref types.SubscriberRef) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, sub := range s.items {
		if sub.Subscriber() == ref && sub.HasTrialHistory() {
			count++
		}
	}
	return count, nil
}

func (s *InMemorySubscriptionStore) ListExpiringBefore(ctx context.Context, q subscription.ExpiringBeforeQuery) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*subscription.Subscription
	for _, sub := range s.items {
		if sub.SubscriptionStatus == q.Status && sub.EndDate.Before(q.Cutoff) {
			result = append(result, cloneSubscription(sub))
		}
	}
	sortByEndDate(result)
	return result, nil
}

func (s *InMemorySubscriptionStore) ListDueDowngrades(ctx context.Context, q subscription.DueDowngradesQuery) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*subscription.Subscription
	for _, sub := range s.items {
		if !sub.IsActive() || sub.ScheduledDowngradeDate == nil {
			continue
		}
		if !sub.ScheduledDowngradeDate.After(q.Cutoff) {
			result = append(result, cloneSubscription(sub))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		di, dj := *result[i].ScheduledDowngradeDate, *result[j].ScheduledDowngradeDate
		if di.Equal(dj) {
			return result[i].ID < result[j].ID
		}
		return di.Before(dj)
	})
	return result, nil
}

func (s *InMemorySubscriptionStore) ListExpiringOnDay(ctx context.Context, q subscription.ExpiringOnDayQuery) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	day := q.Day.UTC()
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)

	var result []*subscription.Subscription
	for _, sub := range s.items {
		if !sub.IsActive() {
			continue
		}
		if !sub.EndDate.Before(dayStart) && sub.EndDate.Before(dayEnd) {
			result = append(result, cloneSubscription(sub))
		}
	}
	sortByEndDate(result)
	return result, nil
}

// Clear removes all subscriptions from the store
func (s *InMemorySubscriptionStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]*subscription.Subscription)
}

func sortByEndDate(subs []*subscription.Subscription) {
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].EndDate.Equal(subs[j].EndDate) {
			return subs[i].ID < subs[j].ID
		}
		return subs[i].EndDate.Before(subs[j].EndDate)
	})
}
