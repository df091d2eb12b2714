package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/hirewire/billing/internal/domain/payment"
	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/hirewire/billing/internal/types"
	"github.com/samber/lo"
)

// InMemoryPaymentStore implements payment.Repository. The idempotency key
// index mirrors the unique constraint of the postgres ledger table.
type InMemoryPaymentStore struct {
	mu      sync.RWMutex
	items   map[string]*payment.Payment
	byIdKey map[string]*payment.Payment
}

// NewInMemoryPaymentStore creates a new in-memory payment ledger store
func NewInMemoryPaymentStore() *InMemoryPaymentStore {
	return &InMemoryPaymentStore{
		items:   make(map[string]*payment.Payment),
		byIdKey: make(map[string]*payment.Payment),
	}
}

// paymentFilterFn implements filtering logic for ledger entries
func paymentFilterFn(ctx context.Context, p *payment.Payment, filter interface{}) bool {
	if p == nil {
		return false
	}

	f, ok := filter.(*types.PaymentFilter)
	if !ok || f == nil {
		return true // No filter applied
	}

	if f.SubscriberRef != nil && p.Subscriber() != *f.SubscriberRef {
		return false
	}

	if f.SubscriptionID != nil && p.SubscriptionID != *f.SubscriptionID {
		return false
	}

	if len(f.Kinds) > 0 && !lo.Contains(f.Kinds, p.Kind) {
		return false
	}

	if f.TimeRangeFilter != nil {
		if f.StartTime != nil && p.CreatedAt.Before(*f.StartTime) {
			return false
		}
		if f.EndTime != nil && p.CreatedAt.After(*f.EndTime) {
			return false
		}
	}

	return true
}

func (s *InMemoryPaymentStore) Create(ctx context.Context, p *payment.Payment) error {
	if p == nil {
		return ierr.NewError("payment cannot be nil").
			WithHint("Payment cannot be nil").
			Mark(ierr.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[p.ID]; exists {
		return ierr.NewError("payment already exists").
			WithHint("A ledger entry with this identifier already exists").
			WithReportableDetails(map[string]any{"id": p.ID}).
			Mark(ierr.ErrAlreadyExists)
	}

	if _, exists := s.byIdKey[p.IdempotencyKey]; exists {
		return ierr.NewError("duplicate idempotency key").
			WithHint("A ledger entry for this operation already exists").
			WithReportableDetails(map[string]any{"idempotency_key": p.IdempotencyKey}).
			Mark(ierr.ErrAlreadyExists)
	}

	s.items[p.ID] = p
	s.byIdKey[p.IdempotencyKey] = p
	return nil
}

func (s *InMemoryPaymentStore) Get(ctx context.Context, id string) (*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, exists := s.items[id]; exists {
		return p, nil
	}

	return nil, ierr.NewError("payment not found").
		WithHint("The requested ledger entry does not exist").
		WithReportableDetails(map[string]any{"id": id}).
		Mark(ierr.ErrNotFound)
}

func (s *InMemoryPaymentStore) GetByIdempotencyKey(ctx context.Context, key string) (*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, exists := s.byIdKey[key]; exists {
		return p, nil
	}

	return nil, ierr.NewError("payment not found").
		WithHint("No ledger entry exists for this idempotency key").
		WithReportableDetails(map[string]any{"idempotency_key": key}).
		Mark(ierr.ErrNotFound)
}

func (s *InMemoryPaymentStore) List(ctx context.Context, filter *types.PaymentFilter) ([]*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*payment.Payment
	for _, p := range s.items {
		if paymentFilterFn(ctx, p, filter) {
			result = append(result, p)
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
			return []*payment.Payment{}, nil
		}
		end := start + filter.GetLimit()
		if end > len(result) {
			end = len(result)
		}
		return result[start:end], nil
	}

	return result, nil
}

func (s *InMemoryPaymentStore) Count(ctx context.Context, filter *types.PaymentFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, p := range s.items {
		if paymentFilterFn(ctx, p, filter) {
			count++
		}
	}
	return count, nil
}

// Clear removes all ledger entries from the store
func (s *InMemoryPaymentStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]*payment.Payment)
	s.byIdKey = make(map[string]*payment.Payment)
}
