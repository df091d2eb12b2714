package payment

import (
	"context"

	"github.com/hirewire/billing/internal/types"
)

// Repository defines the interface for payment ledger persistence
type Repository interface {
	// Create inserts a ledger entry. A duplicate idempotency key fails with
	// an already exists error; callers treat that as the entry having been
	// written by an earlier attempt.
	Create(ctx context.Context, payment *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Payment, error)
	List(ctx context.Context, filter *types.PaymentFilter) ([]*Payment, error)
	Count(ctx context.Context, filter *types.PaymentFilter) (int, error)
}
