package usage

import (
	"context"
	"time"

	"github.com/hirewire/billing/internal/types"
)

// IncrementQuery carries the parameters of one atomic counter increment.
type IncrementQuery struct {
	SubscriptionID string
	Feature        types.FeatureCode
	WindowStart    time.Time
	Count          int64

	// Limit is the plan cap for the feature. Zero or negative means no cap
	// and the increment is unconditional.
	Limit int64
}

// Repository defines the interface for usage counter persistence
type Repository interface {
	// IncrementIfBelowLimit atomically adds Count to the counter unless the
	// result would exceed Limit. The check and the write are one step, so
	// concurrent callers can never jointly cross the cap. A crossed cap
	// fails with a validation error and leaves the counter untouched.
	IncrementIfBelowLimit(ctx context.Context, q IncrementQuery) (*Counter, error)
	Get(ctx context.Context, subscriptionID string, feature types.FeatureCode, windowStart time.Time) (*Counter, error)
	ListByWindow(ctx context.Context, subscriptionID string, windowStart time.Time) ([]*Counter, error)
}
