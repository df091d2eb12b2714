package reminder

import (
	"context"
	"time"
)

// Repository defines the interface for reminder persistence
type Repository interface {
	// Create inserts the reminder row. A duplicate (subscription id, days
	// before, sent on) fails with an already exists error.
	Create(ctx context.Context, reminder *Reminder) error
	Exists(ctx context.Context, subscriptionID string, daysBefore int, sentOn time.Time) (bool, error)
	ListBySubscription(ctx context.Context, subscriptionID string) ([]*Reminder, error)
}
