package events

import (
	"context"
	"time"

	"github.com/hirewire/billing/internal/types"
)

// GetUsageEventsParams filters the audit trail of one subscription.
type GetUsageEventsParams struct {
	SubscriptionID string
	Feature        types.FeatureCode // optional
	StartTime      time.Time         // optional
	EndTime        time.Time         // optional
	Limit          int               // defaults to 100
}

// Repository defines the interface for the clickhouse usage event trail
type Repository interface {
	InsertEvent(ctx context.Context, event *UsageEvent) error
	BulkInsertEvents(ctx context.Context, events []*UsageEvent) error
	GetUsageEvents(ctx context.Context, params *GetUsageEventsParams) ([]*UsageEvent, error)
}
