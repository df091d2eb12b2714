package dto

import (
	"time"

	"github.com/hirewire/billing/internal/domain/events"
	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/hirewire/billing/internal/types"
)

// RecordUsageRequest represents a request to record feature consumption
type RecordUsageRequest struct {
	Feature    types.FeatureCode      `json:"feature" binding:"required"`
	Count      int64                  `json:"count"`
	Source     string                 `json:"source"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

func (r *RecordUsageRequest) Validate() error {
	if err := r.Feature.Validate(); err != nil {
		return err
	}
	if r.Count < 0 {
		return ierr.NewError("count cannot be negative").
			WithHint("Count must be positive").
			WithReportableDetails(map[string]any{"count": r.Count}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// FeatureUsage describes consumption of one feature in the current window
type FeatureUsage struct {
	Feature    types.FeatureCode `json:"feature"`
	Used       int64             `json:"used"`
	Limit      int64             `json:"limit"`
	Remaining  int64             `json:"remaining"`
	Percentage float64           `json:"percentage"`
	Status     types.UsageStatus `json:"status"`
	Unlimited  bool              `json:"unlimited"`
}

// RecordUsageResponse carries the counter state after a recorded increment
type RecordUsageResponse struct {
	SubscriptionID string `json:"subscription_id"`
	FeatureUsage
}

// CheckLimitResponse answers whether a prospective consumption fits under the
// feature cap
type CheckLimitResponse struct {
	Feature    types.FeatureCode `json:"feature"`
	Allowed    bool              `json:"allowed"`
	Requested  int64             `json:"requested"`
	Remaining  int64             `json:"remaining"`
	ExceededBy int64             `json:"exceeded_by,omitempty"`
	Unlimited  bool              `json:"unlimited"`
}

// GetUsageResponse reports per feature consumption for the current billing
// window
type GetUsageResponse struct {
	SubscriptionID string          `json:"subscription_id"`
	WindowStart    time.Time       `json:"window_start"`
	WindowEnd      time.Time       `json:"window_end"`
	Features       []*FeatureUsage `json:"features"`
}

// ListUsageEventsResponse represents the clickhouse audit trail of one
// subscription
type ListUsageEventsResponse struct {
	Items []*events.UsageEvent `json:"items"`
}
