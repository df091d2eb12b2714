package events

import (
	"time"

	"github.com/hirewire/billing/internal/types"
	"github.com/hirewire/billing/internal/validator"
)

// UsageEvent is the immutable audit record of one consumption event,
// mirrored into ClickHouse. The counter in postgres is authoritative for
// limit enforcement; this trail exists for audit and offline analytics.
type UsageEvent struct {
	// Unique identifier for the event
	ID string `json:"id" ch:"id" validate:"required"`

	// Tenant identifier
	TenantID string `json:"tenant_id" ch:"tenant_id" validate:"required"`

	// Subscription the usage was recorded against
	SubscriptionID string `json:"subscription_id" ch:"subscription_id" validate:"required"`

	// Subscriber identifiers, exactly one set, mirrored for querying the
	// trail without the postgres store
	UserID     string `json:"user_id" ch:"user_id"`
	EmployerID string `json:"employer_id" ch:"employer_id"`

	// Feature that was consumed
	Feature types.FeatureCode `json:"feature" ch:"feature" validate:"required"`

	// Quantity consumed by this event
	Quantity int64 `json:"quantity" ch:"quantity"`

	// Timestamp is when the consumption happened
	Timestamp time.Time `json:"timestamp" ch:"timestamp,timezone('UTC')" validate:"required"`

	// IngestedAt is set by the clickhouse server on insert
	IngestedAt time.Time `json:"ingested_at" ch:"ingested_at,timezone('UTC')"`

	// Source of the event, e.g. api
	Source string `json:"source" ch:"source"`

	// Additional properties
	Properties map[string]interface{} `json:"properties" ch:"properties"`
}

// NewUsageEvent creates a usage event with defaults filled in
func NewUsageEvent(
	tenantID, subscriptionID string,
	subscriber types.SubscriberRef,
	feature types.FeatureCode,
	quantity int64,
	timestamp time.Time,
	source string,
	properties map[string]interface{},
) *UsageEvent {
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	} else {
		timestamp = timestamp.UTC()
	}

	return &UsageEvent{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_USAGE_EVENT),
		TenantID:       tenantID,
		SubscriptionID: subscriptionID,
		UserID:         subscriber.UserID,
		EmployerID:     subscriber.EmployerID,
		Feature:        feature,
		Quantity:       quantity,
		Timestamp:      timestamp,
		Source:         source,
		Properties:     properties,
	}
}

// Validate validates the event
func (e *UsageEvent) Validate() error {
	if err := e.Feature.Validate(); err != nil {
		return err
	}
	return validator.ValidateRequest(e)
}
