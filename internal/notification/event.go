package notification

import (
	"time"

	"github.com/hirewire/billing/internal/types"
)

// Event is the envelope published for every subscriber facing lifecycle
// occurrence. Payload carries the event specific fields and is delivered
// verbatim as the webhook body.
type Event struct {
	ID             string                 `json:"id"`
	Type           types.NotificationType `json:"type"`
	TenantID       string                 `json:"tenant_id"`
	UserID         string                 `json:"user_id,omitempty"`
	EmployerID     string                 `json:"employer_id,omitempty"`
	SubscriptionID string                 `json:"subscription_id,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
}

// NewEvent builds an event addressed to the given subscriber. A zero
// timestamp defaults to the current time in UTC.
func NewEvent(
	eventType types.NotificationType,
	tenantID string,
	subscriber types.SubscriberRef,
	subscriptionID string,
	timestamp time.Time,
	payload map[string]interface{},
) *Event {
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	return &Event{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_NOTIFICATION),
		Type:           eventType,
		TenantID:       tenantID,
		UserID:         subscriber.UserID,
		EmployerID:     subscriber.EmployerID,
		SubscriptionID: subscriptionID,
		Timestamp:      timestamp,
		Payload:        payload,
	}
}

// Subscriber reconstructs the owner reference carried by the event.
func (e *Event) Subscriber() types.SubscriberRef {
	if e.UserID != "" {
		return types.NewUserRef(e.UserID)
	}
	return types.NewEmployerRef(e.EmployerID)
}
