package reminder

import (
	"fmt"
	"time"

	"github.com/hirewire/billing/internal/types"
)

// Reminder records one renewal reminder sent for a subscription. Uniqueness
// over (subscription id, days before, sent on) gives the reminder sweep its
// at most once per day guarantee.
type Reminder struct {
	ID             string `db:"id" json:"id"`
	SubscriptionID string `db:"subscription_id" json:"subscription_id"`

	// DaysBefore is the reminder offset, e.g. 7 for "expires in a week"
	DaysBefore int `db:"days_before" json:"days_before"`

	// SentOn is the UTC calendar day the reminder was sent on
	SentOn time.Time `db:"sent_on" json:"sent_on"`

	// SentAt is the exact send instant
	SentAt time.Time `db:"sent_at" json:"sent_at"`

	types.BaseModel
}

// DateOf truncates an instant to its UTC calendar day.
func DateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DedupeKey is the uniqueness key shared by the postgres constraint and the
// in memory store.
func DedupeKey(subscriptionID string, daysBefore int, sentOn time.Time) string {
	return fmt.Sprintf("%s:%d:%s", subscriptionID, daysBefore, DateOf(sentOn).Format("2006-01-02"))
}

func (r *Reminder) DedupeKey() string {
	return DedupeKey(r.SubscriptionID, r.DaysBefore, r.SentOn)
}
