package usage

import (
	"time"

	"github.com/hirewire/billing/internal/types"
)

// Counter tracks consumption of one feature by one subscription within one
// billing window. The window is keyed by the period start date, so a renewal
// opens a fresh counter without touching the old one.
type Counter struct {
	ID             string            `db:"id" json:"id"`
	SubscriptionID string            `db:"subscription_id" json:"subscription_id"`
	Feature        types.FeatureCode `db:"feature" json:"feature"`
	WindowStart    time.Time         `db:"window_start" json:"window_start"`
	Used           int64             `db:"used" json:"used"`
	types.BaseModel
}

// Remaining returns how much headroom is left under the cap. Unlimited
// features (limit <= 0) have no meaningful remaining value.
func (c *Counter) Remaining(limit int64) int64 {
	remaining := limit - c.Used
	if remaining < 0 {
		return 0
	}
	return remaining
}
