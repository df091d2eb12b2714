package proration

import (
	"time"

	"github.com/hirewire/billing/internal/types"
	"github.com/shopspring/decimal"
)

// Params holds all necessary input for a proration calculation. Prices are
// full period prices of the plans involved; the calculator scales them by
// the unused fraction of the billing period.
type Params struct {
	SubscriptionID string

	// Billing period being prorated
	PeriodStart time.Time
	PeriodEnd   time.Time

	// Change details
	Action   types.ProrationAction
	OldPrice decimal.Decimal // price of the current plan
	NewPrice decimal.Decimal // price of the target plan, unused for cancellation

	// ProrationDate is the instant the change takes effect. For scheduled
	// downgrades this is the scheduled effective date, never "now".
	ProrationDate time.Time
}

// Result holds the output of a proration calculation. Amount is always
// non-negative; its direction (charge, refund, credit) follows the action.
type Result struct {
	Action            types.ProrationAction `json:"action"`
	ProrationDate     time.Time             `json:"proration_date"`
	UsedFraction      decimal.Decimal       `json:"used_fraction"`
	RemainingFraction decimal.Decimal       `json:"remaining_fraction"`
	Amount            decimal.Decimal       `json:"amount"`
	Description       string                `json:"description"`
}
