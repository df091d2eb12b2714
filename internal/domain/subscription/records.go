package subscription

import (
	"time"

	"github.com/hirewire/billing/internal/types"
	"github.com/shopspring/decimal"
)

// Lifecycle records are append only. Each row captures the monetary outcome
// of one transition and is immutable once created, except for the applied
// flag on Downgrade which flips exactly once when the sweep applies it.

// Renewal records one period extension of a subscription.
type Renewal struct {
	ID              string          `db:"id" json:"id"`
	SubscriptionID  string          `db:"subscription_id" json:"subscription_id"`
	PlanID          string          `db:"plan_id" json:"plan_id"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	PreviousEndDate time.Time       `db:"previous_end_date" json:"previous_end_date"`
	NewEndDate      time.Time       `db:"new_end_date" json:"new_end_date"`
	RenewalNumber   int             `db:"renewal_number" json:"renewal_number"`
	types.BaseModel
}

// Upgrade records an immediate plan swap to a pricier plan.
type Upgrade struct {
	ID                string          `db:"id" json:"id"`
	SubscriptionID    string          `db:"subscription_id" json:"subscription_id"`
	FromPlanID        string          `db:"from_plan_id" json:"from_plan_id"`
	ToPlanID          string          `db:"to_plan_id" json:"to_plan_id"`
	RemainingFraction decimal.Decimal `db:"remaining_fraction" json:"remaining_fraction"`
	AmountCharged     decimal.Decimal `db:"amount_charged" json:"amount_charged"`
	EffectiveAt       time.Time       `db:"effective_at" json:"effective_at"`
	types.BaseModel
}

// Downgrade records a plan swap to a cheaper plan, scheduled now and applied
// at the effective date. CreditAmount is computed for the effective date when
// the downgrade is scheduled.
type Downgrade struct {
	ID             string          `db:"id" json:"id"`
	SubscriptionID string          `db:"subscription_id" json:"subscription_id"`
	FromPlanID     string          `db:"from_plan_id" json:"from_plan_id"`
	ToPlanID       string          `db:"to_plan_id" json:"to_plan_id"`
	ScheduledAt    time.Time       `db:"scheduled_at" json:"scheduled_at"`
	EffectiveDate  time.Time       `db:"effective_date" json:"effective_date"`
	CreditAmount   decimal.Decimal `db:"credit_amount" json:"credit_amount"`
	Applied        bool            `db:"applied" json:"applied"`
	AppliedAt      *time.Time      `db:"applied_at" json:"applied_at,omitempty"`
	types.BaseModel
}

// Cancellation records the terminal cancel transition and its refund.
type Cancellation struct {
	ID             string          `db:"id" json:"id"`
	SubscriptionID string          `db:"subscription_id" json:"subscription_id"`
	RefundAmount   decimal.Decimal `db:"refund_amount" json:"refund_amount"`
	UsedFraction   decimal.Decimal `db:"used_fraction" json:"used_fraction"`
	Reason         string          `db:"reason" json:"reason,omitempty"`
	CancelledAt    time.Time       `db:"cancelled_at" json:"cancelled_at"`
	types.BaseModel
}

// TrialConversion records a trial turning into a paid subscription.
type TrialConversion struct {
	ID                 string    `db:"id" json:"id"`
	SubscriptionID     string    `db:"subscription_id" json:"subscription_id"`
	ToPlanID           string    `db:"to_plan_id" json:"to_plan_id"`
	RemainingTrialDays int       `db:"remaining_trial_days" json:"remaining_trial_days"`
	NewEndDate         time.Time `db:"new_end_date" json:"new_end_date"`
	ConvertedAt        time.Time `db:"converted_at" json:"converted_at"`
	types.BaseModel
}

// History aggregates every lifecycle record of one subscription.
type History struct {
	Renewals         []*Renewal         `json:"renewals"`
	Upgrades         []*Upgrade         `json:"upgrades"`
	Downgrades       []*Downgrade       `json:"downgrades"`
	Cancellations    []*Cancellation    `json:"cancellations"`
	TrialConversions []*TrialConversion `json:"trial_conversions"`
}
