package subscription

import (
	"time"

	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/hirewire/billing/internal/types"
)

type Subscription struct {
	// ID is the unique identifier for the subscription
	ID string `db:"id" json:"id"`

	// UserID is set when the subscriber is an individual user. Exactly one
	// of UserID and EmployerID is non empty.
	UserID string `db:"user_id" json:"user_id,omitempty"`

	// EmployerID is set when the subscriber is an employer account
	EmployerID string `db:"employer_id" json:"employer_id,omitempty"`

	// PlanID is the identifier of the current plan
	PlanID string `db:"plan_id" json:"plan_id"`

	// SubscriptionStatus is the lifecycle status of the subscription
	SubscriptionStatus types.SubscriptionStatus `db:"subscription_status" json:"subscription_status"`

	// IsTrial marks a subscription currently in its trial period
	IsTrial bool `db:"is_trial" json:"is_trial"`

	// StartDate is the start of the current billing period
	StartDate time.Time `db:"start_date" json:"start_date"`

	// EndDate is the end of the current billing period, always after StartDate
	EndDate time.Time `db:"end_date" json:"end_date"`

	// NextBillingDate is when the next renewal charge is due
	NextBillingDate time.Time `db:"next_billing_date" json:"next_billing_date"`

	// TrialStart is set once when the subscription begins as a trial and
	// survives conversion, marking that the subscriber has consumed a trial
	TrialStart *time.Time `db:"trial_start" json:"trial_start,omitempty"`

	// TrialEnd is the originally planned end of the trial period
	TrialEnd *time.Time `db:"trial_end" json:"trial_end,omitempty"`

	// RenewalCount is the number of completed renewals
	RenewalCount int `db:"renewal_count" json:"renewal_count"`

	// ScheduledDowngradeID references the pending downgrade record, if any
	ScheduledDowngradeID *string `db:"scheduled_downgrade_id" json:"scheduled_downgrade_id,omitempty"`

	// ScheduledDowngradeDate is when the pending downgrade takes effect
	ScheduledDowngradeDate *time.Time `db:"scheduled_downgrade_date" json:"scheduled_downgrade_date,omitempty"`

	// UpgradeID references the last applied upgrade record, if any
	UpgradeID *string `db:"upgrade_id" json:"upgrade_id,omitempty"`

	// CancelledAt is when the subscription was cancelled
	CancelledAt *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`

	// CancellationReason is the free form reason supplied by the caller
	CancellationReason string `db:"cancellation_reason" json:"cancellation_reason,omitempty"`

	// Version is the optimistic concurrency counter, bumped on every update
	Version int `db:"version" json:"version"`

	// Metadata holds free form key value pairs attached by callers
	Metadata types.Metadata `db:"metadata" json:"metadata,omitempty"`

	types.BaseModel
}

// Subscriber returns the owner reference of the subscription
func (s *Subscription) Subscriber() types.SubscriberRef {
	return types.SubscriberRef{UserID: s.UserID, EmployerID: s.EmployerID}
}

// SetSubscriber stores the owner reference on the row fields
func (s *Subscription) SetSubscriber(ref types.SubscriberRef) {
	s.UserID = ref.UserID
	s.EmployerID = ref.EmployerID
}

// IsActive reports whether lifecycle operations may act on the subscription
func (s *Subscription) IsActive() bool {
	return s.SubscriptionStatus == types.SubscriptionStatusActive
}

// HasScheduledDowngrade reports whether a downgrade is pending
func (s *Subscription) HasScheduledDowngrade() bool {
	return s.ScheduledDowngradeID != nil
}

// HasTrialHistory reports whether the subscription ever was a trial,
// including after conversion to paid
func (s *Subscription) HasTrialHistory() bool {
	return s.TrialStart != nil
}

func (s *Subscription) Validate() error {
	if err := s.Subscriber().Validate(); err != nil {
		return err
	}
	if s.PlanID == "" {
		return ierr.NewError("plan id is required").
			WithHint("Plan ID is required").
			Mark(ierr.ErrValidation)
	}
	if err := s.SubscriptionStatus.Validate(); err != nil {
		return err
	}
	if !s.EndDate.After(s.StartDate) {
		return ierr.NewError("invalid billing period").
			WithHint("End date must be after start date").
			WithReportableDetails(map[string]any{
				"start_date": s.StartDate,
				"end_date":   s.EndDate,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
