package dto

import (
	"time"

	"github.com/hirewire/billing/internal/domain/subscription"
	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/hirewire/billing/internal/types"
	"github.com/shopspring/decimal"
)

// CreateSubscriptionRequest represents a request to create a subscription.
// Exactly one of user_id and employer_id identifies the subscriber.
type CreateSubscriptionRequest struct {
	UserID     string         `json:"user_id"`
	EmployerID string         `json:"employer_id"`
	PlanID     string         `json:"plan_id" binding:"required"`
	Metadata   types.Metadata `json:"metadata,omitempty"`
}

// Subscriber returns the subscriber reference carried by the request
func (r *CreateSubscriptionRequest) Subscriber() types.SubscriberRef {
	return types.SubscriberRef{UserID: r.UserID, EmployerID: r.EmployerID}
}

func (r *CreateSubscriptionRequest) Validate() error {
	if err := r.Subscriber().Validate(); err != nil {
		return err
	}
	if r.PlanID == "" {
		return ierr.NewError("plan id is required").
			WithHint("Plan ID is required").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// SubscriptionResponse represents a subscription in API responses
type SubscriptionResponse struct {
	*subscription.Subscription
	Plan *PlanResponse `json:"plan,omitempty"`
}

// NewSubscriptionResponse creates a subscription response from a domain
// subscription
func NewSubscriptionResponse(sub *subscription.Subscription) *SubscriptionResponse {
	return &SubscriptionResponse{Subscription: sub}
}

// WithPlan attaches the expanded plan to the response
func (r *SubscriptionResponse) WithPlan(p *PlanResponse) *SubscriptionResponse {
	r.Plan = p
	return r
}

// ListSubscriptionsResponse represents the response for listing subscriptions
type ListSubscriptionsResponse = types.ListResponse[*SubscriptionResponse]

// RenewSubscriptionResponse carries the outcome of a renewal
type RenewSubscriptionResponse struct {
	Subscription  *SubscriptionResponse `json:"subscription"`
	Amount        decimal.Decimal       `json:"amount"`
	RenewalNumber int                   `json:"renewal_number"`
	Payment       *PaymentResponse      `json:"payment,omitempty"`
}

// UpgradeSubscriptionRequest represents a request to upgrade to a pricier plan
type UpgradeSubscriptionRequest struct {
	PlanID string `json:"plan_id" binding:"required"`
}

// UpgradeSubscriptionResponse carries the outcome of an immediate upgrade
type UpgradeSubscriptionResponse struct {
	Subscription      *SubscriptionResponse `json:"subscription"`
	AmountCharged     decimal.Decimal       `json:"amount_charged"`
	RemainingFraction decimal.Decimal       `json:"remaining_fraction"`
	Payment           *PaymentResponse      `json:"payment,omitempty"`
}

// ScheduleDowngradeRequest represents a request to schedule a downgrade to a
// cheaper plan at a future effective date
type ScheduleDowngradeRequest struct {
	PlanID        string    `json:"plan_id" binding:"required"`
	EffectiveDate time.Time `json:"effective_date" binding:"required"`
}

// ScheduleDowngradeResponse carries the scheduled downgrade details. The plan
// swap itself happens when the downgrade sweep reaches the effective date.
type ScheduleDowngradeResponse struct {
	Subscription  *SubscriptionResponse `json:"subscription"`
	DowngradeID   string                `json:"downgrade_id"`
	EffectiveDate time.Time             `json:"effective_date"`
	CreditAmount  decimal.Decimal       `json:"credit_amount"`
}

// CancelSubscriptionRequest represents a request to cancel a subscription
type CancelSubscriptionRequest struct {
	Reason string `json:"reason"`
}

// CancelSubscriptionResponse carries the outcome of a cancellation
type CancelSubscriptionResponse struct {
	Subscription *SubscriptionResponse `json:"subscription"`
	RefundAmount decimal.Decimal       `json:"refund_amount"`
	UsedFraction decimal.Decimal       `json:"used_fraction"`
	Payment      *PaymentResponse      `json:"payment,omitempty"`
}

// ConvertTrialRequest represents a request to convert a trial to a paid plan
type ConvertTrialRequest struct {
	PlanID string `json:"plan_id" binding:"required"`
}

// ConvertTrialResponse carries the outcome of a trial conversion
type ConvertTrialResponse struct {
	Subscription       *SubscriptionResponse `json:"subscription"`
	AmountCharged      decimal.Decimal       `json:"amount_charged"`
	RemainingTrialDays int                   `json:"remaining_trial_days"`
	Payment            *PaymentResponse      `json:"payment,omitempty"`
}

// SubscriptionHistoryResponse aggregates the lifecycle records of one
// subscription
type SubscriptionHistoryResponse struct {
	SubscriptionID string                `json:"subscription_id"`
	History        *subscription.History `json:"history"`
}
