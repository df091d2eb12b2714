package types

import (
	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/samber/lo"
)

// SubscriptionStatus is the domain status of a subscription. It is separate
// from the row level Status on BaseModel.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
)

func (s SubscriptionStatus) String() string {
	return string(s)
}

func (s SubscriptionStatus) Validate() error {
	allowed := []SubscriptionStatus{
		SubscriptionStatusActive,
		SubscriptionStatusCancelled,
		SubscriptionStatusExpired,
		SubscriptionStatusPastDue,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid subscription status").
			WithHint("Invalid subscription status").
			WithReportableDetails(map[string]any{
				"status":         s,
				"allowed_status": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// IsTerminal reports whether no further lifecycle transition is possible.
// Cancelled and expired subscriptions stay that way; a subscriber starts
// over with a fresh subscription.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusCancelled || s == SubscriptionStatusExpired
}

// SubscriberType distinguishes individual users from employer accounts.
type SubscriberType string

const (
	SubscriberTypeUser     SubscriberType = "user"
	SubscriberTypeEmployer SubscriberType = "employer"
)

func (s SubscriberType) String() string {
	return string(s)
}

func (s SubscriberType) Validate() error {
	allowed := []SubscriberType{
		SubscriberTypeUser,
		SubscriberTypeEmployer,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid subscriber type").
			WithHint("Invalid subscriber type").
			WithReportableDetails(map[string]any{
				"subscriber_type": s,
				"allowed_values":  allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// SubscriberRef identifies the owner of a subscription. Exactly one of
// UserID or EmployerID must be set.
type SubscriberRef struct {
	UserID     string `db:"user_id" json:"user_id,omitempty"`
	EmployerID string `db:"employer_id" json:"employer_id,omitempty"`
}

// NewUserRef returns a subscriber ref for an individual user
func NewUserRef(userID string) SubscriberRef {
	return SubscriberRef{UserID: userID}
}

// NewEmployerRef returns a subscriber ref for an employer account
func NewEmployerRef(employerID string) SubscriberRef {
	return SubscriberRef{EmployerID: employerID}
}

func (r SubscriberRef) Type() SubscriberType {
	if r.UserID != "" {
		return SubscriberTypeUser
	}
	return SubscriberTypeEmployer
}

// ID returns whichever side of the ref is set
func (r SubscriberRef) ID() string {
	if r.UserID != "" {
		return r.UserID
	}
	return r.EmployerID
}

func (r SubscriberRef) String() string {
	return string(r.Type()) + ":" + r.ID()
}

// IsZero reports whether neither side of the ref is set
func (r SubscriberRef) IsZero() bool {
	return r.UserID == "" && r.EmployerID == ""
}

func (r SubscriberRef) Validate() error {
	if r.UserID == "" && r.EmployerID == "" {
		return ierr.NewError("subscriber ref is empty").
			WithHint("Either user_id or employer_id is required").
			Mark(ierr.ErrValidation)
	}
	if r.UserID != "" && r.EmployerID != "" {
		return ierr.NewError("subscriber ref is ambiguous").
			WithHint("Provide either user_id or employer_id, not both").
			WithReportableDetails(map[string]any{
				"user_id":     r.UserID,
				"employer_id": r.EmployerID,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// SubscriptionFilter is the query filter for listing subscriptions
type SubscriptionFilter struct {
	*QueryFilter
	*TimeRangeFilter
	SubscriberRef      *SubscriberRef       `json:"subscriber_ref,omitempty" form:"-"`
	PlanIDs            []string             `json:"plan_ids,omitempty" form:"plan_ids"`
	SubscriptionStatus []SubscriptionStatus `json:"subscription_status,omitempty" form:"subscription_status"`
	IsTrial            *bool                `json:"is_trial,omitempty" form:"is_trial"`
}

// NewSubscriptionFilter creates a filter with sane defaults
func NewSubscriptionFilter() *SubscriptionFilter {
	return &SubscriptionFilter{
		QueryFilter: NewDefaultQueryFilter(),
	}
}

// NewNoLimitSubscriptionFilter creates a filter without pagination, for sweeps
// and aggregations that must see the whole population
func NewNoLimitSubscriptionFilter() *SubscriptionFilter {
	return &SubscriptionFilter{
		QueryFilter: NewNoLimitQueryFilter(),
	}
}

func (f *SubscriptionFilter) Validate() error {
	if f.QueryFilter != nil {
		if err := f.QueryFilter.Validate(); err != nil {
			return err
		}
	}
	if f.TimeRangeFilter != nil {
		if err := f.TimeRangeFilter.Validate(); err != nil {
			return err
		}
	}
	for _, status := range f.SubscriptionStatus {
		if err := status.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (f *SubscriptionFilter) GetLimit() int {
	if f.QueryFilter == nil {
		return NewDefaultQueryFilter().GetLimit()
	}
	return f.QueryFilter.GetLimit()
}

func (f *SubscriptionFilter) GetOffset() int {
	if f.QueryFilter == nil {
		return NewDefaultQueryFilter().GetOffset()
	}
	return f.QueryFilter.GetOffset()
}

func (f *SubscriptionFilter) IsUnlimited() bool {
	if f.QueryFilter == nil {
		return NewDefaultQueryFilter().IsUnlimited()
	}
	return f.QueryFilter.IsUnlimited()
}
