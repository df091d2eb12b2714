package types

import (
	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/samber/lo"
)

// PaymentKind is the direction and cause of a ledger entry. Settlement of
// the entry is handled outside this service.
type PaymentKind string

const (
	// PaymentKindCharge is money owed by the subscriber (renewal, upgrade, conversion)
	PaymentKindCharge PaymentKind = "charge"
	// PaymentKindRefund is money returned on cancellation
	PaymentKindRefund PaymentKind = "refund"
	// PaymentKindCredit is a balance credit issued by a scheduled downgrade
	PaymentKindCredit PaymentKind = "credit"
)

func (k PaymentKind) String() string {
	return string(k)
}

func (k PaymentKind) Validate() error {
	allowed := []PaymentKind{
		PaymentKindCharge,
		PaymentKindRefund,
		PaymentKindCredit,
	}
	if !lo.Contains(allowed, k) {
		return ierr.NewError("invalid payment kind").
			WithHint("Invalid payment kind").
			WithReportableDetails(map[string]any{
				"kind":           k,
				"allowed_values": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// PaymentFilter is the query filter for listing ledger entries
type PaymentFilter struct {
	*QueryFilter
	*TimeRangeFilter
	SubscriberRef  *SubscriberRef `json:"subscriber_ref,omitempty" form:"-"`
	SubscriptionID *string        `json:"subscription_id,omitempty" form:"subscription_id"`
	Kinds          []PaymentKind  `json:"kinds,omitempty" form:"kinds"`
}

func NewPaymentFilter() *PaymentFilter {
	return &PaymentFilter{
		QueryFilter: NewDefaultQueryFilter(),
	}
}

func (f *PaymentFilter) Validate() error {
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
	for _, kind := range f.Kinds {
		if err := kind.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (f *PaymentFilter) GetLimit() int {
	if f.QueryFilter == nil {
		return NewDefaultQueryFilter().GetLimit()
	}
	return f.QueryFilter.GetLimit()
}

func (f *PaymentFilter) GetOffset() int {
	if f.QueryFilter == nil {
		return NewDefaultQueryFilter().GetOffset()
	}
	return f.QueryFilter.GetOffset()
}
