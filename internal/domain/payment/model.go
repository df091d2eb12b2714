package payment

import (
	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/hirewire/billing/internal/types"
	"github.com/shopspring/decimal"
)

// Payment is one ledger entry. Settlement happens outside this service; rows
// are written once by lifecycle operations and never updated.
type Payment struct {
	ID string `db:"id" json:"id"`

	// ReferenceNumber is the short human facing identifier printed on
	// invoices and support tickets
	ReferenceNumber string `db:"reference_number" json:"reference_number"`

	SubscriptionID string `db:"subscription_id" json:"subscription_id"`

	// UserID and EmployerID mirror the subscription's subscriber ref so the
	// ledger can be queried without joining subscriptions
	UserID     string `db:"user_id" json:"user_id,omitempty"`
	EmployerID string `db:"employer_id" json:"employer_id,omitempty"`

	Kind        types.PaymentKind `db:"kind" json:"kind"`
	Amount      decimal.Decimal   `db:"amount" json:"amount"`
	Description string            `db:"description" json:"description,omitempty"`

	// IdempotencyKey is unique across the ledger. Lifecycle operations derive
	// it from their scope so a retry can never write a second entry.
	IdempotencyKey string `db:"idempotency_key" json:"idempotency_key"`

	Metadata types.Metadata `db:"metadata" json:"metadata,omitempty"`
	types.BaseModel
}

// Subscriber returns the owner reference mirrored on the ledger entry
func (p *Payment) Subscriber() types.SubscriberRef {
	return types.SubscriberRef{UserID: p.UserID, EmployerID: p.EmployerID}
}

// SetSubscriber stores the owner reference on the row fields
func (p *Payment) SetSubscriber(ref types.SubscriberRef) {
	p.UserID = ref.UserID
	p.EmployerID = ref.EmployerID
}

func (p *Payment) Validate() error {
	if err := p.Subscriber().Validate(); err != nil {
		return err
	}
	if p.SubscriptionID == "" {
		return ierr.NewError("subscription id is required").
			WithHint("Subscription ID is required").
			Mark(ierr.ErrValidation)
	}
	if err := p.Kind.Validate(); err != nil {
		return err
	}
	if p.Amount.IsNegative() {
		return ierr.NewError("payment amount cannot be negative").
			WithHint("Amount must be zero or positive").
			WithReportableDetails(map[string]any{
				"amount": p.Amount,
			}).
			Mark(ierr.ErrValidation)
	}
	if p.IdempotencyKey == "" {
		return ierr.NewError("idempotency key is required").
			WithHint("Idempotency key is required").
			Mark(ierr.ErrValidation)
	}
	return nil
}
