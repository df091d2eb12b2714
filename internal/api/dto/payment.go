package dto

import (
	"github.com/hirewire/billing/internal/domain/payment"
	"github.com/hirewire/billing/internal/types"
)

// PaymentResponse represents a ledger entry in API responses
type PaymentResponse struct {
	*payment.Payment
}

// NewPaymentResponse creates a payment response from a ledger entry
func NewPaymentResponse(p *payment.Payment) *PaymentResponse {
	return &PaymentResponse{Payment: p}
}

// ListPaymentsResponse represents the response for listing ledger entries
type ListPaymentsResponse = types.ListResponse[*PaymentResponse]
