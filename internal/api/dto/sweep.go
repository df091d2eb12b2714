package dto

import (
	"time"

	"github.com/hirewire/billing/internal/types"
	"github.com/shopspring/decimal"
)

// SweepItemStatus is the outcome of one subscription within a sweep run
type SweepItemStatus string

const (
	SweepItemSucceeded SweepItemStatus = "succeeded"
	SweepItemFailed    SweepItemStatus = "failed"
	SweepItemSkipped   SweepItemStatus = "skipped"
)

// SweepItemResult records the outcome of one subscription in a sweep run
type SweepItemResult struct {
	SubscriptionID string           `json:"subscription_id"`
	Status         SweepItemStatus  `json:"status"`
	Error          string           `json:"error,omitempty"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	DaysBefore     int              `json:"days_before,omitempty"`
}

// SweepResponse is the report of one sweep run
type SweepResponse struct {
	SweepType   types.SweepType    `json:"sweep_type"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt time.Time          `json:"completed_at"`
	Processed   int                `json:"processed"`
	Succeeded   int                `json:"succeeded"`
	Failed      int                `json:"failed"`
	Skipped     int                `json:"skipped"`
	Items       []*SweepItemResult `json:"items"`
}

// Record appends the item outcome and updates the counters
func (r *SweepResponse) Record(item *SweepItemResult) {
	r.Items = append(r.Items, item)
	r.Processed++
	switch item.Status {
	case SweepItemSucceeded:
		r.Succeeded++
	case SweepItemFailed:
		r.Failed++
	case SweepItemSkipped:
		r.Skipped++
	}
}

// RunReminderSweepRequest optionally overrides the reminder offsets for one
// run
type RunReminderSweepRequest struct {
	Offsets []int `json:"offsets,omitempty"`
}
