package dto

import (
	"github.com/hirewire/billing/internal/types"
	"github.com/shopspring/decimal"
)

// GrowthMetrics compares the current analytics window against the prior
// window of the same length
type GrowthMetrics struct {
	CurrentMRR          decimal.Decimal `json:"current_mrr"`
	PriorMRR            decimal.Decimal `json:"prior_mrr"`
	MRRGrowth           decimal.Decimal `json:"mrr_growth"`
	MRRGrowthPercent    decimal.Decimal `json:"mrr_growth_percent"`
	CurrentActiveCount  int             `json:"current_active_count"`
	PriorActiveCount    int             `json:"prior_active_count"`
	ActiveGrowth        int             `json:"active_growth"`
	ActiveGrowthPercent decimal.Decimal `json:"active_growth_percent"`
}

// AnalyticsResponse carries the revenue and retention metrics for a window
type AnalyticsResponse struct {
	Timeframe         types.Timeframe `json:"timeframe"`
	ChurnRate         decimal.Decimal `json:"churn_rate"`
	RenewalRate       decimal.Decimal `json:"renewal_rate"`
	MRR               decimal.Decimal `json:"mrr"`
	ARR               decimal.Decimal `json:"arr"`
	ActiveCount       int             `json:"active_count"`
	TrialCount        int             `json:"trial_count"`
	CancelledInPeriod int             `json:"cancelled_in_period"`
	RenewalsInPeriod  int             `json:"renewals_in_period"`
	Growth            *GrowthMetrics  `json:"growth,omitempty"`
}
