package proration

import (
	"context"
	"fmt"
	"time"

	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/hirewire/billing/internal/types"
	"github.com/shopspring/decimal"
)

// Calculator turns a plan change or cancellation into a prorated amount.
// Implementations are pure; all state comes in through Params.
type Calculator interface {
	Calculate(ctx context.Context, params Params) (*Result, error)
}

// NewCalculator creates a proration calculator for the given strategy.
func NewCalculator(strategy types.ProrationStrategy) Calculator {
	switch strategy {
	case types.StrategyDayBased:
		return &dayBasedCalculator{}
	default:
		return &secondBasedCalculator{}
	}
}

// secondBasedCalculator derives the coefficient from elapsed seconds. This is
// the default strategy.
type secondBasedCalculator struct{}

func (c *secondBasedCalculator) Calculate(ctx context.Context, params Params) (*Result, error) {
	if err := validateParams(params); err != nil {
		return nil, ierr.WithError(err).
			WithHintf("invalid proration params: %v", err).
			Mark(ierr.ErrValidation)
	}

	totalSeconds := params.PeriodEnd.Sub(params.PeriodStart).Seconds()
	if totalSeconds <= 0 {
		return nil, ierr.NewError("invalid billing period").
			WithHintf("period is zero or negative (%v to %v)", params.PeriodStart, params.PeriodEnd).
			Mark(ierr.ErrValidation)
	}

	remainingSeconds := params.PeriodEnd.Sub(params.ProrationDate).Seconds()
	remainingFraction := clampFraction(
		decimal.NewFromFloat(remainingSeconds).Div(decimal.NewFromFloat(totalSeconds)))

	return buildResult(params, remainingFraction), nil
}

// dayBasedCalculator derives the coefficient from whole calendar days, for
// tenants that bill in day granularity.
type dayBasedCalculator struct{}

func (c *dayBasedCalculator) Calculate(ctx context.Context, params Params) (*Result, error) {
	if err := validateParams(params); err != nil {
		return nil, ierr.WithError(err).
			WithHintf("invalid proration params: %v", err).
			Mark(ierr.ErrValidation)
	}

	totalDays := daysBetween(params.PeriodStart, params.PeriodEnd)
	if totalDays <= 0 {
		return nil, ierr.NewError("invalid billing period").
			WithHintf("period covers no whole day (%v to %v)", params.PeriodStart, params.PeriodEnd).
			Mark(ierr.ErrValidation)
	}

	remainingDays := daysBetween(params.ProrationDate, params.PeriodEnd)
	if remainingDays < 0 {
		remainingDays = 0
	}

	remainingFraction := clampFraction(
		decimal.NewFromInt(int64(remainingDays)).Div(decimal.NewFromInt(int64(totalDays))))

	return buildResult(params, remainingFraction), nil
}

// buildResult applies the shared amount rules on top of the coefficient.
// Amounts are capped at zero from below so a mispriced plan pair can never
// produce a negative charge or credit.
func buildResult(params Params, remainingFraction decimal.Decimal) *Result {
	result := &Result{
		Action:            params.Action,
		ProrationDate:     params.ProrationDate,
		UsedFraction:      decimal.NewFromInt(1).Sub(remainingFraction),
		RemainingFraction: remainingFraction,
	}

	var amount decimal.Decimal
	switch params.Action {
	case types.ProrationActionCancellation:
		amount = params.OldPrice.Mul(remainingFraction)
		result.Description = "Refund for unused time on cancelled subscription"
	case types.ProrationActionUpgrade:
		amount = params.NewPrice.Sub(params.OldPrice).Mul(remainingFraction)
		result.Description = "Prorated charge for upgrade"
	case types.ProrationActionDowngrade:
		amount = params.OldPrice.Sub(params.NewPrice).Mul(remainingFraction)
		result.Description = "Credit for unused time on previous plan before downgrade"
	}

	if amount.LessThan(decimal.Zero) {
		amount = decimal.Zero
	}
	result.Amount = amount.Round(2)

	return result
}

// clampFraction keeps the coefficient inside [0, 1]. A proration date past
// the period end clamps to 0, one before the period start clamps to 1.
func clampFraction(f decimal.Decimal) decimal.Decimal {
	if f.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	if f.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return f
}

// daysBetween counts whole calendar days between two instants in UTC.
func daysBetween(start, end time.Time) int {
	startDay := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	endDay := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)

	days := 0
	for current := startDay; current.Before(endDay); current = current.AddDate(0, 0, 1) {
		days++
	}
	return days
}

// validateParams checks if essential parameters are provided.
func validateParams(params Params) error {
	if params.ProrationDate.IsZero() {
		return fmt.Errorf("proration date is required")
	}
	if params.PeriodStart.IsZero() || params.PeriodEnd.IsZero() {
		return fmt.Errorf("billing period start and end dates are required")
	}
	if !params.PeriodEnd.After(params.PeriodStart) {
		return fmt.Errorf("billing period end date must be after start date")
	}
	if params.OldPrice.IsNegative() {
		return fmt.Errorf("old price cannot be negative")
	}

	switch params.Action {
	case types.ProrationActionCancellation:
		// only the old price participates
	case types.ProrationActionUpgrade, types.ProrationActionDowngrade:
		if params.NewPrice.IsNegative() {
			return fmt.Errorf("new price cannot be negative")
		}
	default:
		return fmt.Errorf("invalid proration action: %s", params.Action)
	}

	return nil
}
