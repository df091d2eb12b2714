package proration

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/hirewire/billing/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	periodStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC) // 30 day period
)

func dayOffset(days int) time.Time {
	return periodStart.AddDate(0, 0, days)
}

func TestSecondBasedCalculator_Calculate(t *testing.T) {
	tests := []struct {
		name           string
		params         Params
		expectedAmount decimal.Decimal
		expectedError  bool
	}{
		{
			name: "upgrade_at_period_start_charges_full_difference",
			params: Params{
				Action:        types.ProrationActionUpgrade,
				OldPrice:      decimal.NewFromInt(100),
				NewPrice:      decimal.NewFromInt(200),
				PeriodStart:   periodStart,
				PeriodEnd:     periodEnd,
				ProrationDate: dayOffset(0),
			},
			expectedAmount: decimal.NewFromInt(100), // (200-100) * 30/30
		},
		{
			name: "upgrade_mid_period",
			params: Params{
				Action:        types.ProrationActionUpgrade,
				OldPrice:      decimal.NewFromInt(100),
				NewPrice:      decimal.NewFromInt(200),
				PeriodStart:   periodStart,
				PeriodEnd:     periodEnd,
				ProrationDate: dayOffset(10),
			},
			expectedAmount: decimal.NewFromFloat(66.67), // (200-100) * 20/30
		},
		{
			name: "cancel_mid_period_refunds_remaining",
			params: Params{
				Action:        types.ProrationActionCancellation,
				OldPrice:      decimal.NewFromInt(100),
				PeriodStart:   periodStart,
				PeriodEnd:     periodEnd,
				ProrationDate: dayOffset(15),
			},
			expectedAmount: decimal.NewFromInt(50), // 100 * 15/30
		},
		{
			name: "downgrade_credit_at_scheduled_date",
			params: Params{
				Action:        types.ProrationActionDowngrade,
				OldPrice:      decimal.NewFromInt(200),
				NewPrice:      decimal.NewFromInt(100),
				PeriodStart:   periodStart,
				PeriodEnd:     periodEnd,
				ProrationDate: dayOffset(25),
			},
			expectedAmount: decimal.NewFromFloat(16.67), // (200-100) * 5/30
		},
		{
			name: "cancel_at_period_end_refunds_nothing",
			params: Params{
				Action:        types.ProrationActionCancellation,
				OldPrice:      decimal.NewFromInt(100),
				PeriodStart:   periodStart,
				PeriodEnd:     periodEnd,
				ProrationDate: dayOffset(30),
			},
			expectedAmount: decimal.Zero,
		},
		{
			name: "proration_date_past_period_end_clamps_to_zero",
			params: Params{
				Action:        types.ProrationActionUpgrade,
				OldPrice:      decimal.NewFromInt(100),
				NewPrice:      decimal.NewFromInt(200),
				PeriodStart:   periodStart,
				PeriodEnd:     periodEnd,
				ProrationDate: dayOffset(45),
			},
			expectedAmount: decimal.Zero,
		},
		{
			name: "proration_date_before_period_start_clamps_to_full",
			params: Params{
				Action:        types.ProrationActionCancellation,
				OldPrice:      decimal.NewFromInt(100),
				PeriodStart:   periodStart,
				PeriodEnd:     periodEnd,
				ProrationDate: dayOffset(-5),
			},
			expectedAmount: decimal.NewFromInt(100),
		},
		{
			name: "upgrade_to_cheaper_plan_floors_at_zero",
			params: Params{
				Action:        types.ProrationActionUpgrade,
				OldPrice:      decimal.NewFromInt(200),
				NewPrice:      decimal.NewFromInt(100),
				PeriodStart:   periodStart,
				PeriodEnd:     periodEnd,
				ProrationDate: dayOffset(10),
			},
			expectedAmount: decimal.Zero,
		},
		{
			name: "zero_length_period_rejected",
			params: Params{
				Action:        types.ProrationActionCancellation,
				OldPrice:      decimal.NewFromInt(100),
				PeriodStart:   periodStart,
				PeriodEnd:     periodStart,
				ProrationDate: periodStart,
			},
			expectedError: true,
		},
		{
			name: "negative_price_rejected",
			params: Params{
				Action:        types.ProrationActionCancellation,
				OldPrice:      decimal.NewFromInt(-10),
				PeriodStart:   periodStart,
				PeriodEnd:     periodEnd,
				ProrationDate: dayOffset(5),
			},
			expectedError: true,
		},
		{
			name: "unknown_action_rejected",
			params: Params{
				Action:        types.ProrationAction("pause"),
				OldPrice:      decimal.NewFromInt(100),
				PeriodStart:   periodStart,
				PeriodEnd:     periodEnd,
				ProrationDate: dayOffset(5),
			},
			expectedError: true,
		},
	}

	calculator := NewCalculator(types.StrategySecondBased)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := calculator.Calculate(context.Background(), tt.params)
			if tt.expectedError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.expectedAmount.Equal(result.Amount),
				"expected amount %s but got %s", tt.expectedAmount, result.Amount)
			assert.True(t, result.UsedFraction.Add(result.RemainingFraction).Equal(decimal.NewFromInt(1)),
				"fractions must sum to 1, got %s + %s", result.UsedFraction, result.RemainingFraction)
		})
	}
}

func TestDayBasedCalculator_Calculate(t *testing.T) {
	calculator := NewCalculator(types.StrategyDayBased)

	t.Run("whole_day_boundaries_match_second_based", func(t *testing.T) {
		result, err := calculator.Calculate(context.Background(), Params{
			Action:        types.ProrationActionUpgrade,
			OldPrice:      decimal.NewFromInt(100),
			NewPrice:      decimal.NewFromInt(200),
			PeriodStart:   periodStart,
			PeriodEnd:     periodEnd,
			ProrationDate: dayOffset(10),
		})
		require.NoError(t, err)
		assert.True(t, decimal.NewFromFloat(66.67).Equal(result.Amount),
			"expected 66.67 but got %s", result.Amount)
	})

	t.Run("mid_day_proration_counts_whole_remaining_days", func(t *testing.T) {
		// 17:30 on day 15 still leaves 15 whole days of a 30 day period
		result, err := calculator.Calculate(context.Background(), Params{
			Action:        types.ProrationActionCancellation,
			OldPrice:      decimal.NewFromInt(100),
			PeriodStart:   periodStart,
			PeriodEnd:     periodEnd,
			ProrationDate: dayOffset(15).Add(17*time.Hour + 30*time.Minute),
		})
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(50).Equal(result.Amount),
			"expected 50 but got %s", result.Amount)
	})

	t.Run("sub_day_period_rejected", func(t *testing.T) {
		_, err := calculator.Calculate(context.Background(), Params{
			Action:        types.ProrationActionCancellation,
			OldPrice:      decimal.NewFromInt(100),
			PeriodStart:   periodStart,
			PeriodEnd:     periodStart.Add(6 * time.Hour),
			ProrationDate: periodStart,
		})
		require.Error(t, err)
	})
}

func TestDaysBetween(t *testing.T) {
	tests := []struct {
		name     string
		start    time.Time
		end      time.Time
		expected int
	}{
		{
			name:     "thirty_day_period",
			start:    periodStart,
			end:      periodEnd,
			expected: 30,
		},
		{
			name:     "same_day",
			start:    time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC),
			end:      time.Date(2025, 5, 1, 17, 0, 0, 0, time.UTC),
			expected: 0,
		},
		{
			name:     "crossing_month_end",
			start:    time.Date(2025, 1, 30, 0, 0, 0, 0, time.UTC),
			end:      time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC),
			expected: 3,
		},
		{
			name:     "leap_february",
			start:    time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
			end:      time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			expected: 29,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, daysBetween(tt.start, tt.end))
		})
	}
}

// Amounts must never go negative and coefficients must stay inside [0, 1]
// for any valid input, whichever strategy is in use.
func TestCalculate_AmountsNeverNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	calculators := map[string]Calculator{
		"second_based": NewCalculator(types.StrategySecondBased),
		"day_based":    NewCalculator(types.StrategyDayBased),
	}
	actions := []types.ProrationAction{
		types.ProrationActionUpgrade,
		types.ProrationActionDowngrade,
		types.ProrationActionCancellation,
	}

	for name, calculator := range calculators {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 500; i++ {
				start := periodStart.Add(time.Duration(rng.Intn(100)) * time.Hour)
				end := start.AddDate(0, 0, 1+rng.Intn(365))
				ref := start.Add(time.Duration(rng.Int63n(int64(end.Sub(start)) + int64(48*time.Hour))))

				params := Params{
					Action:        actions[rng.Intn(len(actions))],
					OldPrice:      decimal.NewFromFloat(rng.Float64() * 1000),
					NewPrice:      decimal.NewFromFloat(rng.Float64() * 1000),
					PeriodStart:   start,
					PeriodEnd:     end,
					ProrationDate: ref,
				}

				result, err := calculator.Calculate(context.Background(), params)
				require.NoError(t, err)
				assert.False(t, result.Amount.IsNegative(),
					"amount went negative for %+v: %s", params, result.Amount)
				assert.False(t, result.RemainingFraction.IsNegative())
				assert.False(t, result.RemainingFraction.GreaterThan(decimal.NewFromInt(1)))
				assert.False(t, result.UsedFraction.IsNegative())
				assert.False(t, result.UsedFraction.GreaterThan(decimal.NewFromInt(1)))
			}
		})
	}
}
