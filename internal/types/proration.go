package types

import (
	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/samber/lo"
)

// ProrationAction defines the type of change triggering proration.
type ProrationAction string

const (
	ProrationActionUpgrade      ProrationAction = "upgrade"
	ProrationActionDowngrade    ProrationAction = "downgrade"
	ProrationActionCancellation ProrationAction = "cancellation"
)

// ProrationStrategy defines how the proration coefficient is calculated.
type ProrationStrategy string

const (
	// StrategySecondBased derives the coefficient from elapsed seconds. Default.
	StrategySecondBased ProrationStrategy = "second_based"
	// StrategyDayBased derives the coefficient from whole calendar days, for
	// tenants that bill in day granularity.
	StrategyDayBased ProrationStrategy = "day_based"
)

var ProrationStrategyValues = []ProrationStrategy{
	StrategySecondBased,
	StrategyDayBased,
}

func (s ProrationStrategy) String() string {
	return string(s)
}

func (s ProrationStrategy) Validate() error {
	if !lo.Contains(ProrationStrategyValues, s) {
		return ierr.NewError("invalid proration strategy").
			WithHint("Invalid proration strategy").
			WithReportableDetails(map[string]any{
				"strategy":       s,
				"allowed_values": ProrationStrategyValues,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
