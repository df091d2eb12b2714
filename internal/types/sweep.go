package types

import (
	ierr "github.com/hirewire/billing/internal/errors"
	"github.com/samber/lo"
)

// SweepType names a periodic batch job over the subscription population.
// Each sweep type holds its own run lock so concurrent runs of the same
// sweep are rejected while different sweeps may overlap freely.
type SweepType string

const (
	SweepTypeExpiration         SweepType = "subscription_expiration"
	SweepTypeScheduledDowngrade SweepType = "scheduled_downgrade"
	SweepTypeRenewalReminder    SweepType = "renewal_reminder"
)

func (s SweepType) String() string {
	return string(s)
}

func (s SweepType) Validate() error {
	allowed := []SweepType{
		SweepTypeExpiration,
		SweepTypeScheduledDowngrade,
		SweepTypeRenewalReminder,
	}
	if !lo.Contains(allowed, s) {
		return ierr.NewError("invalid sweep type").
			WithHint("Invalid sweep type").
			WithReportableDetails(map[string]any{
				"sweep_type":     s,
				"allowed_values": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// DefaultReminderOffsets are the days-before-expiry steps at which renewal
// reminders go out when the config does not override them.
var DefaultReminderOffsets = []int{7, 3, 1}
