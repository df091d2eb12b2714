package types

import (
	"time"

	ierr "github.com/hirewire/billing/internal/errors"
)

// DefaultTimeframeDays is the analytics window applied when the caller does
// not supply one.
const DefaultTimeframeDays = 30

// Timeframe is a half open [Start, End) window for analytics aggregation.
type Timeframe struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewTimeframe builds the default trailing window ending at now.
func NewTimeframe(now time.Time) Timeframe {
	return Timeframe{
		Start: now.AddDate(0, 0, -DefaultTimeframeDays),
		End:   now,
	}
}

func (t Timeframe) Validate() error {
	if t.Start.IsZero() || t.End.IsZero() {
		return ierr.NewError("timeframe is incomplete").
			WithHint("Both start and end are required").
			Mark(ierr.ErrValidation)
	}
	if !t.End.After(t.Start) {
		return ierr.NewError("invalid timeframe").
			WithHint("End must be after start").
			WithReportableDetails(map[string]any{
				"start": t.Start,
				"end":   t.End,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// Duration returns the window length.
func (t Timeframe) Duration() time.Duration {
	return t.End.Sub(t.Start)
}

// Prior returns the window of the same length immediately before this one,
// used for growth comparisons.
func (t Timeframe) Prior() Timeframe {
	length := t.Duration()
	return Timeframe{
		Start: t.Start.Add(-length),
		End:   t.Start,
	}
}

// Contains reports whether ts falls inside the window.
func (t Timeframe) Contains(ts time.Time) bool {
	return !ts.Before(t.Start) && ts.Before(t.End)
}
