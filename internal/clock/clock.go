package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the time source for everything in the engine. Services never call
// time.Now directly; tests inject a fake clock and drive it explicitly.
type Clock = clockwork.Clock

// New returns the real wall clock
func New() Clock {
	return clockwork.NewRealClock()
}

// NewFakeAt returns a fake clock pinned to the given instant
func NewFakeAt(at time.Time) clockwork.FakeClock {
	return clockwork.NewFakeClockAt(at)
}
