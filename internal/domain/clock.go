package domain

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// clock stamps records the service makes up itself, such as the smoke-test
// record. Records read from a file or the bus keep their own timestamps.
var clock = clockwork.NewRealClock()

// SetClock replaces the clock behind Now. nil restores the real clock.
func SetClock(c clockwork.Clock) {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	clock = c
}

// Now is the current time as a record timestamp.
func Now() time.Time { return WallClock(clock.Now()) }

// WallClock drops the zone of t, keeping its wall-clock fields at second
// resolution. Record timestamps are always carried this way.
func WallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}
