package engine

import "time"

// Clock abstracts the time source so sweeps can be tested at fixed instants.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// WeekdayIndex converts a time into the Monday-based weekday index used by
// schedule definitions (0=Monday .. 6=Sunday). Go's time.Weekday is
// Sunday-based, so the two must never be compared directly.
func WeekdayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
