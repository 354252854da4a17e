package clock

import "time"

// Clock allows deterministic time behavior in tests. Batch lifecycle
// timestamps and durations go through it.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now().UTC()
}
