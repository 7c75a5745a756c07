package dvsdriver

import "time"

// Clock abstracts wall time so the search timeout can be tested.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}
