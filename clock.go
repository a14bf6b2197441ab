package sitetheory

import "time"

// Clock provides deterministic time for the deploy engine and its waiters.
type Clock interface {
	Now() time.Time
}

// RealClock uses time.Now.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}
