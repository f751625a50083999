package data

import "time"

// TimeProvider abstracts the clock so reaper cutoffs and pickup windows can
// be driven by a fixed time in tests.
type TimeProvider interface {
	Now() time.Time
}

// RealTimeProvider is the production clock.
type RealTimeProvider struct{}

func (r *RealTimeProvider) Now() time.Time {
	return time.Now()
}

// TimeFunc adapts a plain function to TimeProvider.
type TimeFunc func() time.Time

func (f TimeFunc) Now() time.Time {
	return f()
}
