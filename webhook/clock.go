package webhook

import "time"

// Clock is the time source for scheduling decisions
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the wall clock in UTC
func SystemClock() Clock {
	return systemClock{}
}

// ClockFunc adapts a function into a Clock
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }
