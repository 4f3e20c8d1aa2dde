package engine

import "time"

// Clock provides the current time. Use RealClock in production and a fixed
// clock in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time { return time.Now() }
