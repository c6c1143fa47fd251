// Package clock abstracts wall time so that heartbeats, session boundaries
// and banner timers can be driven deterministically in tests.
package clock

import "time"

// Clock supplies the current wall time.
type Clock interface {
	Now() time.Time
}

// System is the production clock backed by time.Now.
type System struct{}

// Now returns the current local time.
func (System) Now() time.Time {
	return time.Now()
}

// Func adapts a plain function to the Clock interface.
type Func func() time.Time

// Now calls f.
func (f Func) Now() time.Time {
	return f()
}
