// Package system supplies the wall clock used outside of tests.
package system

import "time"

// Clock satisfies crawler.Clock with the real time.
type Clock struct{}

// New returns a ready to use Clock.
func New() *Clock {
	return &Clock{}
}

// Now reports the current wall time normalized to UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
