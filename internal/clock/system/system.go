// Package system provides the wall clock used by the scheduler.
package system

import "time"

// Clock implements visitor.Clock using time.Now. Times are returned in UTC;
// the activity window converts them to its own location.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
