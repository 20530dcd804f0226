// Package system is the wall clock used outside tests.
package system

import "time"

// Clock reports wall time in UTC. Month and day keys are derived from its
// output, so a host in another zone still files records on UTC dates.
type Clock struct{}

// New returns the wall clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
