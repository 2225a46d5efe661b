// Package system provides the wall clock used outside tests.
package system

import (
	"time"

	"github.com/lalchand07/Auditly/internal/audit"
)

// Clock implements audit.Clock using time.Now.
type Clock struct{}

var _ audit.Clock = Clock{}

// New creates a new Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current time in UTC, which is how lease and finish
// timestamps are stored.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
