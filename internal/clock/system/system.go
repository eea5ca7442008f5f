// Package system provides the wall clock used to stamp audit transitions.
package system

import (
	"time"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/audit"
)

// Clock implements audit.Clock using time.Now in UTC.
type Clock struct{}

var _ audit.Clock = Clock{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time truncated to microseconds, the precision
// Postgres keeps, so stored and in-memory timestamps compare equal.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
