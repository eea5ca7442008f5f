// Package simple contains the permissive admission policy used when per-host
// rate limiting is disabled.
package simple

import (
	"context"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/audit"
)

// Policy admits every Analyzer launch immediately.
type Policy struct{}

var _ audit.Limiter = Policy{}

// New creates a new Policy.
func New() *Policy {
	return &Policy{}
}

// Wait returns at once unless the context is already done.
func (Policy) Wait(ctx context.Context, _ string) error {
	return ctx.Err()
}
