// Package poller waits for an audit to reach a terminal status by polling.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/audit"
)

const (
	// DefaultInterval matches the refresh cadence of the web dashboard.
	DefaultInterval  = 3 * time.Second
	defaultMaxErrors = 3
)

// StatusSource reads the polling projection of a job.
type StatusSource interface {
	GetStatus(ctx context.Context, id string) (audit.StatusView, error)
}

// Config controls polling.
//   - Interval: sleep between polls (default 3s).
//   - MaxErrors: consecutive read failures tolerated before giving up (default 3).
//   - OnStatus: optional callback invoked with every observed status.
type Config struct {
	Interval  time.Duration
	MaxErrors int
	OnStatus  func(audit.StatusView)
}

// Poller repeatedly reads a StatusSource until the job is terminal.
type Poller struct {
	source StatusSource
	cfg    Config
}

// New constructs a Poller.
func New(source StatusSource, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = defaultMaxErrors
	}
	return &Poller{source: source, cfg: cfg}
}

// Wait returns the first terminal status of job id. It stops early when ctx
// ends, when the job does not exist, or after MaxErrors consecutive failures.
func (p *Poller) Wait(ctx context.Context, id string) (audit.StatusView, error) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	failures := 0
	for {
		view, err := p.source.GetStatus(ctx, id)
		switch {
		case err == nil:
			failures = 0
			if p.cfg.OnStatus != nil {
				p.cfg.OnStatus(view)
			}
			if view.Status.Terminal() {
				return view, nil
			}
		case errors.Is(err, audit.ErrNotFound):
			return audit.StatusView{}, fmt.Errorf("poll %s: %w", id, err)
		case ctx.Err() != nil:
			return audit.StatusView{}, fmt.Errorf("poll %s: %w", id, ctx.Err())
		default:
			failures++
			if failures >= p.cfg.MaxErrors {
				return audit.StatusView{}, fmt.Errorf("poll %s: %d consecutive failures: %w", id, failures, err)
			}
		}

		select {
		case <-ctx.Done():
			return audit.StatusView{}, fmt.Errorf("poll %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}
