// Package reconcile fails audit jobs that stayed running past any plausible
// Analyzer run, so crashed workers cannot leave jobs or batches open forever.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/audit"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/lifecycle"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/metrics"
)

const (
	defaultSchedule   = "@every 1m"
	defaultStaleAfter = 10 * time.Minute
)

// Config controls the sweep cadence and the stale threshold.
type Config struct {
	Schedule   string
	StaleAfter time.Duration
}

// Sweeper finds stale running jobs and fails them through the Finalizer so
// batch counters stay consistent.
type Sweeper struct {
	store     audit.JobStore
	finalizer *lifecycle.Finalizer
	clock     audit.Clock
	cfg       Config
	logger    *zap.Logger
	cron      *cron.Cron
}

// New constructs a Sweeper.
func New(store audit.JobStore, finalizer *lifecycle.Finalizer, clock audit.Clock, cfg Config, logger *zap.Logger) *Sweeper {
	if cfg.Schedule == "" {
		cfg.Schedule = defaultSchedule
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		store:     store,
		finalizer: finalizer,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("reconcile"),
	}
}

// Sweep fails every job running since before now-StaleAfter and returns how
// many it failed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().UTC().Add(-s.cfg.StaleAfter)
	jobs, err := s.store.ListStaleRunning(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale jobs: %w", err)
	}
	failed := 0
	for _, job := range jobs {
		msg := fmt.Sprintf("audit abandoned: no result within %s of start", s.cfg.StaleAfter)
		if _, err := s.finalizer.Fail(ctx, job, msg); err != nil {
			if errors.Is(err, audit.ErrAlreadyTerminal) {
				continue
			}
			s.logger.Error("fail stale job", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		failed++
	}
	metrics.ObserveReconciled(failed)
	if failed > 0 {
		s.logger.Warn("stale jobs failed", zap.Int("count", failed), zap.Time("cutoff", cutoff))
	}
	return failed, nil
}

// Start schedules Sweep on the configured cron schedule until Stop.
func (s *Sweeper) Start(ctx context.Context) error {
	logger := cronLogger{s.logger.Sugar()}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("reconcile sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule reconcile %q: %w", s.cfg.Schedule, err)
	}
	s.cron = c
	c.Start()
	s.logger.Info("reconciliation scheduled",
		zap.String("schedule", s.cfg.Schedule),
		zap.Duration("stale_after", s.cfg.StaleAfter),
	)
	return nil
}

// Stop halts scheduling and waits for a running sweep to return.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
