// Package dispatcher runs a fixed pool of audit workers over the task queue.
// The pool size is the cap on concurrent Analyzer processes.
package dispatcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/audit"
)

// restartDelay spaces restarts of a worker that panicked.
const restartDelay = time.Second

// Runner is a long-lived consumer of the queue.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher feeds the queue and supervises the worker pool.
type Dispatcher struct {
	queue   audit.Queue
	workers []Runner
	logger  *zap.Logger
}

// New creates a Dispatcher over workers.
func New(queue audit.Queue, workers []Runner, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		logger:  logger.Named("dispatcher"),
	}
}

// Run starts every worker and blocks until all of them have returned, which
// happens once ctx is canceled. A worker that panics is logged and restarted.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i, w := range d.workers {
		wg.Go(func() { d.supervise(ctx, i, w) })
	}
	wg.Wait()
}

func (d *Dispatcher) supervise(ctx context.Context, index int, w Runner) {
	for {
		if !d.runGuarded(ctx, index, w) || ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(restartDelay):
			d.logger.Info("restarting worker", zap.Int("worker", index))
		}
	}
}

// runGuarded reports whether w panicked.
func (d *Dispatcher) runGuarded(ctx context.Context, index int, w Runner) (panicked bool) {
	defer func() {
		if rec := recover(); rec != nil {
			panicked = true
			d.logger.Error("worker panicked",
				zap.Int("worker", index),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	w.Run(ctx)
	return false
}

// Size reports the number of workers.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Enqueue hands item to the queue; it blocks while the queue is full.
func (d *Dispatcher) Enqueue(ctx context.Context, item audit.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
