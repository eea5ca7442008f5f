// Package memory provides the bounded in-process task queue that feeds the
// worker pool.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/audit"
)

// ErrClosed is returned once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch        chan audit.QueueItem
	done      chan struct{}
	closeOnce sync.Once
}

var _ audit.Queue = (*Queue)(nil)

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch:   make(chan audit.QueueItem, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes a job into the queue, blocking while it is full until the
// context ends or the queue closes.
func (q *Queue) Enqueue(ctx context.Context, item audit.QueueItem) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return ErrClosed
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (audit.QueueItem, error) {
	select {
	case <-ctx.Done():
		return audit.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return audit.QueueItem{}, ErrClosed
	case item := <-q.ch:
		return item, nil
	}
}

// Len reports how many items are waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap reports the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Close stops the queue; waiting items are abandoned and stay queued in the
// job store for the next start.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
