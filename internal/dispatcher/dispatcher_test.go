package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/audit"
)

// TestDispatcherRunStartsWorkers ensures every worker begins and all stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{}
	workers := []Runner{&queueRunner{queue: queue}, &queueRunner{queue: queue}, &queueRunner{queue: queue}}
	dispatch := New(queue, workers, nil)
	require.Equal(t, 3, dispatch.Size())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return queue.waiting.Load() == 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	dispatch := New(&errorQueue{err: boom}, nil, nil)

	err := dispatch.Enqueue(context.Background(), audit.QueueItem{JobID: "job"})
	require.ErrorIs(t, err, boom)
	require.EqualError(t, err, "queue enqueue: boom")
}

// TestDispatcherRestartsPanickingWorker keeps the pool size stable when a worker panics.
func TestDispatcherRestartsPanickingWorker(t *testing.T) {
	t.Parallel()

	runner := &panicOnceRunner{}
	dispatch := New(&blockingQueue{}, []Runner{runner}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return runner.runs.Load() == 2 }, 3*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

type panicOnceRunner struct {
	runs atomic.Int32
}

func (r *panicOnceRunner) Run(ctx context.Context) {
	if r.runs.Add(1) == 1 {
		panic("analyzer output exploded")
	}
	<-ctx.Done()
}

type queueRunner struct {
	queue audit.Queue
}

func (r *queueRunner) Run(ctx context.Context) {
	for {
		if _, err := r.queue.Dequeue(ctx); err != nil && ctx.Err() != nil {
			return
		}
	}
}

type blockingQueue struct {
	waiting atomic.Int32
}

func (q *blockingQueue) Enqueue(context.Context, audit.QueueItem) error {
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (audit.QueueItem, error) {
	q.waiting.Add(1)
	<-ctx.Done()
	return audit.QueueItem{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, audit.QueueItem) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (audit.QueueItem, error) {
	return audit.QueueItem{}, nil
}
