// Package events fans job lifecycle events out to live subscribers such as
// the SSE status stream. Polling the store stays authoritative; a dropped
// event only delays a subscriber until its next store re-read.
package events

import (
	"context"
	"sync"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/progress"
)

const subscriberBuffer = 16

// Broker publishes events per job and lets callers follow one job.
type Broker interface {
	Publish(ctx context.Context, evt progress.Event) error
	// Subscribe returns a channel of events for jobID and a release func. The
	// channel is closed once released or once ctx ends.
	Subscribe(ctx context.Context, jobID string) (<-chan progress.Event, func(), error)
}

// MemoryBroker is an in-process Broker for single-node deployments and tests.
type MemoryBroker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]chan progress.Event
}

var _ Broker = (*MemoryBroker)(nil)

// NewMemoryBroker constructs an empty MemoryBroker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[int]chan progress.Event)}
}

// Publish delivers evt to current subscribers of its job. Slow subscribers
// miss events rather than blocking the publisher.
func (b *MemoryBroker) Publish(_ context.Context, evt progress.Event) error {
	if evt.JobID == "" {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[evt.JobID] {
		select {
		case ch <- evt:
		default:
		}
	}
	return nil
}

// Subscribe registers a buffered channel for jobID.
func (b *MemoryBroker) Subscribe(ctx context.Context, jobID string) (<-chan progress.Event, func(), error) {
	ch := make(chan progress.Event, subscriberBuffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[int]chan progress.Event)
	}
	b.subs[jobID][id] = ch
	b.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() { b.remove(jobID, id) })
	}
	stop := context.AfterFunc(ctx, release)
	return ch, func() {
		stop()
		release()
	}, nil
}

// Subscribers reports how many subscribers follow jobID.
func (b *MemoryBroker) Subscribers(jobID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[jobID])
}

func (b *MemoryBroker) remove(jobID string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[jobID]
	ch, ok := subs[id]
	if !ok {
		return
	}
	delete(subs, id)
	close(ch)
	if len(subs) == 0 {
		delete(b.subs, jobID)
	}
}
