package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/metrics"
)

// Config tunes the Hub. Zero values take the defaults below.
type Config struct {
	// BufferSize is how many events Emit may queue before dropping.
	BufferSize int
	// MaxBatchEvents flushes a batch as soon as it holds this many events.
	MaxBatchEvents int
	// MaxBatchWait bounds how long the first event of a batch waits for a flush.
	MaxBatchWait time.Duration
	// SinkTimeout bounds each Consume call.
	SinkTimeout time.Duration
	// BaseContext parents every sink call.
	BaseContext context.Context
	Logger      *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropWarnInterval      = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.MaxBatchEvents <= 0 {
		c.MaxBatchEvents = defaultMaxBatchEvents
	}
	if c.MaxBatchWait <= 0 {
		c.MaxBatchWait = defaultMaxBatchWait
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.BaseContext == nil {
		c.BaseContext = context.Background()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub buffers audit lifecycle events and hands them to its sinks in batches.
// Sinks are called from a single goroutine, in registration order. Emit never
// blocks: when the buffer is full the event is dropped and counted.
type Hub struct {
	cfg    Config
	sinks  []Sink
	in     chan Event
	quit   chan struct{}
	done   chan struct{}
	logger *zap.Logger

	dropped  atomic.Int64
	dropWarn rate.Sometimes
	closing  atomic.Bool
	once     sync.Once
	closeCtx context.Context
}

var _ Emitter = (*Hub)(nil)

// NewHub starts the delivery goroutine and returns a Hub ready for Emit.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:      cfg,
		sinks:    append([]Sink(nil), sinks...),
		in:       make(chan Event, cfg.BufferSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		logger:   cfg.Logger.Named("progress"),
		dropWarn: rate.Sometimes{Interval: dropWarnInterval},
	}
	go h.run()
	return h
}

// Emit queues evt for delivery. Invalid events and events emitted after Close
// are discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closing.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.in <- evt:
	default:
		h.dropped.Add(1)
		metrics.ObserveProgressDropped(string(evt.Stage))
		h.dropWarn.Do(func() {
			h.logger.Warn("progress buffer full; events dropped",
				zap.Int64("dropped", h.dropped.Swap(0)),
				zap.String("job_id", evt.JobID),
			)
		})
	}
}

// Close stops accepting events, delivers what is buffered, closes the sinks
// and waits for all of it or for ctx. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.once.Do(func() {
		h.closing.Store(true)
		h.closeCtx = ctx
		close(h.quit)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

// run owns the pending batch. The flush timer starts with the first event of
// a batch, so no event waits longer than MaxBatchWait.
func (h *Hub) run() {
	defer close(h.done)

	pending := make([]Event, 0, h.cfg.MaxBatchEvents)
	timer := time.NewTimer(h.cfg.MaxBatchWait)
	timer.Stop()
	var deadline <-chan time.Time

	flush := func() {
		timer.Stop()
		deadline = nil
		h.deliver(pending)
		pending = pending[:0]
	}

	for {
		select {
		case evt := <-h.in:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.MaxBatchEvents {
				flush()
			} else if deadline == nil {
				timer.Reset(h.cfg.MaxBatchWait)
				deadline = timer.C
			}
		case <-deadline:
			flush()
		case <-h.quit:
			timer.Stop()
			h.deliver(h.drain(pending))
			h.closeSinks()
			return
		}
	}
}

// drain moves whatever Emit already buffered into pending.
func (h *Hub) drain(pending []Event) []Event {
	for {
		select {
		case evt := <-h.in:
			pending = append(pending, evt)
			if len(pending) >= h.cfg.MaxBatchEvents {
				h.deliver(pending)
				pending = pending[:0]
			}
		default:
			return pending
		}
	}
}

func (h *Hub) deliver(batch []Event) {
	if len(batch) == 0 {
		return
	}
	// Sinks may retain the slice.
	batch = append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		err := sink.Consume(ctx, batch)
		cancel()
		if err != nil {
			h.logger.Warn("progress sink consume failed",
				zap.String("sink", sinkName(sink)),
				zap.Int("events", len(batch)),
				zap.Error(err),
			)
		}
	}
}

func (h *Hub) closeSinks() {
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(h.closeCtx); err != nil {
			h.logger.Warn("progress sink close failed", zap.String("sink", sinkName(sink)), zap.Error(err))
		}
	}
}
