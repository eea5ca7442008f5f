package progress

import (
	"context"
	"fmt"
)

// Sink receives batches of events from a Hub. A Hub never calls one sink
// concurrently, but the same sink may be shared between hubs.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter accepts single events. The worker, finalizer and service depend on
// this rather than on Hub.
type Emitter interface {
	Emit(evt Event)
}

// SinkFunc adapts a function to a Sink with a no-op Close.
type SinkFunc func(ctx context.Context, batch []Event) error

// Consume calls f.
func (f SinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

// Close does nothing.
func (SinkFunc) Close(context.Context) error {
	return nil
}

// namer is implemented by sinks that want a readable name in hub logs.
type namer interface {
	Name() string
}

func sinkName(s Sink) string {
	if n, ok := s.(namer); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}
