// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that the audit pipeline uses to report job lifecycle milestones.
// It batches events on a background goroutine and fans them out to pluggable
// sinks such as Prometheus metrics, the timeline store, or the push broker.
package progress
