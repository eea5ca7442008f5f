// Package sinks implements concrete progress consumers: Prometheus job
// metrics, the timeline store, the live event broker, and structured logging.
// Each sink satisfies progress.Sink and is safe for repeated Consume/Close cycles.
package sinks
