package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/logging"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/progress"
)

// LogSink emits structured logs for each lifecycle event. It is useful
// during development when no durable store is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event. Failures are logged at warn level.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := append(logging.JobFields(evt.JobID, evt.BatchID, evt.URL), zap.String("stage", string(evt.Stage)))
		if evt.Stage == progress.StageJobDone {
			fields = append(fields, zap.Int("score", evt.Score), zap.String("grade", evt.Grade))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Stage == progress.StageJobError {
			s.logger.Warn("progress event", fields...)
			continue
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

// Name identifies the sink in hub logs.
func (s *LogSink) Name() string { return "log" }
