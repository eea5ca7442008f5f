package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/events"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/progress"
)

// BrokerSink forwards lifecycle events to live subscribers.
type BrokerSink struct {
	broker events.Broker
	logger *zap.Logger
}

// NewBrokerSink constructs a BrokerSink.
func NewBrokerSink(broker events.Broker, logger *zap.Logger) *BrokerSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BrokerSink{broker: broker, logger: logger}
}

// Consume publishes each event. Publish failures are logged and skipped;
// subscribers fall back to re-reading the store.
func (s *BrokerSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.broker == nil {
		return nil
	}
	for _, evt := range batch {
		if err := s.broker.Publish(ctx, evt); err != nil {
			s.logger.Warn("publish live event failed",
				zap.String("job_id", evt.JobID),
				zap.String("stage", string(evt.Stage)),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *BrokerSink) Close(context.Context) error {
	return nil
}

// Name identifies the sink in hub logs.
func (s *BrokerSink) Name() string { return "broker" }
