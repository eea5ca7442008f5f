package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/progress"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/store"
)

// StoreSink persists lifecycle events through a store.TimelineRepository so
// callers can read the history of a job after the fact.
type StoreSink struct {
	repo   store.TimelineRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.TimelineRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume writes one timeline row per job event in a single append. BATCH_DONE
// is stored on the timeline of the member that settled the batch; events with
// no job are skipped.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	rows := make([]store.TimelineEvent, 0, len(batch))
	for _, evt := range batch {
		if evt.JobID == "" {
			continue
		}
		rows = append(rows, store.TimelineEvent{
			JobID:      evt.JobID,
			BatchID:    evt.BatchID,
			Stage:      string(evt.Stage),
			At:         evt.TS.UTC(),
			DurationMs: evt.Dur.Milliseconds(),
			Note:       evt.Note,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	if err := s.repo.AppendEvents(ctx, rows); err != nil {
		return fmt.Errorf("append timeline events: %w", err)
	}
	s.logger.Debug("timeline events stored", zap.Int("count", len(rows)))
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

// Name identifies the sink in hub logs.
func (s *StoreSink) Name() string { return "timeline" }
