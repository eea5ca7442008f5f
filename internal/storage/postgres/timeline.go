package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/store"
)

var _ store.TimelineRepository = (*Store)(nil)

var eventColumns = []string{"audit_id", "batch_id", "stage", "at", "duration_ms", "note"}

// AppendEvents bulk-inserts timeline events with COPY.
func (s *Store) AppendEvents(ctx context.Context, events []store.TimelineEvent) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(events))
	for _, evt := range events {
		rows = append(rows, []any{evt.JobID, nullString(evt.BatchID), evt.Stage, evt.At, evt.DurationMs, evt.Note})
	}
	if _, err := s.pool.CopyFrom(ctx, pgx.Identifier{"seo_audit_events"}, eventColumns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("copy audit events: %w", err)
	}
	return nil
}

// ListEvents returns the timeline of one job oldest first.
func (s *Store) ListEvents(ctx context.Context, jobID string) ([]store.TimelineEvent, error) {
	rows, err := s.pool.Query(ctx, `
SELECT audit_id::text, batch_id::text, stage, at, duration_ms, note
FROM seo_audit_events WHERE audit_id = $1 ORDER BY at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", notFound(err, "job", jobID))
	}
	defer rows.Close()
	out := make([]store.TimelineEvent, 0)
	for rows.Next() {
		var (
			evt     store.TimelineEvent
			batchID *string
		)
		if err := rows.Scan(&evt.JobID, &batchID, &evt.Stage, &evt.At, &evt.DurationMs, &evt.Note); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		evt.BatchID = deref(batchID)
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return out, nil
}
