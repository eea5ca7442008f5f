package store

import (
	"context"
	"time"
)

// TimelineEvent is one persisted lifecycle milestone of an audit job.
type TimelineEvent struct {
	// JobID is the owning audit job.
	JobID string `json:"audit_id"`
	// BatchID is set when the job belongs to a batch.
	BatchID string `json:"batch_id,omitempty"`
	// Stage names the milestone (JOB_QUEUED, JOB_START, ...).
	Stage string `json:"stage"`
	// At is when the emitter observed the milestone.
	At time.Time `json:"at"`
	// DurationMs is the elapsed run time for terminal stages.
	DurationMs int64 `json:"duration_ms,omitempty"`
	// Note carries low-volume context such as the failure message.
	Note string `json:"note,omitempty"`
}

// TimelineRepository persists job lifecycle history.
type TimelineRepository interface {
	// AppendEvents stores a batch of events in order.
	AppendEvents(ctx context.Context, events []TimelineEvent) error
	// ListEvents returns the events of one job oldest first.
	ListEvents(ctx context.Context, jobID string) ([]TimelineEvent, error)
}
