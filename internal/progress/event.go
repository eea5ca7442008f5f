// Package progress defines the lifecycle events emitted by the audit pipeline.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobQueued Stage = "JOB_QUEUED"
	StageJobStart  Stage = "JOB_START"
	StageJobDone   Stage = "JOB_DONE"
	StageJobError  Stage = "JOB_ERROR"
	StageBatchDone Stage = "BATCH_DONE"
)

// Terminal reports whether the stage ends a job or batch.
func (s Stage) Terminal() bool {
	return s == StageJobDone || s == StageJobError || s == StageBatchDone
}

// Event captures a single audit lifecycle milestone.
type Event struct {
	// JobID identifies the audit job. Empty only for batch events.
	JobID string `json:"audit_id,omitempty"`
	// BatchID is set for batch members and batch events.
	BatchID string `json:"batch_id,omitempty"`
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time `json:"ts"`
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage `json:"stage"`
	// URL is the audited URL; it should not contain credentials.
	URL string `json:"url,omitempty"`
	// Score and Grade are set on JOB_DONE.
	Score int    `json:"score,omitempty"`
	Grade string `json:"grade,omitempty"`
	// Dur captures run time for terminal job stages.
	Dur time.Duration `json:"duration_ns,omitempty"`
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string `json:"note,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobQueued, StageJobStart, StageJobDone, StageJobError:
		if e.JobID == "" {
			return errors.New("job id is required")
		}
	case StageBatchDone:
		if e.BatchID == "" {
			return errors.New("batch done requires batch id")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
