// Package audit defines the core types shared across the orchestrator subsystems.
package audit

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of an audit job or batch.
type Status string

// Status values persisted in the job store. Jobs move queued -> running ->
// completed|failed; batches use queued, running and completed only.
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseStatus converts user input into a Status.
func ParseStatus(input string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(input))) {
	case StatusQueued:
		return StatusQueued, nil
	case StatusRunning:
		return StatusRunning, nil
	case StatusCompleted:
		return StatusCompleted, nil
	case StatusFailed:
		return StatusFailed, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, input)
	}
}

// Kind distinguishes single audits from batch members.
type Kind string

// Supported job kinds.
const (
	KindQuick Kind = "quick"
	KindBatch Kind = "batch"
)

// Config captures per-job Analyzer options.
type Config struct {
	MaxPages   int    `json:"max_pages,omitempty"`
	ClientName string `json:"client_name,omitempty"`
}

// Job is the durable record of one audit request.
type Job struct {
	ID           string     `json:"id"`
	URL          string     `json:"url"`
	ClientID     string     `json:"client_id,omitempty"`
	BatchID      string     `json:"batch_id,omitempty"`
	Kind         Kind       `json:"audit_type"`
	Status       Status     `json:"status"`
	Config       Config     `json:"config"`
	Result       *Report    `json:"result,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ArtifactURI  string     `json:"artifact_uri,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// StatusView is the cheap projection returned to pollers.
type StatusView struct {
	ID           string     `json:"id"`
	Status       Status     `json:"status"`
	OverallScore *int       `json:"overall_score,omitempty"`
	OverallGrade string     `json:"overall_grade,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// StatusView projects the job onto the polling view.
func (j Job) StatusView() StatusView {
	view := StatusView{
		ID:           j.ID,
		Status:       j.Status,
		ErrorMessage: j.ErrorMessage,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
	}
	if j.Result != nil {
		score := j.Result.OverallScore
		view.OverallScore = &score
		view.OverallGrade = j.Result.OverallGrade
	}
	return view
}

// Batch groups audit jobs submitted together.
type Batch struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	SourceFilename string     `json:"source_filename,omitempty"`
	ClientID       string     `json:"client_id,omitempty"`
	TotalURLs      int        `json:"total_urls"`
	CompletedURLs  int        `json:"completed_urls"`
	FailedURLs     int        `json:"failed_urls"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Settled reports whether every member job reached a terminal state.
func (b Batch) Settled() bool {
	return b.CompletedURLs+b.FailedURLs >= b.TotalURLs
}

// Severity ranks checks, recommendations and fixes.
type Severity string

// Known severities, most urgent first.
const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityWarning, SeverityInfo:
		return true
	default:
		return false
	}
}

// Rank orders severities for display; lower is more urgent.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

// FixStatus tracks resolution of a derived fix.
type FixStatus string

// Fix resolution states.
const (
	FixOpen       FixStatus = "open"
	FixInProgress FixStatus = "in_progress"
	FixFixed      FixStatus = "fixed"
	FixDismissed  FixStatus = "dismissed"
)

// Valid reports whether s is a known fix status.
func (s FixStatus) Valid() bool {
	switch s {
	case FixOpen, FixInProgress, FixFixed, FixDismissed:
		return true
	default:
		return false
	}
}

// Fix is an actionable recommendation derived from a completed audit.
type Fix struct {
	ID             string     `json:"id"`
	JobID          string     `json:"audit_id"`
	ClientID       string     `json:"client_id,omitempty"`
	Category       string     `json:"category"`
	Severity       Severity   `json:"severity"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	PageURL        string     `json:"page_url,omitempty"`
	Status         FixStatus  `json:"status"`
	AutoFixable    bool       `json:"auto_fixable"`
	FixCode        string     `json:"fix_code,omitempty"`
	FixExplanation string     `json:"fix_explanation,omitempty"`
	FixedBy        string     `json:"fixed_by,omitempty"`
	FixedAt        *time.Time `json:"fixed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// FixUpdate carries the mutable fields of a Fix; nil fields are left alone.
type FixUpdate struct {
	Status         *FixStatus `json:"status,omitempty"`
	FixCode        *string    `json:"fix_code,omitempty"`
	FixExplanation *string    `json:"fix_explanation,omitempty"`
	FixedBy        *string    `json:"fixed_by,omitempty"`
}

// Validate rejects unknown statuses and empty updates.
func (u FixUpdate) Validate() error {
	if u.Status == nil && u.FixCode == nil && u.FixExplanation == nil && u.FixedBy == nil {
		return fmt.Errorf("%w: no fields to update", ErrInvalidRequest)
	}
	if u.Status != nil && !u.Status.Valid() {
		return fmt.Errorf("%w: unknown fix status %q", ErrInvalidRequest, *u.Status)
	}
	return nil
}

// ListFilter narrows job listings. Zero values mean "no filter".
type ListFilter struct {
	ClientID string
	Status   Status
	BatchID  string
	Limit    int
}
