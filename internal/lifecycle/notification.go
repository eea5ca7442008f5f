package lifecycle

import (
	"time"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/audit"
)

// Notification is the payload published when a job reaches a terminal state.
type Notification struct {
	AuditID      string       `json:"audit_id"`
	BatchID      string       `json:"batch_id,omitempty"`
	ClientID     string       `json:"client_id,omitempty"`
	URL          string       `json:"url"`
	Status       audit.Status `json:"status"`
	OverallScore *int         `json:"overall_score,omitempty"`
	OverallGrade string       `json:"overall_grade,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	ArtifactURI  string       `json:"artifact_uri,omitempty"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
}

// NewNotification projects a terminal job onto its notification.
func NewNotification(job audit.Job) Notification {
	view := job.StatusView()
	return Notification{
		AuditID:      job.ID,
		BatchID:      job.BatchID,
		ClientID:     job.ClientID,
		URL:          job.URL,
		Status:       job.Status,
		OverallScore: view.OverallScore,
		OverallGrade: view.OverallGrade,
		ErrorMessage: job.ErrorMessage,
		ArtifactURI:  job.ArtifactURI,
		CompletedAt:  job.CompletedAt,
	}
}

// Attributes returns routing attributes for message brokers.
func (n Notification) Attributes() map[string]string {
	attrs := map[string]string{
		"audit_id": n.AuditID,
		"status":   string(n.Status),
	}
	if n.BatchID != "" {
		attrs["batch_id"] = n.BatchID
	}
	if n.ClientID != "" {
		attrs["client_id"] = n.ClientID
	}
	return attrs
}
