package lifecycle

import (
	"fmt"
	"time"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/audit"
)

// DeriveFixes turns each recommendation of report into an open Fix, in
// report order.
func DeriveFixes(job audit.Job, report audit.Report, ids audit.IDGenerator, at time.Time) ([]audit.Fix, error) {
	fixes := make([]audit.Fix, 0, len(report.Recommendations))
	for i, rec := range report.Recommendations {
		id, err := ids.NewID()
		if err != nil {
			return nil, fmt.Errorf("fix id for recommendation %d: %w", i, err)
		}
		description := rec.Description
		if description == "" {
			description = rec.Recommendation
		}
		severity := rec.Severity
		if severity == "" {
			severity = audit.SeverityInfo
		}
		fixes = append(fixes, audit.Fix{
			ID:          id,
			JobID:       job.ID,
			ClientID:    job.ClientID,
			Category:    rec.Category,
			Severity:    severity,
			Title:       rec.Title,
			Description: description,
			PageURL:     rec.PageURL,
			Status:      audit.FixOpen,
			AutoFixable: false,
			CreatedAt:   at,
		})
	}
	return fixes, nil
}
