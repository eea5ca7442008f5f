package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/audit"
)

var fixColumns = []string{
	"id", "audit_id", "client_id", "category", "severity", "title", "description", "page_url",
	"status", "auto_fixable", "fix_code", "fix_explanation", "fixed_by", "fixed_at", "created_at",
}

const fixSelect = `SELECT id::text, audit_id::text, client_id, category, severity, title, description,
	page_url, status, auto_fixable, fix_code, fix_explanation, fixed_by, fixed_at, created_at
FROM seo_fixes`

func fixRows(fixes []audit.Fix) [][]any {
	rows := make([][]any, 0, len(fixes))
	for _, f := range fixes {
		rows = append(rows, []any{
			f.ID,
			f.JobID,
			nullString(f.ClientID),
			f.Category,
			string(f.Severity),
			f.Title,
			f.Description,
			nullString(f.PageURL),
			string(f.Status),
			f.AutoFixable,
			nullString(f.FixCode),
			nullString(f.FixExplanation),
			nullString(f.FixedBy),
			f.FixedAt,
			f.CreatedAt,
		})
	}
	return rows
}

// ListFixes returns the fixes of one job, most severe first.
func (s *Store) ListFixes(ctx context.Context, jobID string) ([]audit.Fix, error) {
	rows, err := s.pool.Query(ctx, fixSelect+`
WHERE audit_id = $1
ORDER BY CASE severity WHEN 'critical' THEN 0 WHEN 'warning' THEN 1 ELSE 2 END, created_at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list fixes: %w", notFound(err, "job", jobID))
	}
	defer rows.Close()
	out := make([]audit.Fix, 0)
	for rows.Next() {
		fix, err := scanFix(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fix)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fixes: %w", err)
	}
	return out, nil
}

// UpdateFix applies a partial update; nil fields keep their stored value.
func (s *Store) UpdateFix(ctx context.Context, id string, update audit.FixUpdate, at time.Time) (audit.Fix, error) {
	var status *string
	if update.Status != nil {
		v := string(*update.Status)
		status = &v
	}
	row := s.pool.QueryRow(ctx, `
UPDATE seo_fixes SET
	status = COALESCE($2, status),
	fix_code = COALESCE($3, fix_code),
	fix_explanation = COALESCE($4, fix_explanation),
	fixed_by = COALESCE($5, fixed_by),
	fixed_at = CASE WHEN $2 = 'fixed' THEN $6 ELSE fixed_at END
WHERE id = $1
RETURNING id::text, audit_id::text, client_id, category, severity, title, description,
	page_url, status, auto_fixable, fix_code, fix_explanation, fixed_by, fixed_at, created_at`,
		id, status, update.FixCode, update.FixExplanation, update.FixedBy, at)
	fix, err := scanFix(row)
	if err != nil {
		return audit.Fix{}, notFound(err, "fix", id)
	}
	return fix, nil
}

func scanFix(row scanner) (audit.Fix, error) {
	var (
		fix                                            audit.Fix
		clientID, pageURL, code, explanation, fixedBy *string
		severity, status                               string
	)
	err := row.Scan(
		&fix.ID, &fix.JobID, &clientID, &fix.Category, &severity, &fix.Title, &fix.Description,
		&pageURL, &status, &fix.AutoFixable, &code, &explanation, &fixedBy, &fix.FixedAt, &fix.CreatedAt,
	)
	if err != nil {
		return audit.Fix{}, err
	}
	fix.ClientID = deref(clientID)
	fix.PageURL = deref(pageURL)
	fix.FixCode = deref(code)
	fix.FixExplanation = deref(explanation)
	fix.FixedBy = deref(fixedBy)
	fix.Severity = audit.Severity(severity)
	fix.Status = audit.FixStatus(status)
	return fix, nil
}
