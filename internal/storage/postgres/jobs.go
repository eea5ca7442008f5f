package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/audit"
)

const jobColumns = `id::text, url, client_id, batch_id::text, audit_type, status, config,
	overall_score, overall_grade, total_checks, total_passed, total_failed, total_critical,
	pages_crawled, crawl_duration_ms, audit_duration_ms, category_results, recommendations,
	error_message, artifact_uri, created_at, started_at, completed_at`

// CreateJob inserts a queued audit row.
func (s *Store) CreateJob(ctx context.Context, job audit.Job) error {
	cfg, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO seo_audits (id, url, client_id, batch_id, audit_type, status, config, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID,
		job.URL,
		nullString(job.ClientID),
		nullString(job.BatchID),
		string(job.Kind),
		string(job.Status),
		cfg,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit: %w", notFound(err, "batch", job.BatchID))
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (audit.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM seo_audits WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		return audit.Job{}, notFound(err, "job", id)
	}
	return job, nil
}

// GetStatus reads only the columns pollers need.
func (s *Store) GetStatus(ctx context.Context, id string) (audit.StatusView, error) {
	var (
		view   audit.StatusView
		status string
		grade  *string
		errMsg *string
	)
	err := s.pool.QueryRow(ctx, `
SELECT id::text, status, overall_score, overall_grade, error_message, started_at, completed_at
FROM seo_audits WHERE id = $1`, id).Scan(
		&view.ID, &status, &view.OverallScore, &grade, &errMsg, &view.StartedAt, &view.CompletedAt,
	)
	if err != nil {
		return audit.StatusView{}, notFound(err, "job", id)
	}
	view.Status = audit.Status(status)
	view.OverallGrade = deref(grade)
	view.ErrorMessage = deref(errMsg)
	return view, nil
}

// ListJobs returns jobs newest first, or in submission order for a batch.
func (s *Store) ListJobs(ctx context.Context, filter audit.ListFilter) ([]audit.Job, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.ClientID != "" {
		add("client_id = $%d", filter.ClientID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.BatchID != "" {
		add("batch_id = $%d", filter.BatchID)
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + jobColumns + ` FROM seo_audits`)
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	if filter.BatchID != "" {
		b.WriteString(" ORDER BY created_at ASC, id ASC")
	} else {
		b.WriteString(" ORDER BY created_at DESC, id DESC")
	}
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list audits: %w", notFound(err, "batch", filter.BatchID))
	}
	return collectJobs(rows)
}

// ListStaleRunning returns running jobs started before the cutoff.
func (s *Store) ListStaleRunning(ctx context.Context, startedBefore time.Time) ([]audit.Job, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+`
FROM seo_audits WHERE status = 'running' AND started_at < $1 ORDER BY started_at`, startedBefore)
	if err != nil {
		return nil, fmt.Errorf("list stale audits: %w", err)
	}
	return collectJobs(rows)
}

// MarkJobRunning moves a queued job to running.
func (s *Store) MarkJobRunning(ctx context.Context, id string, at time.Time) (audit.Job, error) {
	row := s.pool.QueryRow(ctx, `
UPDATE seo_audits SET status = 'running', started_at = $2
WHERE id = $1 AND status = 'queued'
RETURNING `+jobColumns, id, at)
	job, err := scanJob(row)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return audit.Job{}, fmt.Errorf("mark audit running: %w", notFound(err, "job", id))
	}
	status, err := s.currentStatus(ctx, id)
	if err != nil {
		return audit.Job{}, err
	}
	return audit.Job{}, fmt.Errorf("job %s is %s: %w", id, status, audit.ErrNotQueued)
}

// CompleteJob stores the report and inserts fixes in one transaction.
func (s *Store) CompleteJob(
	ctx context.Context,
	id string,
	report audit.Report,
	fixes []audit.Fix,
	artifactURI string,
	at time.Time,
) (audit.Job, error) {
	categories, err := json.Marshal(report.Categories)
	if err != nil {
		return audit.Job{}, fmt.Errorf("marshal categories: %w", err)
	}
	recs := report.Recommendations
	if recs == nil {
		recs = []audit.Recommendation{}
	}
	recommendations, err := json.Marshal(recs)
	if err != nil {
		return audit.Job{}, fmt.Errorf("marshal recommendations: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return audit.Job{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	row := tx.QueryRow(ctx, `
UPDATE seo_audits SET
	status = 'completed',
	overall_score = $2, overall_grade = $3,
	total_checks = $4, total_passed = $5, total_failed = $6, total_critical = $7,
	pages_crawled = $8, crawl_duration_ms = $9, audit_duration_ms = $10,
	category_results = $11, recommendations = $12,
	error_message = NULL, artifact_uri = $13, completed_at = $14
WHERE id = $1 AND status IN ('queued', 'running')
RETURNING `+jobColumns,
		id,
		report.OverallScore, report.OverallGrade,
		report.TotalChecks, report.TotalPassed, report.TotalFailed, report.TotalCritical,
		report.PagesCrawled, report.CrawlDurationMs, report.AuditDurationMs,
		categories, recommendations,
		nullString(artifactURI), at,
	)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return audit.Job{}, s.terminalConflict(ctx, id)
		}
		return audit.Job{}, fmt.Errorf("complete audit: %w", notFound(err, "job", id))
	}

	if len(fixes) > 0 {
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"seo_fixes"}, fixColumns, pgx.CopyFromRows(fixRows(fixes))); err != nil {
			return audit.Job{}, fmt.Errorf("insert fixes: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return audit.Job{}, fmt.Errorf("commit: %w", err)
	}
	return job, nil
}

// FailJob stores the failure message on a non-terminal job.
func (s *Store) FailJob(ctx context.Context, id string, message string, at time.Time) (audit.Job, error) {
	row := s.pool.QueryRow(ctx, `
UPDATE seo_audits SET status = 'failed', error_message = $2, completed_at = $3
WHERE id = $1 AND status IN ('queued', 'running')
RETURNING `+jobColumns, id, message, at)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return audit.Job{}, s.terminalConflict(ctx, id)
		}
		return audit.Job{}, fmt.Errorf("fail audit: %w", notFound(err, "job", id))
	}
	return job, nil
}

// DeleteJob removes a terminal job, its timeline and (via cascade) its
// fixes. The row lock keeps a worker from finishing the job mid-delete.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var status string
	if err := tx.QueryRow(ctx, `SELECT status FROM seo_audits WHERE id = $1 FOR UPDATE`, id).Scan(&status); err != nil {
		return fmt.Errorf("lock audit: %w", notFound(err, "job", id))
	}
	if st := audit.Status(status); st != audit.StatusCompleted && st != audit.StatusFailed {
		return fmt.Errorf("job %s is %s: %w", id, st, audit.ErrJobActive)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM seo_audit_events WHERE audit_id = $1`, id); err != nil {
		return fmt.Errorf("delete audit events: %w", notFound(err, "job", id))
	}
	tag, err := tx.Exec(ctx, `DELETE FROM seo_audits WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete audit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", id, audit.ErrNotFound)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) currentStatus(ctx context.Context, id string) (audit.Status, error) {
	var status string
	if err := s.pool.QueryRow(ctx, `SELECT status FROM seo_audits WHERE id = $1`, id).Scan(&status); err != nil {
		return "", notFound(err, "job", id)
	}
	return audit.Status(status), nil
}

// terminalConflict explains why a conditional terminal update matched no row.
func (s *Store) terminalConflict(ctx context.Context, id string) error {
	status, err := s.currentStatus(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("job %s is %s: %w", id, status, audit.ErrAlreadyTerminal)
}

func collectJobs(rows pgx.Rows) ([]audit.Job, error) {
	defer rows.Close()
	out := make([]audit.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audits: %w", err)
	}
	return out, nil
}

func scanJob(row scanner) (audit.Job, error) {
	var (
		job                                          audit.Job
		clientID, batchID, grade, errMsg, artifact   *string
		kind, status                                 string
		cfg, categories, recommendations             []byte
		score, checks, passed, failed, critical, pgs *int
		crawlMs, auditMs                             *int64
	)
	err := row.Scan(
		&job.ID, &job.URL, &clientID, &batchID, &kind, &status, &cfg,
		&score, &grade, &checks, &passed, &failed, &critical,
		&pgs, &crawlMs, &auditMs, &categories, &recommendations,
		&errMsg, &artifact, &job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		return audit.Job{}, err
	}
	job.ClientID = deref(clientID)
	job.BatchID = deref(batchID)
	job.Kind = audit.Kind(kind)
	job.Status = audit.Status(status)
	job.ErrorMessage = deref(errMsg)
	job.ArtifactURI = deref(artifact)
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &job.Config); err != nil {
			return audit.Job{}, fmt.Errorf("decode config of %s: %w", job.ID, err)
		}
	}
	if job.Status != audit.StatusCompleted || score == nil {
		return job, nil
	}

	report := audit.Report{
		OverallScore:    *score,
		OverallGrade:    deref(grade),
		TotalChecks:     deref(checks),
		TotalPassed:     deref(passed),
		TotalFailed:     deref(failed),
		TotalCritical:   deref(critical),
		PagesCrawled:    deref(pgs),
		CrawlDurationMs: deref(crawlMs),
		AuditDurationMs: deref(auditMs),
	}
	if len(categories) > 0 {
		if err := json.Unmarshal(categories, &report.Categories); err != nil {
			return audit.Job{}, fmt.Errorf("decode categories of %s: %w", job.ID, err)
		}
	}
	if len(recommendations) > 0 {
		if err := json.Unmarshal(recommendations, &report.Recommendations); err != nil {
			return audit.Job{}, fmt.Errorf("decode recommendations of %s: %w", job.ID, err)
		}
	}
	job.Result = &report
	return job, nil
}
