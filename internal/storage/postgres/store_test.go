package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/audit"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/store"
)

var (
	jobCols = []string{
		"id", "url", "client_id", "batch_id", "audit_type", "status", "config",
		"overall_score", "overall_grade", "total_checks", "total_passed", "total_failed", "total_critical",
		"pages_crawled", "crawl_duration_ms", "audit_duration_ms", "category_results", "recommendations",
		"error_message", "artifact_uri", "created_at", "started_at", "completed_at",
	}
	batchCols = []string{
		"id", "name", "source_filename", "client_id", "total_urls", "completed_urls",
		"failed_urls", "status", "created_at", "completed_at",
	}
	fixCols = []string{
		"id", "audit_id", "client_id", "category", "severity", "title", "description",
		"page_url", "status", "auto_fixable", "fix_code", "fix_explanation", "fixed_by", "fixed_at", "created_at",
	}
	now = time.Unix(1700000000, 0).UTC()
)

func ptr[T any](v T) *T { return &v }

func anyArgs(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = pgxmock.AnyArg()
	}
	return out
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	s, err := NewStoreWithPool(mock)
	require.NoError(t, err)
	return s, mock
}

func queuedJobRow(id string) []any {
	return []any{
		id, "https://example.com", ptr("acme"), nil, "quick", "queued", []byte(`{"max_pages":5}`),
		nil, nil, nil, nil, nil, nil,
		nil, nil, nil, nil, nil,
		nil, nil, now, nil, nil,
	}
}

func completedJobRow(id string) []any {
	return []any{
		id, "https://example.com", nil, ptr("b1"), "batch", "completed", []byte(`{}`),
		ptr(82), ptr("B"), ptr(10), ptr(8), ptr(2), ptr(1),
		ptr(3), ptr(int64(1200)), ptr(int64(300)),
		[]byte(`{"technical":{"score":90,"grade":"A","passed":4,"failed":0,"critical_issues":0,"checks":[]},"content":{"score":70,"grade":"C","passed":4,"failed":2,"critical_issues":1,"checks":[]}}`),
		[]byte(`[{"category":"content","severity":"critical","title":"Missing H1","description":"No H1"}]`),
		nil, ptr("gs://bucket/raw.json"), now, ptr(now), ptr(now.Add(time.Minute)),
	}
}

func TestNewStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewStore(context.Background(), Config{})
	require.Error(t, err)
	_, err = NewStoreWithPool(nil)
	require.Error(t, err)
}

func TestPing(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectPing()
	require.NoError(t, s.Ping(context.Background()))
	mock.ExpectPing().WillReturnError(context.DeadlineExceeded)
	require.ErrorIs(t, s.Ping(context.Background()), context.DeadlineExceeded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	job := audit.Job{
		ID:        "job-1",
		URL:       "https://example.com",
		ClientID:  "acme",
		Kind:      audit.KindQuick,
		Status:    audit.StatusQueued,
		Config:    audit.Config{MaxPages: 5},
		CreatedAt: now,
	}
	mock.ExpectExec("INSERT INTO seo_audits").
		WithArgs("job-1", "https://example.com", ptr("acme"), (*string)(nil), "quick", "queued",
			[]byte(`{"max_pages":5}`), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJobUnknownBatchIsNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO seo_audits").
		WithArgs(anyArgs(8)...).
		WillReturnError(&pgconn.PgError{Code: "23503"})

	err := s.CreateJob(context.Background(), audit.Job{ID: "job-1", BatchID: "missing"})
	require.ErrorIs(t, err, audit.ErrNotFound)
}

func TestGetJobDecodesCompletedReport(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id::text, url").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows(jobCols).AddRow(completedJobRow("job-1")...))

	job, err := s.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, audit.StatusCompleted, job.Status)
	require.Equal(t, "b1", job.BatchID)
	require.Equal(t, audit.KindBatch, job.Kind)
	require.Equal(t, "gs://bucket/raw.json", job.ArtifactURI)
	require.NotNil(t, job.Result)
	require.Equal(t, 82, job.Result.OverallScore)
	require.Equal(t, int64(1200), job.Result.CrawlDurationMs)
	require.Len(t, job.Result.Categories, 2)
	require.Equal(t, "technical", job.Result.Categories[0].Key)
	require.Equal(t, "content", job.Result.Categories[1].Key)
	require.Len(t, job.Result.Recommendations, 1)
	require.Equal(t, audit.SeverityCritical, job.Result.Recommendations[0].Severity)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobMissingIsNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id::text, url").
		WithArgs("nope").
		WillReturnRows(pgxmock.NewRows(jobCols))
	_, err := s.GetJob(context.Background(), "nope")
	require.ErrorIs(t, err, audit.ErrNotFound)

	mock.ExpectQuery("SELECT id::text, url").
		WithArgs("not-a-uuid").
		WillReturnError(&pgconn.PgError{Code: "22P02"})
	_, err = s.GetJob(context.Background(), "not-a-uuid")
	require.ErrorIs(t, err, audit.ErrNotFound)
}

func TestGetStatusProjection(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id::text, status, overall_score").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "status", "overall_score", "overall_grade", "error_message", "started_at", "completed_at",
		}).AddRow("job-1", "completed", ptr(77), ptr("C"), nil, ptr(now), ptr(now)))

	view, err := s.GetStatus(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, audit.StatusCompleted, view.Status)
	require.Equal(t, 77, *view.OverallScore)
	require.Equal(t, "C", view.OverallGrade)
	require.Empty(t, view.ErrorMessage)
}

func TestListJobsBuildsFilters(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery(`WHERE client_id = \$1 AND status = \$2 ORDER BY created_at DESC, id DESC LIMIT \$3`).
		WithArgs("acme", "queued", 10).
		WillReturnRows(pgxmock.NewRows(jobCols).AddRow(queuedJobRow("job-2")...).AddRow(queuedJobRow("job-1")...))

	jobs, err := s.ListJobs(context.Background(), audit.ListFilter{ClientID: "acme", Status: audit.StatusQueued, Limit: 10})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "job-2", jobs[0].ID)
	require.Equal(t, 5, jobs[0].Config.MaxPages)
	require.Nil(t, jobs[0].Result)

	mock.ExpectQuery(`WHERE batch_id = \$1 ORDER BY created_at ASC`).
		WithArgs("b1").
		WillReturnRows(pgxmock.NewRows(jobCols))
	jobs, err = s.ListJobs(context.Background(), audit.ListFilter{BatchID: "b1"})
	require.NoError(t, err)
	require.Empty(t, jobs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkJobRunning(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	row := queuedJobRow("job-1")
	row[5] = "running"
	row[21] = ptr(now)
	mock.ExpectQuery("UPDATE seo_audits SET status = 'running'").
		WithArgs("job-1", now).
		WillReturnRows(pgxmock.NewRows(jobCols).AddRow(row...))

	job, err := s.MarkJobRunning(context.Background(), "job-1", now)
	require.NoError(t, err)
	require.Equal(t, audit.StatusRunning, job.Status)
	require.Equal(t, now, *job.StartedAt)

	mock.ExpectQuery("UPDATE seo_audits SET status = 'running'").
		WithArgs("job-1", now).
		WillReturnRows(pgxmock.NewRows(jobCols))
	mock.ExpectQuery("SELECT status FROM seo_audits").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("completed"))

	_, err = s.MarkJobRunning(context.Background(), "job-1", now)
	require.ErrorIs(t, err, audit.ErrNotQueued)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteJobWritesReportAndFixes(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	report := audit.Report{OverallScore: 82, OverallGrade: "B", TotalChecks: 10, TotalPassed: 8, TotalFailed: 2, TotalCritical: 1}
	fixes := []audit.Fix{{
		ID: "fix-1", JobID: "job-1", Category: "content", Severity: audit.SeverityCritical,
		Title: "Missing H1", Status: audit.FixOpen, CreatedAt: now,
	}}

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE seo_audits SET status = 'completed'").
		WithArgs("job-1", 82, "B", 10, 8, 2, 1, 0, int64(0), int64(0),
			pgxmock.AnyArg(), []byte(`[]`), ptr("gs://bucket/raw.json"), now).
		WillReturnRows(pgxmock.NewRows(jobCols).AddRow(completedJobRow("job-1")...))
	mock.ExpectCopyFrom(pgx.Identifier{"seo_fixes"}, fixColumns).WillReturnResult(1)
	mock.ExpectCommit()

	job, err := s.CompleteJob(context.Background(), "job-1", report, fixes, "gs://bucket/raw.json", now)
	require.NoError(t, err)
	require.Equal(t, audit.StatusCompleted, job.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteJobOnTerminalJobConflicts(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE seo_audits SET status = 'completed'").
		WithArgs(anyArgs(14)...).
		WillReturnRows(pgxmock.NewRows(jobCols))
	mock.ExpectQuery("SELECT status FROM seo_audits").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("failed"))
	mock.ExpectRollback()

	_, err := s.CompleteJob(context.Background(), "job-1", audit.Report{}, nil, "", now)
	require.ErrorIs(t, err, audit.ErrAlreadyTerminal)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailJob(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	row := queuedJobRow("job-1")
	row[5] = "failed"
	row[18] = ptr("analyzer timed out")
	row[22] = ptr(now)
	mock.ExpectQuery("UPDATE seo_audits SET status = 'failed'").
		WithArgs("job-1", "analyzer timed out", now).
		WillReturnRows(pgxmock.NewRows(jobCols).AddRow(row...))

	job, err := s.FailJob(context.Background(), "job-1", "analyzer timed out", now)
	require.NoError(t, err)
	require.Equal(t, audit.StatusFailed, job.Status)
	require.Equal(t, "analyzer timed out", job.ErrorMessage)
	require.Nil(t, job.Result)

	mock.ExpectQuery("UPDATE seo_audits SET status = 'failed'").
		WithArgs("ghost", "x", now).
		WillReturnRows(pgxmock.NewRows(jobCols))
	mock.ExpectQuery("SELECT status FROM seo_audits").
		WithArgs("ghost").
		WillReturnRows(pgxmock.NewRows([]string{"status"}))
	_, err = s.FailJob(context.Background(), "ghost", "x", now)
	require.ErrorIs(t, err, audit.ErrNotFound)
}

func TestDeleteJob(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM seo_audits WHERE id = \\$1 FOR UPDATE").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("completed"))
	mock.ExpectExec("DELETE FROM seo_audit_events").WithArgs("job-1").WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec("DELETE FROM seo_audits").WithArgs("job-1").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()
	require.NoError(t, s.DeleteJob(context.Background(), "job-1"))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM seo_audits WHERE id = \\$1 FOR UPDATE").
		WithArgs("job-2").
		WillReturnRows(pgxmock.NewRows([]string{"status"}))
	mock.ExpectRollback()
	require.ErrorIs(t, s.DeleteJob(context.Background(), "job-2"), audit.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteJobRejectsActiveJob(t *testing.T) {
	t.Parallel()

	for _, status := range []string{"queued", "running"} {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT status FROM seo_audits WHERE id = \\$1 FOR UPDATE").
			WithArgs("job-1").
			WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow(status))
		mock.ExpectRollback()

		err := s.DeleteJob(context.Background(), "job-1")
		require.ErrorIs(t, err, audit.ErrJobActive, status)
		require.NoError(t, mock.ExpectationsWereMet())
	}
}

func TestRecordBatchOutcome(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("UPDATE seo_audit_batches SET completed_urls = completed_urls").
		WithArgs("b1", 0, 1, now).
		WillReturnRows(pgxmock.NewRows(batchCols).
			AddRow("b1", "Batch", nil, nil, 3, 1, 2, "completed", now, ptr(now)))

	batch, err := s.RecordBatchOutcome(context.Background(), "b1", false, now)
	require.NoError(t, err)
	require.Equal(t, audit.StatusCompleted, batch.Status)
	require.Equal(t, 2, batch.FailedURLs)
	require.True(t, batch.Settled())

	// A settled batch is not incremented again.
	mock.ExpectQuery("UPDATE seo_audit_batches SET completed_urls = completed_urls").
		WithArgs("b1", 1, 0, now).
		WillReturnRows(pgxmock.NewRows(batchCols))
	mock.ExpectQuery("SELECT id::text, name").
		WithArgs("b1").
		WillReturnRows(pgxmock.NewRows(batchCols).
			AddRow("b1", "Batch", nil, nil, 3, 1, 2, "completed", now, ptr(now)))
	batch, err = s.RecordBatchOutcome(context.Background(), "b1", true, now)
	require.NoError(t, err)
	require.Equal(t, 1, batch.CompletedURLs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkBatchRunningMissing(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE seo_audit_batches SET status = 'running'").
		WithArgs("b1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT id::text, name").
		WithArgs("b1").
		WillReturnRows(pgxmock.NewRows(batchCols))

	require.ErrorIs(t, s.MarkBatchRunning(context.Background(), "b1"), audit.ErrNotFound)
}

func TestListBatchesByClient(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery(`FROM seo_audit_batches WHERE client_id = \$1 ORDER BY created_at DESC`).
		WithArgs("acme").
		WillReturnRows(pgxmock.NewRows(batchCols).
			AddRow("b2", "Second", ptr("urls.csv"), ptr("acme"), 2, 0, 0, "running", now, nil))

	batches, err := s.ListBatches(context.Background(), "acme")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, "urls.csv", batches[0].SourceFilename)
	require.Nil(t, batches[0].CompletedAt)
}

func TestListAndUpdateFixes(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("FROM seo_fixes WHERE audit_id").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows(fixCols).
			AddRow("fix-1", "job-1", nil, "content", "critical", "Missing H1", "", nil, "open", false, nil, nil, nil, nil, now))

	fixes, err := s.ListFixes(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, fixes, 1)
	require.Equal(t, audit.SeverityCritical, fixes[0].Severity)

	status := audit.FixFixed
	mock.ExpectQuery("UPDATE seo_fixes SET").
		WithArgs("fix-1", ptr("fixed"), (*string)(nil), (*string)(nil), ptr("ops"), now).
		WillReturnRows(pgxmock.NewRows(fixCols).
			AddRow("fix-1", "job-1", nil, "content", "critical", "Missing H1", "", nil, "fixed", false, nil, nil, ptr("ops"), ptr(now), now))

	fix, err := s.UpdateFix(context.Background(), "fix-1", audit.FixUpdate{Status: &status, FixedBy: ptr("ops")}, now)
	require.NoError(t, err)
	require.Equal(t, audit.FixFixed, fix.Status)
	require.Equal(t, "ops", fix.FixedBy)
	require.NotNil(t, fix.FixedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTimelineEvents(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectCopyFrom(pgx.Identifier{"seo_audit_events"}, eventColumns).WillReturnResult(2)
	require.NoError(t, s.AppendEvents(context.Background(), []store.TimelineEvent{
		{JobID: "job-1", Stage: "JOB_QUEUED", At: now},
		{JobID: "job-1", Stage: "JOB_START", At: now},
	}))
	require.NoError(t, s.AppendEvents(context.Background(), nil))

	mock.ExpectQuery("FROM seo_audit_events WHERE audit_id").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"audit_id", "batch_id", "stage", "at", "duration_ms", "note"}).
			AddRow("job-1", nil, "JOB_QUEUED", now, int64(0), "").
			AddRow("job-1", nil, "JOB_DONE", now, int64(1500), ""))

	events, err := s.ListEvents(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, int64(1500), events[1].DurationMs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "pgx5://u:p@localhost:5432/seo", migrateURL("postgres://u:p@localhost:5432/seo"))
	require.Equal(t, "pgx5://localhost/seo", migrateURL("postgresql://localhost/seo"))
	require.Equal(t, "pgx5://already", migrateURL("pgx5://already"))
}
