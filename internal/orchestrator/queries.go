package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/audit"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/store"
)

// GetStatus returns the cheap polling projection of a job.
func (s *Service) GetStatus(ctx context.Context, id string) (audit.StatusView, error) {
	view, err := s.store.GetStatus(ctx, id)
	if err != nil {
		return audit.StatusView{}, fmt.Errorf("get status: %w", err)
	}
	return view, nil
}

// GetResult returns the full stored job; results are never recomputed.
func (s *Service) GetResult(ctx context.Context, id string) (audit.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return audit.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListRequest filters job listings. Status is raw caller input.
type ListRequest struct {
	ClientID string
	Status   string
	BatchID  string
	Limit    int
}

// ListJobs returns jobs newest first.
func (s *Service) ListJobs(ctx context.Context, req ListRequest) ([]audit.Job, error) {
	filter := audit.ListFilter{ClientID: req.ClientID, BatchID: req.BatchID, Limit: req.Limit}
	if req.Status != "" {
		status, err := audit.ParseStatus(req.Status)
		if err != nil {
			return nil, err
		}
		filter.Status = status
	}
	switch {
	case filter.Limit < 0:
		return nil, fmt.Errorf("%w: limit must be positive", audit.ErrInvalidRequest)
	case filter.Limit == 0:
		filter.Limit = defaultListLimit
	case filter.Limit > maxListLimit:
		filter.Limit = maxListLimit
	}
	jobs, err := s.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// DeleteJob removes a finished job with its fixes and timeline. Queued and
// running jobs are rejected with audit.ErrJobActive so batch counters can
// still settle.
func (s *Service) DeleteJob(ctx context.Context, id string) error {
	if err := s.store.DeleteJob(ctx, id); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	s.logger.Info("audit deleted", zap.String("job_id", id))
	return nil
}

// BatchView is a batch with its member jobs in submission order.
type BatchView struct {
	audit.Batch
	Audits []audit.Job `json:"audits"`
}

// GetBatch returns the batch and its jobs ordered by creation.
func (s *Service) GetBatch(ctx context.Context, id string) (BatchView, error) {
	batch, err := s.store.GetBatch(ctx, id)
	if err != nil {
		return BatchView{}, fmt.Errorf("get batch: %w", err)
	}
	jobs, err := s.store.ListJobs(ctx, audit.ListFilter{BatchID: id})
	if err != nil {
		return BatchView{}, fmt.Errorf("list batch jobs: %w", err)
	}
	return BatchView{Batch: batch, Audits: jobs}, nil
}

// ListBatches returns batches newest first, optionally for one client.
func (s *Service) ListBatches(ctx context.Context, clientID string) ([]audit.Batch, error) {
	batches, err := s.store.ListBatches(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return batches, nil
}

// ListFixes returns the fixes of an existing job, most severe first.
func (s *Service) ListFixes(ctx context.Context, jobID string) ([]audit.Fix, error) {
	if _, err := s.store.GetStatus(ctx, jobID); err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	fixes, err := s.store.ListFixes(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list fixes: %w", err)
	}
	return fixes, nil
}

// UpdateFix applies a validated partial update to a fix.
func (s *Service) UpdateFix(ctx context.Context, id string, update audit.FixUpdate) (audit.Fix, error) {
	if err := update.Validate(); err != nil {
		return audit.Fix{}, err
	}
	fix, err := s.store.UpdateFix(ctx, id, update, s.clock.Now().UTC())
	if err != nil {
		return audit.Fix{}, fmt.Errorf("update fix: %w", err)
	}
	return fix, nil
}

// Export is the downloadable JSON report of a completed audit.
type Export struct {
	AuditID     string       `json:"audit_id"`
	URL         string       `json:"url"`
	ClientID    string       `json:"client_id,omitempty"`
	BatchID     string       `json:"batch_id,omitempty"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	GeneratedAt time.Time    `json:"generated_at"`
	Report      audit.Report `json:"report"`
	Fixes       []audit.Fix  `json:"fixes"`
}

// ExportReport assembles the stored result and fixes of a completed audit.
// It returns audit.ErrNotCompleted for any other status.
func (s *Service) ExportReport(ctx context.Context, id string) (Export, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return Export{}, fmt.Errorf("get job: %w", err)
	}
	if job.Status != audit.StatusCompleted || job.Result == nil {
		return Export{}, fmt.Errorf("audit %s is %s: %w", id, job.Status, audit.ErrNotCompleted)
	}
	fixes, err := s.store.ListFixes(ctx, id)
	if err != nil {
		return Export{}, fmt.Errorf("list fixes: %w", err)
	}
	return Export{
		AuditID:     job.ID,
		URL:         job.URL,
		ClientID:    job.ClientID,
		BatchID:     job.BatchID,
		CompletedAt: job.CompletedAt,
		GeneratedAt: s.clock.Now().UTC(),
		Report:      *job.Result,
		Fixes:       fixes,
	}, nil
}

// Timeline returns the recorded lifecycle events of a job.
func (s *Service) Timeline(ctx context.Context, id string) ([]store.TimelineEvent, error) {
	if _, err := s.store.GetStatus(ctx, id); err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if s.timeline == nil {
		return []store.TimelineEvent{}, nil
	}
	events, err := s.timeline.ListEvents(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list timeline: %w", err)
	}
	return events, nil
}
