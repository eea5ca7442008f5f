package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/audit"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/store"
)

// Store provides an in-memory audit.Store for development/testing. Every
// transition runs under a single mutex, so conditional updates and batch
// counter increments are atomic.
type Store struct {
	mu       sync.RWMutex
	jobs     map[string]audit.Job
	order    []string
	batches  map[string]audit.Batch
	fixes    map[string]audit.Fix
	fixOrder []string
	timeline map[string][]store.TimelineEvent
}

// NewStore constructs a Store.
func NewStore() *Store {
	return &Store{
		jobs:     make(map[string]audit.Job),
		batches:  make(map[string]audit.Batch),
		fixes:    make(map[string]audit.Fix),
		timeline: make(map[string][]store.TimelineEvent),
	}
}

// CreateJob stores a new job.
func (s *Store) CreateJob(_ context.Context, job audit.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	if job.BatchID != "" {
		if _, ok := s.batches[job.BatchID]; !ok {
			return fmt.Errorf("batch %s: %w", job.BatchID, audit.ErrNotFound)
		}
	}
	s.jobs[job.ID] = cloneJob(job)
	s.order = append(s.order, job.ID)
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(_ context.Context, id string) (audit.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return audit.Job{}, fmt.Errorf("job %s: %w", id, audit.ErrNotFound)
	}
	return cloneJob(job), nil
}

// GetStatus returns the polling projection of a job.
func (s *Store) GetStatus(ctx context.Context, id string) (audit.StatusView, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return audit.StatusView{}, err
	}
	return job.StatusView(), nil
}

// ListJobs returns jobs newest first, or in submission order when filtered
// by batch.
func (s *Store) ListJobs(_ context.Context, filter audit.ListFilter) ([]audit.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.order
	if filter.BatchID == "" {
		ids = reversed(s.order)
	}
	out := make([]audit.Job, 0)
	for _, id := range ids {
		job, ok := s.jobs[id]
		if !ok || !matches(job, filter) {
			continue
		}
		out = append(out, cloneJob(job))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// ListStaleRunning returns running jobs started before the cutoff.
func (s *Store) ListStaleRunning(_ context.Context, startedBefore time.Time) ([]audit.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Job
	for _, id := range s.order {
		job := s.jobs[id]
		if job.Status != audit.StatusRunning || job.StartedAt == nil {
			continue
		}
		if job.StartedAt.Before(startedBefore) {
			out = append(out, cloneJob(job))
		}
	}
	return out, nil
}

// MarkJobRunning moves a queued job to running.
func (s *Store) MarkJobRunning(_ context.Context, id string, at time.Time) (audit.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return audit.Job{}, fmt.Errorf("job %s: %w", id, audit.ErrNotFound)
	}
	if job.Status != audit.StatusQueued {
		return audit.Job{}, fmt.Errorf("job %s is %s: %w", id, job.Status, audit.ErrNotQueued)
	}
	job.Status = audit.StatusRunning
	job.StartedAt = pointerTime(at)
	s.jobs[id] = job
	return cloneJob(job), nil
}

// CompleteJob stores the result and inserts fixes in one step.
func (s *Store) CompleteJob(
	_ context.Context,
	id string,
	report audit.Report,
	fixes []audit.Fix,
	artifactURI string,
	at time.Time,
) (audit.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.openJob(id)
	if err != nil {
		return audit.Job{}, err
	}
	r := report
	job.Status = audit.StatusCompleted
	job.Result = &r
	job.ErrorMessage = ""
	job.ArtifactURI = artifactURI
	job.CompletedAt = pointerTime(at)
	s.jobs[id] = job
	for _, fix := range fixes {
		s.fixes[fix.ID] = fix
		s.fixOrder = append(s.fixOrder, fix.ID)
	}
	return cloneJob(job), nil
}

// FailJob stores the failure message.
func (s *Store) FailJob(_ context.Context, id string, message string, at time.Time) (audit.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.openJob(id)
	if err != nil {
		return audit.Job{}, err
	}
	job.Status = audit.StatusFailed
	job.Result = nil
	job.ErrorMessage = message
	job.CompletedAt = pointerTime(at)
	s.jobs[id] = job
	return cloneJob(job), nil
}

// DeleteJob removes a terminal job with its fixes and timeline.
func (s *Store) DeleteJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, audit.ErrNotFound)
	}
	if !isTerminal(job.Status) {
		return fmt.Errorf("job %s is %s: %w", id, job.Status, audit.ErrJobActive)
	}
	delete(s.jobs, id)
	delete(s.timeline, id)
	s.order = removeID(s.order, id)
	kept := s.fixOrder[:0]
	for _, fixID := range s.fixOrder {
		if s.fixes[fixID].JobID == id {
			delete(s.fixes, fixID)
			continue
		}
		kept = append(kept, fixID)
	}
	s.fixOrder = kept
	return nil
}

func (s *Store) openJob(id string) (audit.Job, error) {
	job, ok := s.jobs[id]
	if !ok {
		return audit.Job{}, fmt.Errorf("job %s: %w", id, audit.ErrNotFound)
	}
	if isTerminal(job.Status) {
		return audit.Job{}, fmt.Errorf("job %s is %s: %w", id, job.Status, audit.ErrAlreadyTerminal)
	}
	return job, nil
}

func matches(job audit.Job, filter audit.ListFilter) bool {
	if filter.ClientID != "" && job.ClientID != filter.ClientID {
		return false
	}
	if filter.Status != "" && job.Status != filter.Status {
		return false
	}
	if filter.BatchID != "" && job.BatchID != filter.BatchID {
		return false
	}
	return true
}

func reversed(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[len(ids)-1-i] = id
	}
	return out
}

func cloneJob(job audit.Job) audit.Job {
	if job.Result != nil {
		r := *job.Result
		job.Result = &r
	}
	return job
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func isTerminal(status audit.Status) bool {
	switch status {
	case audit.StatusCompleted, audit.StatusFailed:
		return true
	default:
		return false
	}
}
