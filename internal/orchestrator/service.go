// Package orchestrator implements the caller-facing audit operations:
// submission, batch coordination, and the read paths pollers use.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/audit"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/lifecycle"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/progress"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/store"
)

const (
	defaultMaxPagesCap    = 500
	defaultEnqueueTimeout = 5 * time.Second
	defaultListLimit      = 100
	maxListLimit          = 1000
)

// Config controls submission defaults and limits.
//   - DefaultMaxPages: page budget applied when a request names none; 0 leaves
//     the choice to the Analyzer.
//   - MaxPagesCap: largest page budget a caller may request (default 500).
//   - EnqueueTimeout: how long a single submission waits on a full queue.
//   - BaseContext: parent context for background batch dispatch.
type Config struct {
	DefaultMaxPages int
	MaxPagesCap     int
	EnqueueTimeout  time.Duration
	BaseContext     context.Context
}

// Enqueuer accepts work for the worker pool; dispatcher.Dispatcher satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, item audit.QueueItem) error
}

// Service coordinates the job store, the task queue and the finalizer.
type Service struct {
	store     audit.Store
	timeline  store.TimelineRepository
	queue     Enqueuer
	finalizer *lifecycle.Finalizer
	ids       audit.IDGenerator
	clock     audit.Clock
	emitter   progress.Emitter
	cfg       Config
	logger    *zap.Logger

	wg sync.WaitGroup
}

// New constructs a Service. timeline and emitter are optional.
func New(
	st audit.Store,
	timeline store.TimelineRepository,
	queue Enqueuer,
	finalizer *lifecycle.Finalizer,
	ids audit.IDGenerator,
	clock audit.Clock,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.MaxPagesCap <= 0 {
		cfg.MaxPagesCap = defaultMaxPagesCap
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = defaultEnqueueTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     st,
		timeline:  timeline,
		queue:     queue,
		finalizer: finalizer,
		ids:       ids,
		clock:     clock,
		emitter:   emitter,
		cfg:       cfg,
		logger:    logger.Named("orchestrator"),
	}
}

// SubmitRequest describes a single audit submission.
type SubmitRequest struct {
	URL        string `json:"url"`
	MaxPages   int    `json:"max_pages,omitempty"`
	ClientID   string `json:"client_id,omitempty"`
	ClientName string `json:"client_name,omitempty"`
}

// Submit validates req, stores a queued job and hands it to the worker pool.
// Only validation and store failures are returned; a dispatch failure is
// recorded on the job itself.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (audit.Job, error) {
	url, err := audit.NormalizeURL(req.URL)
	if err != nil {
		return audit.Job{}, err
	}
	maxPages, err := s.maxPages(req.MaxPages)
	if err != nil {
		return audit.Job{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return audit.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job := audit.Job{
		ID:        id,
		URL:       url,
		ClientID:  req.ClientID,
		Kind:      audit.KindQuick,
		Status:    audit.StatusQueued,
		Config:    audit.Config{MaxPages: maxPages, ClientName: req.ClientName},
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return audit.Job{}, fmt.Errorf("create job: %w", err)
	}
	s.emitQueued(job)
	s.logger.Info("audit submitted", zap.String("job_id", job.ID), zap.String("url", job.URL))

	// A caller that disconnects must not fail the job it just created.
	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.EnqueueTimeout)
	defer cancel()
	return s.enqueue(qctx, job), nil
}

// BatchRequest describes a batch submission.
type BatchRequest struct {
	URLs           []string `json:"urls"`
	ClientID       string   `json:"client_id,omitempty"`
	Name           string   `json:"name,omitempty"`
	SourceFilename string   `json:"source_filename,omitempty"`
	MaxPages       int      `json:"max_pages,omitempty"`
	ClientName     string   `json:"client_name,omitempty"`
}

// SubmitBatch validates every URL, stores the batch and one job per URL in
// input order, and dispatches the jobs in the background. Nothing is stored
// when validation fails.
func (s *Service) SubmitBatch(ctx context.Context, req BatchRequest) (audit.Batch, error) {
	if len(req.URLs) == 0 {
		return audit.Batch{}, audit.ErrEmptyBatch
	}
	urls := make([]string, 0, len(req.URLs))
	for i, raw := range req.URLs {
		url, err := audit.NormalizeURL(raw)
		if err != nil {
			return audit.Batch{}, fmt.Errorf("urls[%d]: %w", i, err)
		}
		urls = append(urls, url)
	}
	maxPages, err := s.maxPages(req.MaxPages)
	if err != nil {
		return audit.Batch{}, err
	}

	now := s.clock.Now().UTC()
	batchID, err := s.ids.NewID()
	if err != nil {
		return audit.Batch{}, fmt.Errorf("generate batch id: %w", err)
	}
	name := req.Name
	if name == "" {
		name = DefaultBatchName(now)
	}
	batch := audit.Batch{
		ID:             batchID,
		Name:           name,
		SourceFilename: req.SourceFilename,
		ClientID:       req.ClientID,
		TotalURLs:      len(urls),
		Status:         audit.StatusQueued,
		CreatedAt:      now,
	}
	if err := s.store.CreateBatch(ctx, batch); err != nil {
		return audit.Batch{}, fmt.Errorf("create batch: %w", err)
	}
	if err := s.store.MarkBatchRunning(ctx, batch.ID); err != nil {
		return audit.Batch{}, fmt.Errorf("start batch: %w", err)
	}

	jobs := make([]audit.Job, 0, len(urls))
	var createErr error
	for _, url := range urls {
		id, err := s.ids.NewID()
		if err != nil {
			createErr = fmt.Errorf("generate job id: %w", err)
			break
		}
		job := audit.Job{
			ID:        id,
			URL:       url,
			ClientID:  req.ClientID,
			BatchID:   batch.ID,
			Kind:      audit.KindBatch,
			Status:    audit.StatusQueued,
			Config:    audit.Config{MaxPages: maxPages, ClientName: req.ClientName},
			CreatedAt: now,
		}
		if err := s.store.CreateJob(ctx, job); err != nil {
			createErr = fmt.Errorf("create batch job: %w", err)
			break
		}
		s.emitQueued(job)
		jobs = append(jobs, job)
	}
	if createErr != nil {
		// Count the members that were never created as failed so the batch
		// still settles once the created ones finish.
		s.abandonMembers(context.WithoutCancel(ctx), batch.ID, len(urls)-len(jobs))
	}

	s.logger.Info("batch submitted",
		zap.String("batch_id", batch.ID),
		zap.Int("total", batch.TotalURLs),
		zap.Int("created", len(jobs)),
	)
	s.dispatchAsync(jobs)

	if createErr != nil {
		return audit.Batch{}, createErr
	}
	stored, err := s.store.GetBatch(ctx, batch.ID)
	if err != nil {
		return audit.Batch{}, fmt.Errorf("reload batch: %w", err)
	}
	return stored, nil
}

// DefaultBatchName names a batch submitted without a name.
func DefaultBatchName(at time.Time) string {
	return "Batch " + at.Format("2006-01-02")
}

func (s *Service) abandonMembers(ctx context.Context, batchID string, n int) {
	at := s.clock.Now().UTC()
	for range n {
		if _, err := s.store.RecordBatchOutcome(ctx, batchID, false, at); err != nil {
			s.logger.Error("record abandoned batch member failed", zap.String("batch_id", batchID), zap.Error(err))
			return
		}
	}
}

// dispatchAsync enqueues jobs in order without blocking the caller. Jobs not
// enqueued before shutdown stay queued in the store and are picked up by
// Resume on the next start.
func (s *Service) dispatchAsync(jobs []audit.Job) {
	if len(jobs) == 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx := s.cfg.BaseContext
		for _, job := range jobs {
			if ctx.Err() != nil {
				s.logger.Warn("shutdown during batch dispatch; remaining jobs stay queued",
					zap.String("batch_id", job.BatchID))
				return
			}
			s.enqueue(ctx, job)
		}
	}()
}

// Wait blocks until background dispatches finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

// enqueue hands job to the queue. When that fails for any reason other than
// shutdown, the job is failed so it never sits queued forever.
func (s *Service) enqueue(ctx context.Context, job audit.Job) audit.Job {
	err := s.queue.Enqueue(ctx, audit.QueueItem{JobID: job.ID, EnqueuedAt: s.clock.Now().UTC()})
	if err == nil {
		return job
	}
	if errors.Is(s.cfg.BaseContext.Err(), context.Canceled) {
		return job
	}
	s.logger.Error("enqueue job failed", zap.String("job_id", job.ID), zap.Error(err))
	failed, ferr := s.finalizer.Fail(context.WithoutCancel(ctx), job, fmt.Sprintf("dispatch failed: %v", err))
	if ferr != nil {
		s.logger.Error("record dispatch failure failed", zap.String("job_id", job.ID), zap.Error(ferr))
		return job
	}
	return failed
}

func (s *Service) emitQueued(job audit.Job) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(progress.Event{
		JobID:   job.ID,
		BatchID: job.BatchID,
		TS:      job.CreatedAt,
		Stage:   progress.StageJobQueued,
		URL:     job.URL,
	})
}

func (s *Service) maxPages(requested int) (int, error) {
	switch {
	case requested < 0:
		return 0, fmt.Errorf("%w: max_pages must be positive", audit.ErrInvalidRequest)
	case requested == 0:
		return s.cfg.DefaultMaxPages, nil
	case requested > s.cfg.MaxPagesCap:
		return 0, fmt.Errorf("%w: max_pages must be at most %d", audit.ErrInvalidRequest, s.cfg.MaxPagesCap)
	default:
		return requested, nil
	}
}

// Resume re-enqueues every job still queued in the store, oldest first. It
// blocks on a full queue and returns how many jobs were handed over.
func (s *Service) Resume(ctx context.Context) (int, error) {
	jobs, err := s.store.ListJobs(ctx, audit.ListFilter{Status: audit.StatusQueued})
	if err != nil {
		return 0, fmt.Errorf("list queued jobs: %w", err)
	}
	resumed := 0
	for i := len(jobs) - 1; i >= 0; i-- {
		if err := s.queue.Enqueue(ctx, audit.QueueItem{JobID: jobs[i].ID, EnqueuedAt: s.clock.Now().UTC()}); err != nil {
			return resumed, fmt.Errorf("resume job %s: %w", jobs[i].ID, err)
		}
		resumed++
	}
	if resumed > 0 {
		s.logger.Info("resumed queued jobs", zap.Int("count", resumed))
	}
	return resumed, nil
}
