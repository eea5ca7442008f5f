// Package worker runs queued audit jobs through the Analyzer.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/audit"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/lifecycle"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/logging"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/metrics"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/progress"
)

// Config controls Worker behavior.
type Config struct {
	// ArtifactPrefix is prepended to archived Analyzer output paths.
	ArtifactPrefix string
	ContentType    string
}

// Worker consumes queue items and executes one audit at a time.
type Worker struct {
	queue     audit.Queue
	store     audit.JobStore
	analyzer  audit.Analyzer
	limiter   audit.Limiter
	blobStore audit.BlobStore
	hasher    audit.Hasher
	clock     audit.Clock
	finalizer *lifecycle.Finalizer
	emitter   progress.Emitter
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. limiter, blobStore, hasher and emitter are optional.
func New(
	queue audit.Queue,
	store audit.JobStore,
	analyzer audit.Analyzer,
	limiter audit.Limiter,
	blobStore audit.BlobStore,
	hasher audit.Hasher,
	clock audit.Clock,
	finalizer *lifecycle.Finalizer,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}
	return &Worker{
		queue:     queue,
		store:     store,
		analyzer:  analyzer,
		limiter:   limiter,
		blobStore: blobStore,
		hasher:    hasher,
		clock:     clock,
		finalizer: finalizer,
		emitter:   emitter,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			if !sleepCtx(ctx, 100*time.Millisecond) {
				return
			}
			continue
		}
		fields := []zap.Field{zap.String("job_id", item.JobID)}
		if !item.EnqueuedAt.IsZero() {
			fields = append(fields, zap.Duration("queue_wait", w.clock.Now().Sub(item.EnqueuedAt)))
		}
		w.logger.Debug("dequeued job", fields...)
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item audit.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	job, err := w.store.GetJob(ctx, item.JobID)
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			w.logger.Warn("queued job no longer exists", zap.String("job_id", item.JobID))
			return
		}
		w.logger.Error("load job failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}
	if job.Status != audit.StatusQueued {
		w.logger.Debug("skipping job that is not queued",
			zap.String("job_id", job.ID),
			zap.String("status", string(job.Status)),
		)
		return
	}

	// Claim only after the limiter admits the job; started_at must not
	// include time spent waiting on the host.
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, job.URL); err != nil {
			if ctx.Err() != nil {
				w.logger.Debug("shutdown while waiting on rate limiter; job stays queued", zap.String("job_id", job.ID))
				return
			}
			w.fail(ctx, w.logger.With(logging.JobFields(job.ID, job.BatchID, job.URL)...), job,
				fmt.Sprintf("rate limiter: %v", err))
			return
		}
	}

	running, err := w.store.MarkJobRunning(ctx, job.ID, w.clock.Now().UTC())
	if err != nil {
		if errors.Is(err, audit.ErrNotQueued) {
			w.logger.Debug("job claimed elsewhere", zap.String("job_id", job.ID))
			return
		}
		w.logger.Error("mark job running failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	logger := w.logger.With(logging.JobFields(running.ID, running.BatchID, running.URL)...)
	w.emitStart(running)
	logger.Info("audit started")

	out, err := w.analyzer.Analyze(ctx, audit.Request{
		JobID:      running.ID,
		URL:        running.URL,
		MaxPages:   running.Config.MaxPages,
		ClientName: running.Config.ClientName,
	})
	if err != nil {
		if ctx.Err() != nil {
			logger.Warn("shutdown interrupted audit; left for reconciliation", zap.Error(err))
			return
		}
		w.fail(ctx, logger, running, err.Error())
		return
	}

	uri := w.archive(ctx, logger, running.ID, out.Raw)
	if _, err := w.finalizer.Complete(ctx, running, out.Report, uri); err != nil {
		if errors.Is(err, audit.ErrAlreadyTerminal) {
			return
		}
		logger.Error("store audit result failed", zap.Error(err))
		w.fail(ctx, logger, running, fmt.Sprintf("store audit result: %v", err))
	}
}

func (w *Worker) fail(ctx context.Context, logger *zap.Logger, job audit.Job, message string) {
	if _, err := w.finalizer.Fail(ctx, job, message); err != nil && !errors.Is(err, audit.ErrAlreadyTerminal) {
		logger.Error("store audit failure failed", zap.Error(err))
	}
}

func (w *Worker) emitStart(job audit.Job) {
	if w.emitter == nil {
		return
	}
	ts := w.clock.Now().UTC()
	if job.StartedAt != nil {
		ts = *job.StartedAt
	}
	w.emitter.Emit(progress.Event{
		JobID:   job.ID,
		BatchID: job.BatchID,
		TS:      ts,
		Stage:   progress.StageJobStart,
		URL:     job.URL,
	})
}

// archive stores the raw Analyzer output and returns its URI. Failures are
// logged and yield an empty URI; the result itself is still stored.
func (w *Worker) archive(ctx context.Context, logger *zap.Logger, jobID string, raw []byte) string {
	if w.blobStore == nil || w.hasher == nil || len(raw) == 0 {
		metrics.ObserveArtifact("skipped")
		return ""
	}
	hash, err := w.hasher.Hash(raw)
	if err != nil {
		metrics.ObserveArtifact("error")
		logger.Warn("hash analyzer output failed", zap.Error(err))
		return ""
	}
	uri, err := w.blobStore.PutObject(ctx, w.buildArtifactPath(jobID, hash), w.cfg.ContentType, bytes.NewReader(raw))
	if err != nil {
		metrics.ObserveArtifact("error")
		logger.Warn("archive analyzer output failed", zap.Error(err))
		return ""
	}
	metrics.ObserveArtifact("ok")
	logger.Debug("analyzer output archived", zap.String("artifact_uri", uri))
	return uri
}

func (w *Worker) buildArtifactPath(jobID, hash string) string {
	prefix := strings.Trim(w.cfg.ArtifactPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.json", jobID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.json", prefix, jobID, hash)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
