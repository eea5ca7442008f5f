// Package lifecycle owns terminal transitions of audit jobs: storing the
// result or failure, deriving fixes, and settling batch counters.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/audit"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/logging"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/metrics"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/progress"
)

// MaxErrorMessageBytes caps the failure text stored on a job.
const MaxErrorMessageBytes = 1000

const defaultFailureMessage = "audit failed"

// followUpTimeout bounds the bookkeeping that runs after a terminal
// transition has committed.
const followUpTimeout = 10 * time.Second

// Config controls terminal notifications.
type Config struct {
	// Topic is passed to the Publisher; empty disables notifications.
	Topic string
}

// Finalizer performs the single terminal transition of a job and the
// bookkeeping that hangs off it.
type Finalizer struct {
	store     audit.Store
	ids       audit.IDGenerator
	clock     audit.Clock
	emitter   progress.Emitter
	publisher audit.Publisher
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Finalizer. The emitter and publisher are optional.
func New(
	store audit.Store,
	ids audit.IDGenerator,
	clock audit.Clock,
	emitter progress.Emitter,
	publisher audit.Publisher,
	cfg Config,
	logger *zap.Logger,
) *Finalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Finalizer{
		store:     store,
		ids:       ids,
		clock:     clock,
		emitter:   emitter,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.Named("lifecycle"),
	}
}

// Complete stores report on job together with one fix per recommendation.
// It returns audit.ErrAlreadyTerminal, untouched, when another path already
// finished the job; batch counters are not updated in that case.
func (f *Finalizer) Complete(ctx context.Context, job audit.Job, report audit.Report, artifactURI string) (audit.Job, error) {
	at := f.clock.Now().UTC()
	fixes, err := DeriveFixes(job, report, f.ids, at)
	if err != nil {
		return audit.Job{}, err
	}
	done, err := f.store.CompleteJob(ctx, job.ID, report, fixes, artifactURI, at)
	if err != nil {
		if errors.Is(err, audit.ErrAlreadyTerminal) {
			f.logger.Info("job already terminal; result discarded", zap.String("job_id", job.ID))
		}
		return audit.Job{}, fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	f.logger.Info("audit completed", append(logging.JobFields(done.ID, done.BatchID, done.URL),
		zap.Int("score", report.OverallScore),
		zap.String("grade", report.OverallGrade),
		zap.Int("fixes", len(fixes)),
	)...)
	f.after(ctx, done, at)
	return done, nil
}

// Fail stores a truncated, non-empty failure message on job. Like Complete,
// it returns audit.ErrAlreadyTerminal when the job already finished.
func (f *Finalizer) Fail(ctx context.Context, job audit.Job, message string) (audit.Job, error) {
	at := f.clock.Now().UTC()
	failed, err := f.store.FailJob(ctx, job.ID, TruncateMessage(message), at)
	if err != nil {
		if errors.Is(err, audit.ErrAlreadyTerminal) {
			f.logger.Info("job already terminal; failure discarded", zap.String("job_id", job.ID))
		}
		return audit.Job{}, fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	f.logger.Warn("audit failed", append(logging.JobFields(failed.ID, failed.BatchID, failed.URL),
		zap.String("error", failed.ErrorMessage),
	)...)
	f.after(ctx, failed, at)
	return failed, nil
}

// after runs once the terminal state is stored. It detaches from ctx: a
// committed transition must still reach the batch counters during shutdown.
func (f *Finalizer) after(ctx context.Context, job audit.Job, at time.Time) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), followUpTimeout)
	defer cancel()
	metrics.ObserveJob(string(job.Status))
	f.emit(job, at)
	f.notify(ctx, job)
	if job.BatchID != "" {
		f.settleBatch(ctx, job, at)
	}
}

func (f *Finalizer) emit(job audit.Job, at time.Time) {
	if f.emitter == nil {
		return
	}
	evt := progress.Event{
		JobID:   job.ID,
		BatchID: job.BatchID,
		TS:      at,
		URL:     job.URL,
	}
	if job.StartedAt != nil && at.After(*job.StartedAt) {
		evt.Dur = at.Sub(*job.StartedAt)
	}
	if job.Status == audit.StatusCompleted && job.Result != nil {
		evt.Stage = progress.StageJobDone
		evt.Score = job.Result.OverallScore
		evt.Grade = job.Result.OverallGrade
	} else {
		evt.Stage = progress.StageJobError
		evt.Note = job.ErrorMessage
	}
	f.emitter.Emit(evt)
}

func (f *Finalizer) notify(ctx context.Context, job audit.Job) {
	if f.publisher == nil || f.cfg.Topic == "" {
		return
	}
	id, err := f.publisher.Publish(ctx, f.cfg.Topic, NewNotification(job))
	if err != nil {
		f.logger.Warn("terminal notification failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	f.logger.Debug("terminal notification published", zap.String("job_id", job.ID), zap.String("message_id", id))
}

// settleBatch counts the outcome of a batch member. Exactly one caller sees
// the increment that settles the batch and reports it; the BATCH_DONE event
// carries that member's job id so it lands on the member's timeline.
func (f *Finalizer) settleBatch(ctx context.Context, job audit.Job, at time.Time) {
	batch, err := f.store.RecordBatchOutcome(ctx, job.BatchID, job.Status == audit.StatusCompleted, at)
	if err != nil {
		f.logger.Error("record batch outcome failed",
			zap.String("job_id", job.ID),
			zap.String("batch_id", job.BatchID),
			zap.Error(err),
		)
		return
	}
	if !batch.Settled() || batch.Status != audit.StatusCompleted {
		return
	}
	f.logger.Info("batch completed",
		zap.String("batch_id", batch.ID),
		zap.Int("completed", batch.CompletedURLs),
		zap.Int("failed", batch.FailedURLs),
	)
	if f.emitter != nil {
		f.emitter.Emit(progress.Event{
			JobID:   job.ID,
			BatchID: batch.ID,
			TS:      at,
			Stage:   progress.StageBatchDone,
			Note:    fmt.Sprintf("%d completed, %d failed", batch.CompletedURLs, batch.FailedURLs),
		})
	}
}

// TruncateMessage trims msg and caps it at MaxErrorMessageBytes without
// splitting a UTF-8 sequence. Invalid sequences are replaced with U+FFFD.
// An empty message becomes a generic one.
func TruncateMessage(msg string) string {
	msg = strings.TrimSpace(strings.ToValidUTF8(msg, "\uFFFD"))
	if msg == "" {
		return defaultFailureMessage
	}
	if len(msg) <= MaxErrorMessageBytes {
		return msg
	}
	cut := MaxErrorMessageBytes
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
