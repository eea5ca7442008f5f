package audit

import (
	"context"
	"io"
	"time"
)

// JobStore persists audit jobs. Terminal transitions are conditional: a job
// leaves queued/running at most once.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, id string) (Job, error)
	GetStatus(ctx context.Context, id string) (StatusView, error)
	// ListJobs returns jobs newest first, or in submission order when the
	// filter names a batch.
	ListJobs(ctx context.Context, filter ListFilter) ([]Job, error)
	// ListStaleRunning returns running jobs started before the cutoff.
	ListStaleRunning(ctx context.Context, startedBefore time.Time) ([]Job, error)
	// MarkJobRunning moves a queued job to running or returns ErrNotQueued.
	MarkJobRunning(ctx context.Context, id string, at time.Time) (Job, error)
	// CompleteJob stores the result and inserts fixes atomically. It returns
	// ErrAlreadyTerminal when the job already finished.
	CompleteJob(ctx context.Context, id string, report Report, fixes []Fix, artifactURI string, at time.Time) (Job, error)
	// FailJob stores the failure message. It returns ErrAlreadyTerminal when
	// the job already finished.
	FailJob(ctx context.Context, id string, message string, at time.Time) (Job, error)
	DeleteJob(ctx context.Context, id string) error
}

// BatchStore persists batches and their convergent counters.
type BatchStore interface {
	CreateBatch(ctx context.Context, batch Batch) error
	MarkBatchRunning(ctx context.Context, id string) error
	GetBatch(ctx context.Context, id string) (Batch, error)
	ListBatches(ctx context.Context, clientID string) ([]Batch, error)
	// RecordBatchOutcome atomically increments the completed or failed
	// counter and returns the batch as it stands after the increment. The
	// batch becomes completed once every member is counted.
	RecordBatchOutcome(ctx context.Context, id string, succeeded bool, at time.Time) (Batch, error)
}

// FixStore reads and resolves derived fixes.
type FixStore interface {
	ListFixes(ctx context.Context, jobID string) ([]Fix, error)
	UpdateFix(ctx context.Context, id string, update FixUpdate, at time.Time) (Fix, error)
}

// Store is the full persistence surface used by the orchestrator.
type Store interface {
	JobStore
	BatchStore
	FixStore
}

// Request is a single Analyzer invocation.
type Request struct {
	JobID      string
	URL        string
	MaxPages   int
	ClientName string
}

// Output is a validated Analyzer result plus its raw bytes.
type Output struct {
	Report Report
	Raw    []byte
}

// Analyzer crawls a URL and returns scored category checks.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (Output, error)
}

// Queue provides enqueue/dequeue semantics for job ids.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID      string
	EnqueuedAt time.Time
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes terminal notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Limiter spaces Analyzer launches per host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Hasher computes digests for artifact paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
