package batch

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("batch: not found")
	ErrInvalidArgument = errors.New("batch: invalid argument")
)

// JobPatch describes a status transition write. Nil pointer fields are left
// untouched; StampStarted/StampCompleted set the timestamp only when the
// column is currently null, so a stale event never rewrites history.
type JobPatch struct {
	Status JobStatus

	ProviderHandle *string
	ErrorMessage   *string

	StampStarted   bool
	StampCompleted bool

	RefinedTranscript *string
	RecordingURL      *string
	DurationSeconds   *int
}

// Enrichment carries completion data that may arrive after the terminal
// transition (duplicate webhook, transcript pull fallback). Nil fields keep
// the stored value; a known value is never overwritten with null.
type Enrichment struct {
	RefinedTranscript *string
	RecordingURL      *string
	DurationSeconds   *int
}

// Store is the record-store contract shared by the dispatch loop, the
// webhook ingestor and the watchdog. It is the single source of truth;
// callers never cache rows longer than one request/scan cycle.
//
// Concurrency discipline:
//   - TransitionJob is a compare-and-set on status: the write applies only
//     when the current status is in from. The loser of a race observes
//     applied=false and must treat it as a no-op.
//   - AddBatchCounts is a server-side atomic add.
//   - CloseBatchIfDone is idempotent: completed_at is stamped at most once.
type Store interface {
	CreateBatch(ctx context.Context, b Batch, jobs []CallJob) error
	GetBatch(ctx context.Context, batchID string) (Batch, error)
	GetJob(ctx context.Context, jobID string) (CallJob, error)
	FindJobByProviderHandle(ctx context.Context, handle string) (CallJob, error)

	// ListQueuedJobs returns queued jobs of a batch in creation order.
	ListQueuedJobs(ctx context.Context, batchID string) ([]CallJob, error)
	ListJobs(ctx context.Context, batchID string) ([]CallJob, error)
	ListJobsSince(ctx context.Context, since time.Time) ([]CallJob, error)
	ListExecutingBatches(ctx context.Context) ([]Batch, error)

	// MarkBatchExecuting moves an approved batch to executing. Calling it on
	// a batch already executing is a no-op.
	MarkBatchExecuting(ctx context.Context, batchID string) (Batch, error)

	// TransitionJob applies patch iff the job's current status is in from.
	// Returns the resulting row and whether the write was applied.
	TransitionJob(ctx context.Context, jobID string, from []JobStatus, patch JobPatch) (CallJob, bool, error)

	// EnrichJob merges completion data into an already-completed job.
	EnrichJob(ctx context.Context, jobID string, e Enrichment) (CallJob, error)

	// AddBatchCounts atomically adds to the success/failure tallies.
	AddBatchCounts(ctx context.Context, batchID string, successful, failed int) (Batch, error)

	// CloseBatchIfDone sets the batch completed iff every job is terminal and
	// the batch has not been closed before. Returns whether this call closed it.
	CloseBatchIfDone(ctx context.Context, batchID string) (Batch, bool, error)
}
