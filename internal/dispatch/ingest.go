package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"fleet-dispatch/internal/batch"
	"fleet-dispatch/internal/telephony"
	"fleet-dispatch/pkg/logger"

	"github.com/google/uuid"
)

// IngestOutcome describes how a webhook event was handled. Every outcome is
// an acknowledgment; provider retries must never be answered with an error
// for business reasons.
type IngestOutcome string

const (
	// OutcomeApplied: the event caused a state transition.
	OutcomeApplied IngestOutcome = "applied"
	// OutcomeEnriched: duplicate completion, only enrichment data merged.
	OutcomeEnriched IngestOutcome = "enriched"
	// OutcomeStale: the job is already terminal; the event was ignored.
	OutcomeStale IngestOutcome = "stale"
	// OutcomeDropped: no call reference, unknown job, or unknown event kind.
	OutcomeDropped IngestOutcome = "dropped"
)

type IngestResult struct {
	Outcome IngestOutcome `json:"outcome"`
	JobID   string        `json:"job_id,omitempty"`
}

// Ingestor applies normalized provider lifecycle events to call jobs.
// It runs concurrently with the dispatch loop and the watchdog; every write
// goes through the store's compare-and-set so a race loser observes a no-op.
type Ingestor struct {
	Store batch.Store
	Clock func() time.Time
}

// Apply correlates the event to a job and applies the transition.
//
// Correlation: the call reference is treated as the internal job id when it
// is a UUID, otherwise (or when no such job exists) it is looked up as a
// provider handle. Events for unknown jobs are acknowledged and dropped so
// provider retries cannot storm.
func (in *Ingestor) Apply(ctx context.Context, ev telephony.CallEvent) (IngestResult, error) {
	log := logger.From(ctx).With("event", ev.RawKind, "call_ref", ev.CallRef)

	if ev.CallRef == "" {
		log.Warn("webhook event without call reference, dropping")
		return IngestResult{Outcome: OutcomeDropped}, nil
	}

	job, err := in.findJob(ctx, ev.CallRef)
	if errors.Is(err, batch.ErrNotFound) {
		log.Warn("webhook event for unknown job, dropping")
		return IngestResult{Outcome: OutcomeDropped}, nil
	}
	if err != nil {
		return IngestResult{}, err
	}
	log = log.With("job_id", job.ID, "batch_id", job.BatchID)

	switch ev.Kind {
	case telephony.EventQueued:
		return in.transition(ctx, log, job, batch.JobPatch{Status: batch.JobStatusQueued})

	case telephony.EventPlaced:
		return in.transition(ctx, log, job, batch.JobPatch{Status: batch.JobStatusActive, StampStarted: true})

	case telephony.EventCompleted:
		return in.complete(ctx, log, job, ev)

	case telephony.EventFailed, telephony.EventNoAnswer, telephony.EventBusy:
		msg := "provider event: " + ev.RawKind
		return in.terminate(ctx, log, job, batch.JobPatch{
			Status: batch.JobStatusFailed, ErrorMessage: &msg, StampCompleted: true,
		})

	case telephony.EventCanceled:
		msg := "provider event: " + ev.RawKind
		return in.terminate(ctx, log, job, batch.JobPatch{
			Status: batch.JobStatusCanceled, ErrorMessage: &msg, StampCompleted: true,
		})

	default:
		log.Info("unhandled webhook event kind, dropping")
		return IngestResult{Outcome: OutcomeDropped, JobID: job.ID}, nil
	}
}

func (in *Ingestor) findJob(ctx context.Context, callRef string) (batch.CallJob, error) {
	if _, err := uuid.Parse(callRef); err == nil {
		job, err := in.Store.GetJob(ctx, callRef)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, batch.ErrNotFound) {
			return batch.CallJob{}, err
		}
	}
	return in.Store.FindJobByProviderHandle(ctx, callRef)
}

// transition applies a non-terminal state move; terminal jobs are never
// revived, the stale event is logged and ignored.
func (in *Ingestor) transition(ctx context.Context, log *slog.Logger, job batch.CallJob, patch batch.JobPatch) (IngestResult, error) {
	_, applied, err := in.Store.TransitionJob(ctx, job.ID, batch.NonTerminalStatuses(), patch)
	if err != nil {
		return IngestResult{}, err
	}
	if !applied {
		log.Warn("stale event for terminal job, ignoring", "status", job.Status)
		return IngestResult{Outcome: OutcomeStale, JobID: job.ID}, nil
	}
	return IngestResult{Outcome: OutcomeApplied, JobID: job.ID}, nil
}

func (in *Ingestor) complete(ctx context.Context, log *slog.Logger, job batch.CallJob, ev telephony.CallEvent) (IngestResult, error) {
	enrich := batch.Enrichment{}
	if ev.Transcript != "" {
		enrich.RefinedTranscript = &ev.Transcript
	}
	if ev.RecordingURL != "" {
		enrich.RecordingURL = &ev.RecordingURL
	}
	if ev.DurationSeconds > 0 {
		enrich.DurationSeconds = &ev.DurationSeconds
	}

	// Duplicate completion: merge enrichment, change nothing else.
	if job.Status == batch.JobStatusCompleted {
		if _, err := in.Store.EnrichJob(ctx, job.ID, enrich); err != nil {
			return IngestResult{}, err
		}
		log.Info("duplicate completion, enrichment merged")
		return IngestResult{Outcome: OutcomeEnriched, JobID: job.ID}, nil
	}

	_, applied, err := in.Store.TransitionJob(ctx, job.ID, batch.NonTerminalStatuses(), batch.JobPatch{
		Status:            batch.JobStatusCompleted,
		StampCompleted:    true,
		RefinedTranscript: enrich.RefinedTranscript,
		RecordingURL:      enrich.RecordingURL,
		DurationSeconds:   enrich.DurationSeconds,
	})
	if err != nil {
		return IngestResult{}, err
	}
	if !applied {
		log.Warn("stale completion for terminal job, ignoring", "status", job.Status)
		return IngestResult{Outcome: OutcomeStale, JobID: job.ID}, nil
	}

	if _, err := in.Store.AddBatchCounts(ctx, job.BatchID, 1, 0); err != nil {
		return IngestResult{}, err
	}
	if _, closed, err := in.Store.CloseBatchIfDone(ctx, job.BatchID); err != nil {
		return IngestResult{}, err
	} else if closed {
		log.Info("batch closed")
	}
	return IngestResult{Outcome: OutcomeApplied, JobID: job.ID}, nil
}

// terminate applies a terminal failure/cancel transition and tallies it.
func (in *Ingestor) terminate(ctx context.Context, log *slog.Logger, job batch.CallJob, patch batch.JobPatch) (IngestResult, error) {
	_, applied, err := in.Store.TransitionJob(ctx, job.ID, batch.NonTerminalStatuses(), patch)
	if err != nil {
		return IngestResult{}, err
	}
	if !applied {
		log.Warn("stale terminal event, ignoring", "status", job.Status)
		return IngestResult{Outcome: OutcomeStale, JobID: job.ID}, nil
	}

	if _, err := in.Store.AddBatchCounts(ctx, job.BatchID, 0, 1); err != nil {
		return IngestResult{}, err
	}
	if _, closed, err := in.Store.CloseBatchIfDone(ctx, job.BatchID); err != nil {
		return IngestResult{}, err
	} else if closed {
		log.Info("batch closed")
	}
	return IngestResult{Outcome: OutcomeApplied, JobID: job.ID}, nil
}
