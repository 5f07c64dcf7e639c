package dispatch

import (
	"context"
	"errors"
	"fmt"

	"fleet-dispatch/internal/batch"
	"fleet-dispatch/pkg/logger"
)

var (
	// ErrNoProviderHandle: the job never got a provider call id, so there is
	// nothing to fetch.
	ErrNoProviderHandle = errors.New("dispatch: no provider call id for job")

	// ErrProviderUnavailable wraps provider-side failures of the pull fallback.
	ErrProviderUnavailable = errors.New("dispatch: provider call-details fetch failed")
)

type TranscriptSource string

const (
	TranscriptSourceDatabase TranscriptSource = "database"
	TranscriptSourceProvider TranscriptSource = "provider"
)

type TranscriptResult struct {
	JobID           string           `json:"job_id"`
	Transcript      string           `json:"transcript,omitempty"`
	RecordingURL    string           `json:"recording_url,omitempty"`
	DurationSeconds int              `json:"duration,omitempty"`
	Source          TranscriptSource `json:"source"`
}

// FetchTranscript is the pull fallback for when the terminal webhook was
// lost: stored transcripts are served from the record store; otherwise the
// provider's call-details endpoint is queried and the result backfilled.
func (d *Dispatcher) FetchTranscript(ctx context.Context, jobID string) (TranscriptResult, error) {
	log := logger.From(ctx).With("job_id", jobID)

	job, err := d.Store.GetJob(ctx, jobID)
	if err != nil {
		return TranscriptResult{}, err
	}

	if job.RefinedTranscript != "" {
		return TranscriptResult{
			JobID:           job.ID,
			Transcript:      job.RefinedTranscript,
			RecordingURL:    job.RecordingURL,
			DurationSeconds: job.DurationSeconds,
			Source:          TranscriptSourceDatabase,
		}, nil
	}

	if job.ProviderHandle == "" {
		return TranscriptResult{}, ErrNoProviderHandle
	}
	if d.Provider == nil {
		return TranscriptResult{}, ErrProviderNotConfigured
	}

	details, err := d.Provider.FetchCallDetails(ctx, job.ProviderHandle)
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	d.backfill(ctx, job, details.Status, batch.Enrichment{
		RefinedTranscript: nonEmpty(details.Transcript),
		RecordingURL:      nonEmpty(details.RecordingURL),
		DurationSeconds:   positive(details.DurationSeconds),
	})

	log.Info("transcript fetched from provider", "provider_handle", job.ProviderHandle)
	return TranscriptResult{
		JobID:           job.ID,
		Transcript:      details.Transcript,
		RecordingURL:    details.RecordingURL,
		DurationSeconds: details.DurationSeconds,
		Source:          TranscriptSourceProvider,
	}, nil
}

// backfill writes provider-fetched data into the record store. When the
// provider reports a terminal status for a still-active job (the lost-webhook
// case), the terminal transition is applied with the usual counter and
// batch-close bookkeeping.
func (d *Dispatcher) backfill(ctx context.Context, job batch.CallJob, status string, enrich batch.Enrichment) {
	log := logger.From(ctx).With("batch_id", job.BatchID, "job_id", job.ID)

	if job.Status == batch.JobStatusCompleted {
		if _, err := d.Store.EnrichJob(ctx, job.ID, enrich); err != nil {
			log.Error("transcript backfill failed", "err", err)
		}
		return
	}

	var target batch.JobStatus
	switch batch.JobStatus(status) {
	case batch.JobStatusCompleted:
		target = batch.JobStatusCompleted
	case batch.JobStatusFailed:
		target = batch.JobStatusFailed
	case batch.JobStatusCanceled:
		target = batch.JobStatusCanceled
	default:
		// Provider still reports the call live; nothing definitive to store.
		return
	}

	msg := "provider status: " + status
	patch := batch.JobPatch{
		Status:            target,
		StampCompleted:    true,
		RefinedTranscript: enrich.RefinedTranscript,
		RecordingURL:      enrich.RecordingURL,
		DurationSeconds:   enrich.DurationSeconds,
	}
	if target != batch.JobStatusCompleted {
		patch.ErrorMessage = &msg
	}

	_, applied, err := d.Store.TransitionJob(ctx, job.ID, batch.NonTerminalStatuses(), patch)
	if err != nil {
		log.Error("transcript backfill transition failed", "err", err)
		return
	}
	if !applied {
		return
	}

	success, failed := 0, 1
	if target == batch.JobStatusCompleted {
		success, failed = 1, 0
	}
	if _, err := d.Store.AddBatchCounts(ctx, job.BatchID, success, failed); err != nil {
		log.Error("backfill counter increment failed", "err", err)
	}
	if _, _, err := d.Store.CloseBatchIfDone(ctx, job.BatchID); err != nil {
		log.Error("batch close check failed", "err", err)
	}
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func positive(n int) *int {
	if n <= 0 {
		return nil
	}
	return &n
}
