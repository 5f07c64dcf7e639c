package reporting

import (
	"context"
	"errors"
	"sort"
	"time"

	"fleet-dispatch/internal/batch"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// DefaultHistoryWindow bounds unfiltered history queries.
const DefaultHistoryWindow = 30 * 24 * time.Hour

// Repository abstracts data access for reporting.
// Implementations should read the same rows the orchestrator writes; reporting
// never mutates.

type Repository interface {
	GetBatch(ctx context.Context, batchID string) (batch.Batch, error)
	ListJobs(ctx context.Context, batchID string) ([]batch.CallJob, error)
	ListJobsSince(ctx context.Context, since time.Time) ([]batch.CallJob, error)
}

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// BatchSummary aggregates a batch's jobs by status and duration. Counts are
// derived from the job rows, not the batch counters, so a summary taken
// mid-dispatch reflects the live picture.
func (s *Service) BatchSummary(ctx context.Context, req BatchSummaryRequest) (BatchSummary, error) {
	if req.BatchID == "" {
		return BatchSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return BatchSummary{}, errors.New("reporting: repository not configured")
	}

	b, err := s.repo.GetBatch(ctx, req.BatchID)
	if err != nil {
		return BatchSummary{}, err
	}
	rows, err := s.repo.ListJobs(ctx, req.BatchID)
	if err != nil {
		return BatchSummary{}, err
	}

	out := BatchSummary{BatchID: b.ID, BatchName: b.Name, Status: string(b.Status)}
	for _, j := range rows {
		out.TotalJobs++
		out.TotalDurationSeconds += j.DurationSeconds
		if j.RecordingURL != "" {
			out.RecordedCalls++
		}
		if j.RefinedTranscript != "" {
			out.TranscribedCalls++
		}
		switch j.Status {
		case batch.JobStatusQueued:
			out.QueuedJobs++
		case batch.JobStatusRinging:
			out.RingingJobs++
		case batch.JobStatusActive:
			out.ActiveJobs++
		case batch.JobStatusCompleted:
			out.CompletedJobs++
		case batch.JobStatusFailed:
			out.FailedJobs++
		case batch.JobStatusCanceled:
			out.CanceledJobs++
		}
	}
	if out.TotalJobs > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalJobs
	}
	return out, nil
}

// History returns the flat call log, newest first.
func (s *Service) History(ctx context.Context, req HistoryRequest) ([]HistoryEntry, error) {
	if s.repo == nil {
		return nil, errors.New("reporting: repository not configured")
	}

	from := req.Range.From
	if from.IsZero() {
		from = s.clock().Add(-DefaultHistoryWindow)
	}
	to := req.Range.To
	if !to.IsZero() && !to.After(from) {
		return nil, ErrInvalidRequest
	}

	rows, err := s.repo.ListJobsSince(ctx, from)
	if err != nil {
		return nil, err
	}

	out := make([]HistoryEntry, 0, len(rows))
	for _, j := range rows {
		if !to.IsZero() && j.CreatedAt.After(to) {
			continue
		}
		out = append(out, HistoryEntry{
			JobID:           j.ID,
			BatchID:         j.BatchID,
			DriverName:      j.DriverName,
			PhoneNumber:     j.PhoneNumber,
			TargetRef:       j.TargetRef,
			Status:          string(j.Status),
			DurationSeconds: j.DurationSeconds,
			RecordingURL:    j.RecordingURL,
			ErrorMessage:    j.ErrorMessage,
			CreatedAt:       j.CreatedAt,
			CompletedAt:     j.CompletedAt,
		})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })

	if req.Limit > 0 && len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}
