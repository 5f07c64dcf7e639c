package reporting

import (
	"context"
	"testing"
	"time"

	"fleet-dispatch/internal/batch"
)

func seed(t *testing.T, store *batch.MemoryStore, now time.Time) (batch.Batch, []batch.CallJob) {
	t.Helper()
	b := batch.Batch{
		ID: "b1", Name: "friday run", Status: batch.BatchStatusExecuting,
		TotalJobs: 3, CreatedAt: now,
	}
	rec := "https://cdn.example.com/rec.mp3"
	completed := now.Add(time.Minute)
	jobs := []batch.CallJob{
		{ID: "11111111-1111-1111-1111-111111111111", BatchID: "b1", DriverName: "Asha", PhoneNumber: "+14155550001",
			Status: batch.JobStatusCompleted, DurationSeconds: 30, RecordingURL: rec,
			RefinedTranscript: "Driver: ok", CreatedAt: now, CompletedAt: &completed},
		{ID: "22222222-2222-2222-2222-222222222222", BatchID: "b1", DriverName: "Ben", PhoneNumber: "+14155550002",
			Status: batch.JobStatusFailed, ErrorMessage: "provider event: call.busy", CreatedAt: now.Add(time.Second)},
		{ID: "33333333-3333-3333-3333-333333333333", BatchID: "b1", DriverName: "Cora", PhoneNumber: "+14155550003",
			Status: batch.JobStatusActive, CreatedAt: now.Add(2 * time.Second)},
	}
	if err := store.CreateBatch(context.Background(), b, jobs); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return b, jobs
}

func TestBatchSummary_AggregatesByStatus(t *testing.T) {
	store := batch.NewMemoryStore()
	now := time.Unix(1700000000, 0).UTC()
	seed(t, store, now)

	svc := NewService(store)
	out, err := svc.BatchSummary(context.Background(), BatchSummaryRequest{BatchID: "b1"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalJobs != 3 || out.CompletedJobs != 1 || out.FailedJobs != 1 || out.ActiveJobs != 1 {
		t.Fatalf("unexpected summary: %+v", out)
	}
	if out.TotalDurationSeconds != 30 || out.AverageDurationSeconds != 10 {
		t.Fatalf("duration aggregates: %+v", out)
	}
	if out.RecordedCalls != 1 || out.TranscribedCalls != 1 {
		t.Fatalf("media counts: %+v", out)
	}
	if out.BatchName != "friday run" {
		t.Fatalf("batch name = %q", out.BatchName)
	}
}

func TestBatchSummary_RequiresBatchID(t *testing.T) {
	svc := NewService(batch.NewMemoryStore())
	if _, err := svc.BatchSummary(context.Background(), BatchSummaryRequest{}); err != ErrInvalidRequest {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
}

func TestBatchSummary_UnknownBatch(t *testing.T) {
	svc := NewService(batch.NewMemoryStore())
	if _, err := svc.BatchSummary(context.Background(), BatchSummaryRequest{BatchID: "nope"}); err == nil {
		t.Fatalf("expected not-found error")
	}
}

func TestHistory_NewestFirstWithDefaultWindow(t *testing.T) {
	store := batch.NewMemoryStore()
	now := time.Unix(1700000000, 0).UTC()
	seed(t, store, now)

	svc := NewService(store)
	svc.clock = func() time.Time { return now.Add(time.Hour) }

	rows, err := svc.History(context.Background(), HistoryRequest{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].CreatedAt.After(rows[i-1].CreatedAt) {
			t.Fatalf("rows not newest-first at %d", i)
		}
	}
}

func TestHistory_WindowExcludesOldRows(t *testing.T) {
	store := batch.NewMemoryStore()
	now := time.Unix(1700000000, 0).UTC()
	seed(t, store, now)

	svc := NewService(store)
	svc.clock = func() time.Time { return now.Add(DefaultHistoryWindow + 48*time.Hour) }

	rows, err := svc.History(context.Background(), HistoryRequest{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected stale rows excluded, got %d", len(rows))
	}
}

func TestHistory_LimitAndRange(t *testing.T) {
	store := batch.NewMemoryStore()
	now := time.Unix(1700000000, 0).UTC()
	seed(t, store, now)
	svc := NewService(store)

	rows, err := svc.History(context.Background(), HistoryRequest{
		Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)},
		Limit: 1,
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("limit not applied: %d rows", len(rows))
	}

	if _, err := svc.History(context.Background(), HistoryRequest{
		Range: TimeRange{From: now, To: now.Add(-time.Hour)},
	}); err != ErrInvalidRequest {
		t.Fatalf("err = %v, want ErrInvalidRequest for inverted range", err)
	}
}
