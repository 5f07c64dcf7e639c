package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"fleet-dispatch/internal/batch"
	"fleet-dispatch/internal/telephony"

	"github.com/google/uuid"
)

// fakeProvider is a scriptable DialProvider for orchestrator tests.
type fakeProvider struct {
	mu sync.Mutex

	placed   []telephony.PlaceCallRequest
	canceled []string

	failFor   map[string]error // job id -> placement error
	healthErr error
	cancelErr error

	// emptyHandle simulates a provider response with no recognizable call id.
	emptyHandle bool

	details    telephony.CallDetails
	detailsErr error

	// onPlace runs inside PlaceCall, before returning; used to observe
	// store state at placement time.
	onPlace func(req telephony.PlaceCallRequest)
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) HealthCheck(ctx context.Context) error { return f.healthErr }

func (f *fakeProvider) PlaceCall(ctx context.Context, req telephony.PlaceCallRequest) (telephony.PlaceCallResult, error) {
	f.mu.Lock()
	f.placed = append(f.placed, req)
	f.mu.Unlock()

	if f.onPlace != nil {
		f.onPlace(req)
	}
	if err, ok := f.failFor[req.JobID]; ok {
		return telephony.PlaceCallResult{}, err
	}
	if f.emptyHandle {
		return telephony.PlaceCallResult{Raw: `{"status":"ok"}`}, nil
	}
	return telephony.PlaceCallResult{Handle: "vx-" + req.JobID}, nil
}

func (f *fakeProvider) CancelCall(ctx context.Context, handle string) error {
	f.mu.Lock()
	f.canceled = append(f.canceled, handle)
	f.mu.Unlock()
	return f.cancelErr
}

func (f *fakeProvider) FetchCallDetails(ctx context.Context, handle string) (telephony.CallDetails, error) {
	if f.detailsErr != nil {
		return telephony.CallDetails{}, f.detailsErr
	}
	return f.details, nil
}

func (f *fakeProvider) placedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placed)
}

// seedBatch creates an approved batch with n queued jobs in creation order.
func seedBatch(t *testing.T, store *batch.MemoryStore, n int) (batch.Batch, []batch.CallJob) {
	t.Helper()
	now := time.Unix(1700000000, 0).UTC()
	approved := now
	b := batch.Batch{
		ID:         uuid.NewString(),
		Name:       "test batch",
		Status:     batch.BatchStatusApproved,
		TotalJobs:  n,
		CreatedAt:  now,
		ApprovedAt: &approved,
	}
	jobs := make([]batch.CallJob, 0, n)
	for i := 0; i < n; i++ {
		jobs = append(jobs, batch.CallJob{
			ID:          uuid.NewString(),
			BatchID:     b.ID,
			DriverName:  fmt.Sprintf("Driver %d", i+1),
			PhoneNumber: fmt.Sprintf("+1415555%04d", i),
			TargetRef:   fmt.Sprintf("KA01AB%04d", i),
			Status:      batch.JobStatusQueued,
			CreatedAt:   now.Add(time.Duration(i) * time.Second),
		})
	}
	if err := store.CreateBatch(context.Background(), b, jobs); err != nil {
		t.Fatalf("seed batch: %v", err)
	}
	return b, jobs
}

func mustJob(t *testing.T, store batch.Store, id string) batch.CallJob {
	t.Helper()
	j, err := store.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("get job %s: %v", id, err)
	}
	return j
}

func mustBatch(t *testing.T, store batch.Store, id string) batch.Batch {
	t.Helper()
	b, err := store.GetBatch(context.Background(), id)
	if err != nil {
		t.Fatalf("get batch %s: %v", id, err)
	}
	return b
}

// memoryLock is a single-process BatchLock for tests.
type memoryLock struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemoryLock() *memoryLock { return &memoryLock{held: map[string]bool{}} }

func (l *memoryLock) Acquire(ctx context.Context, batchID string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[batchID] {
		return false, nil
	}
	l.held[batchID] = true
	return true, nil
}

func (l *memoryLock) Release(ctx context.Context, batchID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, batchID)
	return nil
}
