package batch

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and early development.
// It reproduces the concurrency discipline of the Postgres store under a
// single mutex: compare-and-set transitions, atomic counter adds and an
// idempotent batch close.
type MemoryStore struct {
	mu sync.Mutex

	batches map[string]*Batch
	jobs    map[string]*CallJob

	// Clock is injectable for deterministic tests.
	Clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		batches: map[string]*Batch{},
		jobs:    map[string]*CallJob{},
		Clock:   time.Now,
	}
}

func (s *MemoryStore) CreateBatch(ctx context.Context, b Batch, jobs []CallJob) error {
	if b.ID == "" {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := b
	s.batches[b.ID] = &cp
	for _, j := range jobs {
		jc := j
		s.jobs[j.ID] = &jc
	}
	return nil
}

func (s *MemoryStore) GetBatch(ctx context.Context, batchID string) (Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return Batch{}, ErrNotFound
	}
	return *b, nil
}

func (s *MemoryStore) GetJob(ctx context.Context, jobID string) (CallJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return CallJob{}, ErrNotFound
	}
	return *j, nil
}

func (s *MemoryStore) FindJobByProviderHandle(ctx context.Context, handle string) (CallJob, error) {
	if handle == "" {
		return CallJob{}, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ProviderHandle == handle {
			return *j, nil
		}
	}
	return CallJob{}, ErrNotFound
}

func (s *MemoryStore) ListQueuedJobs(ctx context.Context, batchID string) ([]CallJob, error) {
	return s.listWhere(func(j *CallJob) bool {
		return j.BatchID == batchID && j.Status == JobStatusQueued
	}, false), nil
}

func (s *MemoryStore) ListJobs(ctx context.Context, batchID string) ([]CallJob, error) {
	return s.listWhere(func(j *CallJob) bool { return j.BatchID == batchID }, false), nil
}

func (s *MemoryStore) ListJobsSince(ctx context.Context, since time.Time) ([]CallJob, error) {
	return s.listWhere(func(j *CallJob) bool { return !j.CreatedAt.Before(since) }, true), nil
}

func (s *MemoryStore) listWhere(keep func(*CallJob) bool, newestFirst bool) []CallJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CallJob, 0)
	for _, j := range s.jobs {
		if keep(j) {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if newestFirst {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out
}

func (s *MemoryStore) ListExecutingBatches(ctx context.Context) ([]Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Batch, 0)
	for _, b := range s.batches {
		if b.Status == BatchStatusExecuting {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) MarkBatchExecuting(ctx context.Context, batchID string) (Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return Batch{}, ErrNotFound
	}
	if b.Status == BatchStatusApproved {
		b.Status = BatchStatusExecuting
	}
	return *b, nil
}

func (s *MemoryStore) TransitionJob(ctx context.Context, jobID string, from []JobStatus, patch JobPatch) (CallJob, bool, error) {
	if jobID == "" || len(from) == 0 {
		return CallJob{}, false, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return CallJob{}, false, ErrNotFound
	}

	matched := false
	for _, st := range from {
		if j.Status == st {
			matched = true
			break
		}
	}
	if !matched {
		return *j, false, nil
	}

	now := s.Clock().UTC()
	j.Status = patch.Status
	if patch.ProviderHandle != nil {
		j.ProviderHandle = *patch.ProviderHandle
	}
	if patch.ErrorMessage != nil {
		j.ErrorMessage = *patch.ErrorMessage
	}
	if patch.StampStarted && j.StartedAt == nil {
		t := now
		j.StartedAt = &t
	}
	if patch.StampCompleted && j.CompletedAt == nil {
		t := now
		j.CompletedAt = &t
	}
	applyEnrichment(j, Enrichment{
		RefinedTranscript: patch.RefinedTranscript,
		RecordingURL:      patch.RecordingURL,
		DurationSeconds:   patch.DurationSeconds,
	})
	return *j, true, nil
}

func (s *MemoryStore) EnrichJob(ctx context.Context, jobID string, e Enrichment) (CallJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return CallJob{}, ErrNotFound
	}
	if j.Status == JobStatusCompleted {
		applyEnrichment(j, e)
	}
	return *j, nil
}

func applyEnrichment(j *CallJob, e Enrichment) {
	if e.RefinedTranscript != nil && *e.RefinedTranscript != "" {
		j.RefinedTranscript = *e.RefinedTranscript
	}
	if e.RecordingURL != nil && *e.RecordingURL != "" {
		j.RecordingURL = *e.RecordingURL
	}
	if e.DurationSeconds != nil && *e.DurationSeconds > j.DurationSeconds {
		j.DurationSeconds = *e.DurationSeconds
	}
}

func (s *MemoryStore) AddBatchCounts(ctx context.Context, batchID string, successful, failed int) (Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return Batch{}, ErrNotFound
	}
	b.SuccessfulJobs += successful
	b.FailedJobs += failed
	return *b, nil
}

func (s *MemoryStore) CloseBatchIfDone(ctx context.Context, batchID string) (Batch, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return Batch{}, false, ErrNotFound
	}
	if b.CompletedAt != nil {
		return *b, false, nil
	}
	for _, j := range s.jobs {
		if j.BatchID == batchID && !j.Status.Terminal() {
			return *b, false, nil
		}
	}
	now := s.Clock().UTC()
	b.Status = BatchStatusCompleted
	b.CompletedAt = &now
	return *b, true, nil
}
