package feed

import (
	"context"
	"encoding/json"
	"time"

	"fleet-dispatch/internal/batch"
	"fleet-dispatch/pkg/logger"
)

// NotifyingStore decorates a batch.Store, publishing a change event after
// every successful write. Reads pass through untouched. Publish failures are
// logged and swallowed: the write already committed, and the dashboard
// reconciles from the store on its next poll anyway.
type NotifyingStore struct {
	batch.Store

	Publisher Publisher
	Clock     func() time.Time
}

func NewNotifyingStore(inner batch.Store, pub Publisher) *NotifyingStore {
	return &NotifyingStore{Store: inner, Publisher: pub, Clock: time.Now}
}

func (s *NotifyingStore) CreateBatch(ctx context.Context, b batch.Batch, jobs []batch.CallJob) error {
	if err := s.Store.CreateBatch(ctx, b, jobs); err != nil {
		return err
	}
	s.notifyBatch(ctx, b)
	return nil
}

func (s *NotifyingStore) MarkBatchExecuting(ctx context.Context, batchID string) (batch.Batch, error) {
	b, err := s.Store.MarkBatchExecuting(ctx, batchID)
	if err != nil {
		return b, err
	}
	s.notifyBatch(ctx, b)
	return b, nil
}

func (s *NotifyingStore) TransitionJob(ctx context.Context, jobID string, from []batch.JobStatus, patch batch.JobPatch) (batch.CallJob, bool, error) {
	job, applied, err := s.Store.TransitionJob(ctx, jobID, from, patch)
	if err != nil {
		return job, applied, err
	}
	// No-op CAS losers publish nothing; subscribers only ever see real changes.
	if applied {
		s.notifyJob(ctx, job)
	}
	return job, applied, nil
}

func (s *NotifyingStore) EnrichJob(ctx context.Context, jobID string, e batch.Enrichment) (batch.CallJob, error) {
	job, err := s.Store.EnrichJob(ctx, jobID, e)
	if err != nil {
		return job, err
	}
	s.notifyJob(ctx, job)
	return job, nil
}

func (s *NotifyingStore) AddBatchCounts(ctx context.Context, batchID string, successful, failed int) (batch.Batch, error) {
	b, err := s.Store.AddBatchCounts(ctx, batchID, successful, failed)
	if err != nil {
		return b, err
	}
	s.notifyBatch(ctx, b)
	return b, nil
}

func (s *NotifyingStore) CloseBatchIfDone(ctx context.Context, batchID string) (batch.Batch, bool, error) {
	b, closed, err := s.Store.CloseBatchIfDone(ctx, batchID)
	if err != nil {
		return b, closed, err
	}
	if closed {
		s.notifyBatch(ctx, b)
	}
	return b, closed, nil
}

func (s *NotifyingStore) notifyBatch(ctx context.Context, b batch.Batch) {
	s.publish(ctx, b.ID, ChangeEvent{Kind: "batch", At: s.now(), Batch: &b})
}

func (s *NotifyingStore) notifyJob(ctx context.Context, j batch.CallJob) {
	s.publish(ctx, j.BatchID, ChangeEvent{Kind: "job", At: s.now(), Job: &j})
}

func (s *NotifyingStore) publish(ctx context.Context, batchID string, ev ChangeEvent) {
	if s.Publisher == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.From(ctx).Error("feed payload marshal failed", "err", err)
		return
	}
	// Notifications must survive request cancellation of the triggering write.
	ctx = context.WithoutCancel(ctx)
	for _, ch := range []string{batchChannel(batchID), firehoseChannel} {
		if err := s.Publisher.Publish(ctx, ch, payload); err != nil {
			logger.From(ctx).Warn("feed publish failed", "channel", ch, "err", err)
		}
	}
}

func (s *NotifyingStore) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}
