package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fleet-dispatch/internal/batch"
	"fleet-dispatch/internal/telephony"
	"fleet-dispatch/pkg/logger"
)

var (
	// ErrProviderNotConfigured is fatal at the dispatch loop's entry; the
	// batch is left un-started.
	ErrProviderNotConfigured = errors.New("dispatch: dial provider not configured")

	// ErrDispatchInProgress means another dispatch loop already holds the
	// per-batch lock.
	ErrDispatchInProgress = errors.New("dispatch: batch dispatch already running")
)

// BatchLock guards against two dispatch loops racing over the same batch.
// A nil lock disables the guard (single-process tests).
type BatchLock interface {
	Acquire(ctx context.Context, batchID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, batchID string) error
}

// Dispatcher places provider calls for every queued job of a batch,
// strictly sequentially and throttled, with per-job failure isolation.
// It never waits for call completion; that is the Ingestor's job.
type Dispatcher struct {
	Store    batch.Store
	Provider telephony.DialProvider
	Lock     BatchLock

	// Delay is the inter-call throttle. Zero keeps the provider default of 2s.
	Delay time.Duration

	Clock func() time.Time
}

const DefaultCallDelay = 2000 * time.Millisecond

// Summary is the dispatch trigger response: how many calls were handed to
// the provider and how many failed at placement.
type Summary struct {
	Initiated int `json:"initiated"`
	Failed    int `json:"failed"`
}

// DispatchBatch processes the batch's queued jobs in creation order.
//
// Per job the write order is deliberate: the job goes ringing (stamping
// started_at) before the provider call, so a crash mid-dispatch leaves it
// visibly ringing for the watchdog to reclaim instead of silently queued.
func (d *Dispatcher) DispatchBatch(ctx context.Context, batchID string) (Summary, error) {
	log := logger.From(ctx).With("batch_id", batchID)

	if batchID == "" {
		return Summary{}, batch.ErrInvalidArgument
	}
	if d.Provider == nil {
		return Summary{}, ErrProviderNotConfigured
	}
	if err := d.Provider.HealthCheck(ctx); err != nil {
		return Summary{}, fmt.Errorf("%w: %v", ErrProviderNotConfigured, err)
	}

	if _, err := d.Store.GetBatch(ctx, batchID); err != nil {
		return Summary{}, err
	}

	jobs, err := d.Store.ListQueuedJobs(ctx, batchID)
	if err != nil {
		return Summary{}, err
	}

	if d.Lock != nil {
		// TTL covers the worst-case loop duration with headroom; the lock is
		// released explicitly on every exit path.
		ttl := time.Duration(len(jobs)+1)*d.delay() + time.Minute
		ok, err := d.Lock.Acquire(ctx, batchID, ttl)
		if err != nil {
			return Summary{}, err
		}
		if !ok {
			return Summary{}, ErrDispatchInProgress
		}
		defer func() {
			if err := d.Lock.Release(context.WithoutCancel(ctx), batchID); err != nil {
				log.Warn("dispatch lock release failed", "err", err)
			}
		}()
	}

	if _, err := d.Store.MarkBatchExecuting(ctx, batchID); err != nil {
		return Summary{}, err
	}

	log.Info("dispatch loop starting", "queued_jobs", len(jobs))

	var out Summary
	for i, job := range jobs {
		if err := d.dispatchJob(ctx, job); err != nil {
			log.Warn("call placement failed", "job_id", job.ID, "err", err)
			out.Failed++
		} else {
			out.Initiated++
		}

		if i < len(jobs)-1 {
			select {
			case <-ctx.Done():
				return out, ctx.Err()
			case <-time.After(d.delay()):
			}
		}
	}

	log.Info("dispatch loop finished", "initiated", out.Initiated, "failed", out.Failed)
	return out, nil
}

func (d *Dispatcher) dispatchJob(ctx context.Context, job batch.CallJob) error {
	log := logger.From(ctx).With("batch_id", job.BatchID, "job_id", job.ID)

	// Ringing-before-provider-call: a crash after this write leaves a
	// reclaimable row, never a silently stuck queued one.
	ringing, applied, err := d.Store.TransitionJob(ctx, job.ID,
		[]batch.JobStatus{batch.JobStatusQueued},
		batch.JobPatch{Status: batch.JobStatusRinging, StampStarted: true},
	)
	if err != nil {
		return d.failJob(ctx, job, fmt.Errorf("mark ringing: %w", err))
	}
	if !applied {
		// Someone else (stop action, watchdog) got here first.
		log.Info("job no longer queued, skipping", "status", ringing.Status)
		return nil
	}

	res, err := d.Provider.PlaceCall(ctx, telephony.PlaceCallRequest{
		PhoneNumber: job.PhoneNumber,
		JobID:       job.ID,
		BatchID:     job.BatchID,
		DriverName:  job.DriverName,
		TargetRef:   job.TargetRef,
		Message:     callMessage(job),
	})
	if err != nil {
		return d.failJob(ctx, job, err)
	}

	if res.Handle == "" {
		// Soft warning: the call proceeds but cannot be cancelled upstream.
		log.Warn("provider response carried no call id")
	}

	_, _, err = d.Store.TransitionJob(ctx, job.ID,
		[]batch.JobStatus{batch.JobStatusRinging},
		batch.JobPatch{Status: batch.JobStatusActive, ProviderHandle: &res.Handle},
	)
	if err != nil {
		return d.failJob(ctx, job, fmt.Errorf("mark active: %w", err))
	}

	log.Info("call placed", "provider_handle", res.Handle)
	return nil
}

// failJob terminates a job at placement time and tallies it. The returned
// error reports the placement failure; store errors during cleanup are
// logged, not propagated, so the loop always proceeds to the next job.
func (d *Dispatcher) failJob(ctx context.Context, job batch.CallJob, cause error) error {
	log := logger.From(ctx).With("batch_id", job.BatchID, "job_id", job.ID)

	msg := cause.Error()
	_, applied, err := d.Store.TransitionJob(ctx, job.ID,
		batch.NonTerminalStatuses(),
		batch.JobPatch{Status: batch.JobStatusFailed, ErrorMessage: &msg, StampCompleted: true},
	)
	if err != nil {
		log.Error("failed-job write failed", "err", err)
		return cause
	}
	if applied {
		if _, err := d.Store.AddBatchCounts(ctx, job.BatchID, 0, 1); err != nil {
			log.Error("failed counter increment failed", "err", err)
		}
		if _, closed, err := d.Store.CloseBatchIfDone(ctx, job.BatchID); err != nil {
			log.Error("batch close check failed", "err", err)
		} else if closed {
			log.Info("batch closed")
		}
	}
	return cause
}

// StopJob is the operator "stop call" action: best-effort provider cancel,
// unconditional local failed write. It succeeds even when the provider
// cancel fails; the point is that the batch must not hang.
func (d *Dispatcher) StopJob(ctx context.Context, jobID string) (batch.CallJob, error) {
	log := logger.From(ctx).With("job_id", jobID)

	job, err := d.Store.GetJob(ctx, jobID)
	if err != nil {
		return batch.CallJob{}, err
	}

	if job.ProviderHandle != "" && d.Provider != nil {
		if err := d.Provider.CancelCall(ctx, job.ProviderHandle); err != nil {
			log.Warn("provider cancel failed, forcing local stop", "err", err)
		}
	} else {
		log.Warn("no provider handle, forcing local stop only")
	}

	msg := "stopped by operator"
	stopped, applied, err := d.Store.TransitionJob(ctx, jobID,
		batch.NonTerminalStatuses(),
		batch.JobPatch{Status: batch.JobStatusFailed, ErrorMessage: &msg, StampCompleted: true},
	)
	if err != nil {
		return batch.CallJob{}, err
	}
	if applied {
		if _, err := d.Store.AddBatchCounts(ctx, job.BatchID, 0, 1); err != nil {
			log.Error("failed counter increment failed", "err", err)
		}
		if _, _, err := d.Store.CloseBatchIfDone(ctx, job.BatchID); err != nil {
			log.Error("batch close check failed", "err", err)
		}
	}
	return stopped, nil
}

func (d *Dispatcher) delay() time.Duration {
	if d.Delay > 0 {
		return d.Delay
	}
	return DefaultCallDelay
}

func callMessage(job batch.CallJob) string {
	if job.Message != "" {
		return job.Message
	}
	return fmt.Sprintf("Hello %s, your vehicle %s is ready for dispatch.", job.DriverName, job.TargetRef)
}
