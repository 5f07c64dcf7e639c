package dispatch

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"fleet-dispatch/internal/batch"
	"fleet-dispatch/internal/telephony"
	"fleet-dispatch/pkg/logger"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultWatchdogInterval = 5 * time.Second
	DefaultStuckDeadline    = 500 * time.Second
)

// Watchdog is the liveness safety net: jobs stuck in queued or ringing past
// the deadline are force-failed locally even when the provider never sends a
// terminal webhook or refuses the cancel. It runs concurrently with the
// dispatch loop and the ingestor; all writes are compare-and-set, so a
// genuine completion webhook racing a sweep wins at most once.
type Watchdog struct {
	Store    batch.Store
	Provider telephony.DialProvider

	Interval time.Duration
	Deadline time.Duration

	Clock func() time.Time
}

// Run ticks until ctx is cancelled, sweeping every executing batch.
// Batches not executing are never scanned, so the watchdog is idle cost-free
// between dispatches.
func (w *Watchdog) Run(ctx context.Context) error {
	log := logger.From(ctx)

	ticker := time.NewTicker(w.interval())
	defer ticker.Stop()

	log.Info("watchdog running", "interval", w.interval().String(), "deadline", w.deadline().String())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			batches, err := w.Store.ListExecutingBatches(ctx)
			if err != nil {
				log.Error("watchdog batch scan failed", "err", err)
				continue
			}
			for _, b := range batches {
				if _, err := w.SweepBatch(ctx, b.ID); err != nil {
					log.Error("watchdog sweep failed", "batch_id", b.ID, "err", err)
				}
			}
		}
	}
}

// SweepBatch reclaims every stuck job of one batch. Per-job cancel-and-fail
// operations run concurrently within the sweep; a provider-side cancel
// failure is logged and never blocks the local force-fail.
func (w *Watchdog) SweepBatch(ctx context.Context, batchID string) (int, error) {
	log := logger.From(ctx).With("batch_id", batchID)

	jobs, err := w.Store.ListJobs(ctx, batchID)
	if err != nil {
		return 0, err
	}

	now := w.now()
	stuck := make([]batch.CallJob, 0)
	for _, j := range jobs {
		if w.isStuck(j, now) {
			stuck = append(stuck, j)
		}
	}
	if len(stuck) == 0 {
		return 0, nil
	}

	log.Info("reclaiming stuck jobs", "count", len(stuck))

	var reclaimed atomic.Int64
	var g errgroup.Group
	for _, job := range stuck {
		job := job
		g.Go(func() error {
			if w.reclaim(ctx, job) {
				reclaimed.Add(1)
			}
			// Per-job isolation: a reclaim failure never aborts the sweep.
			return nil
		})
	}
	_ = g.Wait()

	if reclaimed.Load() > 0 {
		if _, closed, err := w.Store.CloseBatchIfDone(ctx, batchID); err != nil {
			log.Error("batch close check failed", "err", err)
		} else if closed {
			log.Info("batch closed by watchdog")
		}
	}
	return int(reclaimed.Load()), nil
}

func (w *Watchdog) isStuck(j batch.CallJob, now time.Time) bool {
	if j.Status != batch.JobStatusQueued && j.Status != batch.JobStatusRinging {
		return false
	}
	since := j.CreatedAt
	if j.StartedAt != nil {
		since = *j.StartedAt
	}
	return now.Sub(since) > w.deadline()
}

// reclaim cancels upstream best-effort and unconditionally force-fails the
// job locally. Reports whether this sweep won the terminal write.
func (w *Watchdog) reclaim(ctx context.Context, job batch.CallJob) bool {
	log := logger.From(ctx).With("batch_id", job.BatchID, "job_id", job.ID)

	if job.ProviderHandle != "" && w.Provider != nil {
		if err := w.Provider.CancelCall(ctx, job.ProviderHandle); err != nil {
			log.Warn("provider cancel failed, forcing local timeout", "err", err)
		}
	} else {
		log.Warn("no provider handle, forcing local timeout only")
	}

	msg := fmt.Sprintf("timeout: no terminal event within %s", w.deadline())
	_, applied, err := w.Store.TransitionJob(ctx, job.ID,
		[]batch.JobStatus{batch.JobStatusQueued, batch.JobStatusRinging},
		batch.JobPatch{Status: batch.JobStatusFailed, ErrorMessage: &msg, StampCompleted: true},
	)
	if err != nil {
		log.Error("timeout write failed", "err", err)
		return false
	}
	if !applied {
		// A webhook got there first; nothing to tally.
		return false
	}

	if _, err := w.Store.AddBatchCounts(ctx, job.BatchID, 0, 1); err != nil {
		log.Error("failed counter increment failed", "err", err)
	}
	log.Info("stuck job reclaimed")
	return true
}

func (w *Watchdog) interval() time.Duration {
	if w.Interval > 0 {
		return w.Interval
	}
	return DefaultWatchdogInterval
}

func (w *Watchdog) deadline() time.Duration {
	if w.Deadline > 0 {
		return w.Deadline
	}
	return DefaultStuckDeadline
}

func (w *Watchdog) now() time.Time {
	if w.Clock != nil {
		return w.Clock()
	}
	return time.Now()
}
