package dispatch

import (
	"context"
	"time"

	"fleet-dispatch/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// RedisBatchLock implements BatchLock on the shared Redis concurrency cap
// with a limit of one: exactly one dispatch loop per batch across all API
// processes. The TTL bounds leakage if a process dies mid-loop.
type RedisBatchLock struct {
	Client *redis.Client
}

func (l *RedisBatchLock) Acquire(ctx context.Context, batchID string, ttl time.Duration) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, l.Client, lockKey(batchID), 1, ttl)
}

func (l *RedisBatchLock) Release(ctx context.Context, batchID string) error {
	return utils.ReleaseConcurrencyCap(ctx, l.Client, lockKey(batchID))
}

func lockKey(batchID string) string {
	return "dispatch:batch:" + batchID
}
