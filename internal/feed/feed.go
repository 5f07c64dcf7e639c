package feed

import (
	"context"
	"time"

	"fleet-dispatch/internal/batch"

	"github.com/redis/go-redis/v9"
)

// Publisher fans a change notification out to dashboard subscribers.
// Publishing is fire-and-forget; the record store stays the source of truth
// and a lost notification costs a UI refresh, never data.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// RedisPublisher publishes over Redis Pub/Sub. Subscribers join
// feed:batch:<batch_id> for one batch or feed:batches for the firehose.
type RedisPublisher struct {
	Client *redis.Client
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.Client.Publish(ctx, channel, payload).Err()
}

const firehoseChannel = "feed:batches"

func batchChannel(batchID string) string {
	return "feed:batch:" + batchID
}

// ChangeEvent is the wire shape of one notification. Exactly one of Batch
// and Job is set.
type ChangeEvent struct {
	Kind      string         `json:"kind"` // "batch" or "job"
	At        time.Time      `json:"at"`
	Batch     *batch.Batch   `json:"batch,omitempty"`
	Job       *batch.CallJob `json:"job,omitempty"`
}
