// Package queue carries run triggers from the scheduler and manual API calls
// to the worker through Redis. Triggers are leased, not popped: a worker that
// dies mid-run loses its lease and the trigger is requeued, so a scheduled
// day is never silently dropped.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	readyKey    = "triggers:ready"
	inflightKey = "triggers:inflight"
	metaPrefix  = "triggers:meta:"
)

// Trigger is one request to start a pipeline run.
type Trigger struct {
	ID          string
	Source      string
	RequestedAt time.Time
}

// TriggerQueue coordinates the ready list and the in-flight lease set.
type TriggerQueue struct {
	client     *redis.Client
	visibility time.Duration
}

// NewTriggerQueue builds a queue over an existing Redis client; visibility is
// how long a dequeued trigger stays leased before it may be reclaimed.
func NewTriggerQueue(client *redis.Client, visibility time.Duration) *TriggerQueue {
	if visibility == 0 {
		visibility = 10 * time.Minute
	}
	return &TriggerQueue{client: client, visibility: visibility}
}

func metaKey(id string) string { return metaPrefix + id }

// Enqueue appends a trigger to the ready list and returns its id.
func (q *TriggerQueue) Enqueue(ctx context.Context, source string) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, metaKey(id), "source", source, "requested_ms", now.UnixMilli())
	pipe.RPush(ctx, readyKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue trigger: %w", err)
	}
	return id, nil
}

// DequeueWithLease atomically pops the next trigger and moves it into the
// in-flight set with a visibility deadline. Returns nil when the queue is
// empty.
func (q *TriggerQueue) DequeueWithLease(ctx context.Context) (*Trigger, error) {
	deadline := time.Now().Add(q.visibility).UnixMilli()
	res, err := dequeueScript.Run(ctx, q.client, []string{readyKey, inflightKey}, deadline).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue trigger: %w", err)
	}
	id, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected type from dequeue script: %T", res)
	}

	t := &Trigger{ID: id, Source: "manual"}
	meta, err := q.client.HGetAll(ctx, metaKey(id)).Result()
	if err == nil {
		if s := meta["source"]; s != "" {
			t.Source = s
		}
		if ms := meta["requested_ms"]; ms != "" {
			var unixMS int64
			if _, err := fmt.Sscanf(ms, "%d", &unixMS); err == nil {
				t.RequestedAt = time.UnixMilli(unixMS).UTC()
			}
		}
	}
	return t, nil
}

// Ack removes a completed trigger from in-flight tracking.
func (q *TriggerQueue) Ack(ctx context.Context, id string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, inflightKey, id)
	pipe.Del(ctx, metaKey(id))
	_, err := pipe.Exec(ctx)
	return err
}

// RequeueExpired reclaims triggers whose lease deadline passed, pushing them
// back onto the ready list. Returns the reclaimed ids.
func (q *TriggerQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, inflightKey, id)
		pipe.RPush(ctx, readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// Depth returns the ready-list length.
func (q *TriggerQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, readyKey).Result()
}

var dequeueScript = redis.NewScript(`
local id = redis.call('LPOP', KEYS[1])
if id then
  redis.call('ZADD', KEYS[2], ARGV[1], id)
  return id
end
return nil
`)
