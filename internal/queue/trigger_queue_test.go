package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestEnqueueDequeueAck(t *testing.T) {
	ctx := context.Background()
	q := NewTriggerQueue(newTestClient(t), 0)

	id, err := q.Enqueue(ctx, "scheduler")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	depth, err := q.Depth(ctx)
	if err != nil || depth != 1 {
		t.Fatalf("depth = %d (%v), want 1", depth, err)
	}

	trig, err := q.DequeueWithLease(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if trig == nil || trig.ID != id {
		t.Fatalf("unexpected trigger %+v", trig)
	}
	if trig.Source != "scheduler" {
		t.Fatalf("source = %q, want scheduler", trig.Source)
	}
	if trig.RequestedAt.IsZero() {
		t.Fatal("requested time should round-trip through meta")
	}

	if next, err := q.DequeueWithLease(ctx); err != nil || next != nil {
		t.Fatalf("empty queue should yield nil, got %+v (%v)", next, err)
	}

	if err := q.Ack(ctx, id); err != nil {
		t.Fatalf("ack: %v", err)
	}
	// An acked trigger is gone; nothing to reclaim even far in the future.
	ids, err := q.RequeueExpired(ctx, time.Now().Add(24*time.Hour), 10)
	if err != nil || len(ids) != 0 {
		t.Fatalf("acked trigger reclaimed: %v (%v)", ids, err)
	}
}

func TestLeasedTriggerIsNotVisible(t *testing.T) {
	ctx := context.Background()
	q := NewTriggerQueue(newTestClient(t), 10*time.Minute)

	if _, err := q.Enqueue(ctx, "manual"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.DequeueWithLease(ctx); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	// The lease has not expired, so the trigger stays invisible.
	ids, err := q.RequeueExpired(ctx, time.Now(), 10)
	if err != nil || len(ids) != 0 {
		t.Fatalf("live lease reclaimed: %v (%v)", ids, err)
	}
	if trig, err := q.DequeueWithLease(ctx); err != nil || trig != nil {
		t.Fatalf("leased trigger redelivered: %+v (%v)", trig, err)
	}
}

func TestRequeueExpiredRedelivers(t *testing.T) {
	ctx := context.Background()
	q := NewTriggerQueue(newTestClient(t), 50*time.Millisecond)

	id, err := q.Enqueue(ctx, "scheduler")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.DequeueWithLease(ctx); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	// Past the visibility deadline the trigger is reclaimable.
	ids, err := q.RequeueExpired(ctx, time.Now().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if len(ids) != 1 || ids[0] != id {
		t.Fatalf("want [%s], got %v", id, ids)
	}

	trig, err := q.DequeueWithLease(ctx)
	if err != nil {
		t.Fatalf("second dequeue: %v", err)
	}
	if trig == nil || trig.ID != id || trig.Source != "scheduler" {
		t.Fatalf("redelivered trigger lost its meta: %+v", trig)
	}
}

func TestLeaderLeaseSingleHolder(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	a := NewLeaderLease(client, "worker-a", time.Minute)
	b := NewLeaderLease(client, "worker-b", time.Minute)

	ok, err := a.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("a should acquire: %v (%v)", ok, err)
	}
	if ok, _ := b.Acquire(ctx); ok {
		t.Fatal("b must not acquire a held lease")
	}
	if ok, err := a.Renew(ctx); err != nil || !ok {
		t.Fatalf("holder renew failed: %v (%v)", ok, err)
	}
	if ok, _ := b.Renew(ctx); ok {
		t.Fatal("non-holder must not renew")
	}

	if err := a.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, err := b.Acquire(ctx); err != nil || !ok {
		t.Fatalf("b should acquire after release: %v (%v)", ok, err)
	}
}

func TestReleaseIgnoresForeignLease(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	a := NewLeaderLease(client, "worker-a", time.Minute)
	b := NewLeaderLease(client, "worker-b", time.Minute)

	if ok, _ := a.Acquire(ctx); !ok {
		t.Fatal("a should acquire")
	}
	if err := b.Release(ctx); err != nil {
		t.Fatalf("foreign release errored: %v", err)
	}
	// a still holds the lease.
	if ok, _ := b.Acquire(ctx); ok {
		t.Fatal("a's lease was stolen by a foreign release")
	}
}
