package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const leaderKey = "scheduler:leader"

// LeaderLease elects a single active scheduler among replicas with a Redis
// SET NX PX lease. Only the lease holder fires cron triggers; duplicate
// triggers from a botched election produce duplicate independent runs, not
// corrupted state, so the lease is an efficiency guard rather than a safety
// one.
type LeaderLease struct {
	client *redis.Client
	holder string
	ttl    time.Duration
}

// NewLeaderLease builds a lease for the given holder identity.
func NewLeaderLease(client *redis.Client, holder string, ttl time.Duration) *LeaderLease {
	if ttl == 0 {
		ttl = 2 * time.Minute
	}
	return &LeaderLease{client: client, holder: holder, ttl: ttl}
}

// Acquire takes the lease if free. Returns true when this holder leads.
func (l *LeaderLease) Acquire(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, leaderKey, l.holder, l.ttl).Result()
}

// Renew extends the lease, but only while this holder still owns it.
func (l *LeaderLease) Renew(ctx context.Context) (bool, error) {
	res, err := renewScript.Run(ctx, l.client, []string{leaderKey}, l.holder, l.ttl.Milliseconds()).Result()
	if err != nil {
		return false, err
	}
	n, _ := res.(int64)
	return n == 1, nil
}

// Release drops the lease if this holder owns it.
func (l *LeaderLease) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{leaderKey}, l.holder).Err()
}

var renewScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)
