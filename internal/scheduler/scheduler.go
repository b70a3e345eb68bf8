// Package scheduler fires the daily run trigger and the draft expiry sweep
// on cron schedules. Among multiple replicas only the leader-lease holder
// enqueues, so a normal day produces exactly one scheduled run.
package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"social-post-orchestrator/internal/orchestrator"
	"social-post-orchestrator/internal/queue"
)

// Scheduler owns the cron entries.
type Scheduler struct {
	cron   *cron.Cron
	queue  *queue.TriggerQueue
	lease  *queue.LeaderLease
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
}

// New builds a stopped scheduler; Start arms it.
func New(q *queue.TriggerQueue, lease *queue.LeaderLease, orch *orchestrator.Orchestrator, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		queue:  q,
		lease:  lease,
		orch:   orch,
		logger: logger,
	}
}

// Start registers the run and expiry entries and starts the cron loop.
// runSpec and expireSpec are standard five-field cron expressions.
func (s *Scheduler) Start(ctx context.Context, runSpec, expireSpec string) error {
	if _, err := s.cron.AddFunc(runSpec, func() { s.fireRun(ctx) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(expireSpec, func() { s.fireExpiry(ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("run_cron", runSpec), zap.String("expire_cron", expireSpec))
	return nil
}

// Stop halts the cron loop and waits for in-flight entries, then releases
// the leader lease.
func (s *Scheduler) Stop(ctx context.Context) {
	<-s.cron.Stop().Done()
	if err := s.lease.Release(ctx); err != nil {
		s.logger.Warn("leader lease release failed", zap.Error(err))
	}
}

func (s *Scheduler) fireRun(ctx context.Context) {
	if !s.isLeader(ctx) {
		return
	}
	id, err := s.queue.Enqueue(ctx, "scheduler")
	if err != nil {
		s.logger.Error("scheduled trigger enqueue failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled run enqueued", zap.String("trigger_id", id))
}

func (s *Scheduler) fireExpiry(ctx context.Context) {
	if !s.isLeader(ctx) {
		return
	}
	n, err := s.orch.ExpireStale(ctx)
	if err != nil {
		s.logger.Error("expiry sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("expiry sweep finished", zap.Int("expired", n))
	}
}

func (s *Scheduler) isLeader(ctx context.Context) bool {
	if renewed, err := s.lease.Renew(ctx); err == nil && renewed {
		return true
	}
	acquired, err := s.lease.Acquire(ctx)
	if err != nil {
		s.logger.Error("leader lease check failed", zap.Error(err))
		return false
	}
	return acquired
}
