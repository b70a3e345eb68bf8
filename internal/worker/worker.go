// Package worker consumes run triggers and executes the pipeline. Runs are
// strictly sequential within one worker: each trigger is leased, executed to
// a terminal run state, then acked.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"social-post-orchestrator/internal/orchestrator"
	"social-post-orchestrator/internal/queue"
)

// Worker polls the trigger queue and drives the orchestrator.
type Worker struct {
	queue        *queue.TriggerQueue
	orch         *orchestrator.Orchestrator
	logger       *zap.Logger
	pollInterval time.Duration
}

// New builds a worker polling at the given interval.
func New(q *queue.TriggerQueue, orch *orchestrator.Orchestrator, logger *zap.Logger, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Worker{queue: q, orch: orch, logger: logger, pollInterval: pollInterval}
}

// Run loops until the context is canceled. Expired trigger leases are
// reclaimed on each idle tick so a crashed worker's day is picked up.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		trigger, err := w.queue.DequeueWithLease(ctx)
		if err != nil {
			w.logger.Error("trigger dequeue failed", zap.Error(err))
			continue
		}
		if trigger == nil {
			if ids, err := w.queue.RequeueExpired(ctx, time.Now().UTC(), 10); err == nil && len(ids) > 0 {
				w.logger.Warn("reclaimed expired trigger leases", zap.Strings("trigger_ids", ids))
			}
			continue
		}

		w.logger.Info("trigger leased", zap.String("trigger_id", trigger.ID), zap.String("source", trigger.Source))
		runID, err := w.orch.StartRun(ctx, trigger.Source)
		if err != nil {
			// The run record already holds the failure; the trigger is done
			// either way.
			w.logger.Error("run finished with error", zap.String("run_id", runID), zap.Error(err))
		}
		if err := w.queue.Ack(ctx, trigger.ID); err != nil {
			w.logger.Error("trigger ack failed", zap.String("trigger_id", trigger.ID), zap.Error(err))
		}
	}
}
