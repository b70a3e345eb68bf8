// Package notify delivers the review request for a freshly drafted post. The
// email carries the one-time action links; this is the only place the raw
// action token ever leaves the process, and it is never written to logs or
// storage.
package notify

import (
	"context"

	"go.uber.org/zap"

	"social-post-orchestrator/internal/models"
)

// Review is everything a notification needs to render.
type Review struct {
	Draft    models.Draft
	RawToken string
}

// Notifier delivers a review request through one channel.
type Notifier interface {
	NotifyReview(ctx context.Context, r Review) error
}

// LogNotifier is the no-mail fallback: it records that a draft awaits review.
// The raw token is deliberately absent from the log line.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n *LogNotifier) NotifyReview(ctx context.Context, r Review) error {
	n.Logger.Info("draft awaiting review",
		zap.String("draft_id", r.Draft.ID),
		zap.String("status", r.Draft.Status),
		zap.Int("tweets", len(r.Draft.Tweets)))
	return nil
}
