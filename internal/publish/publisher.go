// Package publish posts approved drafts through a Transport while keeping an
// attempt ledger in the store. The ledger makes publishing idempotent: each
// (draft, position) gets at most one successful tweet, prior successes are
// reused on replay, and two concurrent publishers cannot double-post.
package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"social-post-orchestrator/internal/models"
	"social-post-orchestrator/internal/retry"
	"social-post-orchestrator/internal/store"
	"social-post-orchestrator/internal/telemetry"
)

// ErrConflict reports a concurrent publish attempt on the same position.
var ErrConflict = errors.New("publish already in progress")

// Publisher drives the per-position publish loop.
type Publisher struct {
	store  store.Store
	logger *zap.Logger
	policy retry.Policy
	now    func() time.Time
}

// NewPublisher builds a Publisher using the given per-tweet retry policy.
func NewPublisher(st store.Store, logger *zap.Logger, policy retry.Policy) *Publisher {
	return &Publisher{
		store:  st,
		logger: logger,
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source. Test hook.
func (p *Publisher) SetClock(now func() time.Time) { p.now = now }

// Publish posts the texts in position order (positions start at 1), chaining
// replies for threads. Already-successful positions are reused without
// re-posting. On the first position failure the loop stops and the error is
// returned along with the ids published so far; a later Publish call resumes
// at the failed position.
func (p *Publisher) Publish(ctx context.Context, draftID string, texts []string, transport Transport) ([]string, error) {
	ids := make([]string, 0, len(texts))
	replyTo := ""

	for i, text := range texts {
		position := i + 1

		existing, err := p.store.StartAttempt(ctx, draftID, position, p.now())
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				telemetry.PublishConflicts.Inc()
				return ids, fmt.Errorf("position %d: %w", position, ErrConflict)
			}
			return ids, fmt.Errorf("start attempt %d: %w", position, err)
		}
		if existing != nil {
			if existing.TweetID == nil {
				return ids, fmt.Errorf("position %d: successful attempt has no tweet id", position)
			}
			ids = append(ids, *existing.TweetID)
			replyTo = *existing.TweetID
			continue
		}

		if d, ok := transport.(*DryRunTransport); ok {
			d.SetPosition(i)
		}
		var tweetID string
		err = p.policy.Do(ctx, func(ctx context.Context) error {
			var postErr error
			tweetID, postErr = transport.PostTweet(ctx, text, replyTo)
			return postErr
		})
		if err != nil {
			if markErr := p.store.MarkAttemptFailure(ctx, draftID, position, err.Error(), p.now()); markErr != nil {
				p.logger.Error("attempt failure not recorded",
					zap.String("draft_id", draftID), zap.Int("position", position), zap.Error(markErr))
			}
			return ids, fmt.Errorf("position %d: %w", position, err)
		}

		if err := p.store.MarkAttemptSuccess(ctx, draftID, position, tweetID, text, p.now()); err != nil {
			// The tweet is live but unrecorded; fail loudly rather than
			// risk a duplicate on the next replay.
			return ids, fmt.Errorf("record attempt %d success: %w", position, err)
		}
		p.logger.Info("tweet published",
			zap.String("draft_id", draftID), zap.Int("position", position), zap.String("tweet_id", tweetID))
		ids = append(ids, tweetID)
		replyTo = tweetID
	}

	telemetry.DraftsPublished.Inc()
	return ids, nil
}

// MissingPositions reports which positions of a draft still lack a successful
// attempt, given the number of texts. Used by resume.
func (p *Publisher) MissingPositions(ctx context.Context, draftID string, total int) ([]int, error) {
	attempts, err := p.store.ListAttempts(ctx, draftID)
	if err != nil {
		return nil, err
	}
	done := map[int]bool{}
	for _, a := range attempts {
		if a.Outcome == models.AttemptSuccess {
			done[a.Position] = true
		}
	}
	var missing []int
	for pos := 1; pos <= total; pos++ {
		if !done[pos] {
			missing = append(missing, pos)
		}
	}
	return missing, nil
}
