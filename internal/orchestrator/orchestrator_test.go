package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"social-post-orchestrator/internal/models"
	"social-post-orchestrator/internal/notify"
	"social-post-orchestrator/internal/policy"
	"social-post-orchestrator/internal/publish"
	"social-post-orchestrator/internal/retry"
	"social-post-orchestrator/internal/stage"
	"social-post-orchestrator/internal/store"
	"social-post-orchestrator/internal/token"
)

// captureNotifier records every review notification so tests can read the raw
// token the way a reviewer would from their inbox.
type captureNotifier struct {
	mu      sync.Mutex
	reviews []notify.Review
}

func (c *captureNotifier) NotifyReview(_ context.Context, r notify.Review) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reviews = append(c.reviews, r)
	return nil
}

func (c *captureNotifier) last(t *testing.T) notify.Review {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.reviews) == 0 {
		t.Fatal("no review notification captured")
	}
	return c.reviews[len(c.reviews)-1]
}

// scriptedTransport fabricates ids with a fixed prefix and can fail on
// specific call numbers (1-based).
type scriptedTransport struct {
	prefix string
	failOn map[int]error

	mu    sync.Mutex
	texts []string
}

func (s *scriptedTransport) PostTweet(_ context.Context, text, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	n := len(s.texts)
	if err, ok := s.failOn[n]; ok {
		return "", err
	}
	return fmt.Sprintf("%s%d", s.prefix, n), nil
}

type env struct {
	store    *store.Memory
	tokens   *token.Manager
	notifier *captureNotifier
	orch     *Orchestrator
}

func newEnv(t *testing.T, opts Options) *env {
	t.Helper()
	st := store.NewMemory()
	logger := zap.NewNop()
	tokens := token.NewManager(st, time.Hour)
	nt := &captureNotifier{}
	pub := publish.NewPublisher(st, logger, retry.Policy{MaxRetries: 0})
	checker := policy.NewChecker([]string{"confidential"}, 0.6)
	orch := New(st, tokens, stage.NewRecorder(st, logger), checker, pub, nt, nil, logger, opts)
	return &env{store: st, tokens: tokens, notifier: nt, orch: orch}
}

func defaultOpts() Options {
	return Options{DryRun: true, RewriteMax: 1}
}

func (e *env) draftForRun(t *testing.T, runID string) models.Draft {
	t.Helper()
	d, err := e.store.GetDraftByRun(context.Background(), runID)
	if err != nil {
		t.Fatalf("draft for run %s: %v", runID, err)
	}
	return d
}

// seedApprovedThread plants a reviewed thread draft directly, as if a run had
// produced it, and issues its approval token.
func (e *env) seedApprovedThread(t *testing.T, texts []string) (models.Draft, string) {
	t.Helper()
	now := time.Now().UTC()
	d := models.Draft{
		ID:         uuid.NewString(),
		RunID:      uuid.NewString(),
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Hour),
		Status:     models.DraftPending,
		ThreadMode: true,
		Tweets:     texts,
		Edited:     &models.EditedDraft{Mode: "thread", FinalTweets: texts},
		PolicyReport: &models.PolicyReport{
			Action:    models.PolicyPass,
			RiskLevel: "LOW",
		},
	}
	if err := e.store.CreateDraft(context.Background(), d); err != nil {
		t.Fatalf("seed draft: %v", err)
	}
	raw, err := e.tokens.Issue(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return d, raw
}

func TestStartRunProducesPendingDraft(t *testing.T) {
	e := newEnv(t, defaultOpts())
	ctx := context.Background()

	runID, err := e.orch.StartRun(ctx, "manual")
	if err != nil {
		t.Fatalf("start run: %v", err)
	}

	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != models.RunCompleted {
		t.Fatalf("run status = %s, want completed", run.Status)
	}

	d := e.draftForRun(t, runID)
	if d.Status != models.DraftPending {
		t.Fatalf("draft status = %s, want pending", d.Status)
	}
	if len(d.Tweets) != 1 || !strings.Contains(strings.ToLower(d.Tweets[0]), "opinion") {
		t.Fatalf("empty materials should yield a labeled reflection, got %v", d.Tweets)
	}
	if d.PolicyReport == nil || d.PolicyReport.Action != models.PolicyPass {
		t.Fatalf("want PASS report, got %+v", d.PolicyReport)
	}

	review := e.notifier.last(t)
	if review.Draft.ID != d.ID || review.RawToken == "" {
		t.Fatal("notification should carry the draft and a raw token")
	}

	logs, err := e.store.ListAgentLogs(ctx, runID)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 7 {
		t.Fatalf("want one log per stage (7), got %d", len(logs))
	}
}

func TestApprovePublishesDryRun(t *testing.T) {
	e := newEnv(t, defaultOpts())
	ctx := context.Background()

	runID, err := e.orch.StartRun(ctx, "manual")
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	d := e.draftForRun(t, runID)
	raw := e.notifier.last(t).RawToken

	got, err := e.orch.Approve(ctx, d.ID, raw)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got.Status != models.DraftDryRunPosted {
		t.Fatalf("status = %s, want dry_run_posted", got.Status)
	}
	if len(got.PublishedIDs) != 1 || !strings.HasPrefix(got.PublishedIDs[0], "dry_") {
		t.Fatalf("unexpected published ids %v", got.PublishedIDs)
	}
	posts, _ := e.store.ListPosts(ctx, d.ID)
	if len(posts) != 1 {
		t.Fatalf("want 1 audit post, got %d", len(posts))
	}

	// The token is spent; replaying the approval link must not double-post.
	if _, err := e.orch.Approve(ctx, d.ID, raw); !errors.Is(err, token.ErrConsumed) {
		t.Fatalf("replay should fail with ErrConsumed, got %v", err)
	}
}

func TestRewriteLoopIsBounded(t *testing.T) {
	e := newEnv(t, defaultOpts())
	ctx := context.Background()

	// First run publishes, making its text a recent post.
	runID, err := e.orch.StartRun(ctx, "scheduler")
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	first := e.draftForRun(t, runID)
	if _, err := e.orch.Approve(ctx, first.ID, e.notifier.last(t).RawToken); err != nil {
		t.Fatalf("approve first: %v", err)
	}

	// The heuristic writer now reproduces the same text, so the similarity
	// check rewrites once, the rewrite changes nothing, and the draft lands
	// with the human instead of looping.
	runID2, err := e.orch.StartRun(ctx, "scheduler")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	d := e.draftForRun(t, runID2)
	if d.Status != models.DraftNeedsHuman {
		t.Fatalf("status = %s, want needs_human_attention", d.Status)
	}
	if d.RewriteCount != 1 {
		t.Fatalf("rewrite count = %d, want 1", d.RewriteCount)
	}
	if d.PolicyReport == nil || d.PolicyReport.Action != models.PolicyRewrite {
		t.Fatalf("want REWRITE report, got %+v", d.PolicyReport)
	}
}

func TestRegenerateBeyondBoundHolds(t *testing.T) {
	e := newEnv(t, defaultOpts())
	ctx := context.Background()

	runID, err := e.orch.StartRun(ctx, "manual")
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	first := e.draftForRun(t, runID)
	if _, err := e.orch.Approve(ctx, first.ID, e.notifier.last(t).RawToken); err != nil {
		t.Fatalf("approve first: %v", err)
	}
	runID2, err := e.orch.StartRun(ctx, "manual")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	d := e.draftForRun(t, runID2)
	if d.RewriteCount != 1 {
		t.Fatalf("precondition: rewrite count = %d, want 1", d.RewriteCount)
	}

	// A manual regenerate past the bound must not keep asking for rewrites.
	got, err := e.orch.Regenerate(ctx, d.ID)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if got.RewriteCount != 2 {
		t.Fatalf("rewrite count = %d, want 2", got.RewriteCount)
	}
	if got.PolicyReport == nil || got.PolicyReport.Action != models.PolicyHold {
		t.Fatalf("want HOLD past the bound, got %+v", got.PolicyReport)
	}
	if got.Status != models.DraftNeedsHuman {
		t.Fatalf("status = %s, want needs_human_attention", got.Status)
	}
}

func TestApproveBlockedByRePolicy(t *testing.T) {
	e := newEnv(t, defaultOpts())
	ctx := context.Background()

	d, raw := e.seedApprovedThread(t, []string{"shipped confidential roadmap today", "more soon"})
	_, err := e.orch.Approve(ctx, d.ID, raw)
	if !errors.Is(err, ErrPolicyBlocked) {
		t.Fatalf("want ErrPolicyBlocked, got %v", err)
	}
	got, _ := e.store.GetDraft(ctx, d.ID)
	if got.Status != models.DraftBlocked {
		t.Fatalf("status = %s, want blocked", got.Status)
	}
	attempts, _ := e.store.ListAttempts(ctx, d.ID)
	if len(attempts) != 0 {
		t.Fatal("blocked approval must not reach the publisher")
	}
}

func TestEditRePoliciesAndRotatesToken(t *testing.T) {
	e := newEnv(t, defaultOpts())
	ctx := context.Background()

	runID, err := e.orch.StartRun(ctx, "manual")
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	d := e.draftForRun(t, runID)
	firstToken := e.notifier.last(t).RawToken

	// A bad edit parks the draft with the human.
	_, report, err := e.orch.Edit(ctx, d.ID, []string{"our confidential numbers look great"})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if report.Action != models.PolicyHold {
		t.Fatalf("blocked term should hold, got %s", report.Action)
	}
	got, _ := e.store.GetDraft(ctx, d.ID)
	if got.Status != models.DraftNeedsHuman {
		t.Fatalf("status = %s, want needs_human_attention", got.Status)
	}

	// A clean edit promotes it back to pending with a fresh token.
	_, report, err = e.orch.Edit(ctx, d.ID, []string{"My take: fewer words, more shipping"})
	if err != nil {
		t.Fatalf("clean edit: %v", err)
	}
	if report.Action != models.PolicyPass {
		t.Fatalf("clean edit should pass, got %s", report.Action)
	}
	latestToken := e.notifier.last(t).RawToken
	if latestToken == firstToken {
		t.Fatal("edit must rotate the approval token")
	}

	// The pre-edit token was superseded.
	if _, err := e.orch.Approve(ctx, d.ID, firstToken); !errors.Is(err, token.ErrConsumed) {
		t.Fatalf("stale token should be consumed, got %v", err)
	}
	got, err = e.orch.Approve(ctx, d.ID, latestToken)
	if err != nil {
		t.Fatalf("approve with fresh token: %v", err)
	}
	if got.Status != models.DraftDryRunPosted {
		t.Fatalf("status = %s, want dry_run_posted", got.Status)
	}
}

func TestEditRejectsEmptyTexts(t *testing.T) {
	e := newEnv(t, defaultOpts())
	_, _, err := e.orch.Edit(context.Background(), "any", []string{"  ", ""})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
}

// pausingStore widens the window between Edit's text write and its policy
// write by running a callback after the text write commits.
type pausingStore struct {
	store.Store
	afterTexts func()
}

func (s *pausingStore) UpdateDraftTexts(ctx context.Context, id string, from []string, tweets []string, edited models.EditedDraft) error {
	err := s.Store.UpdateDraftTexts(ctx, id, from, tweets, edited)
	if err == nil && s.afterTexts != nil {
		s.afterTexts()
	}
	return err
}

func TestEditLandingAfterPublishCannotRegressDraft(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	logger := zap.NewNop()
	tokens := token.NewManager(st, time.Hour)
	nt := &captureNotifier{}
	ps := &pausingStore{Store: st}
	orch := New(ps, tokens, stage.NewRecorder(ps, logger), policy.NewChecker([]string{"confidential"}, 0.6),
		publish.NewPublisher(ps, logger, retry.Policy{MaxRetries: 0}), nt, nil, logger, defaultOpts())

	now := time.Now().UTC()
	d := models.Draft{
		ID:           uuid.NewString(),
		RunID:        uuid.NewString(),
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Hour),
		Status:       models.DraftPending,
		Tweets:       []string{"step one today"},
		Edited:       &models.EditedDraft{Mode: "single", FinalText: "step one today"},
		PolicyReport: &models.PolicyReport{Action: models.PolicyPass, RiskLevel: "LOW"},
	}
	if err := st.CreateDraft(ctx, d); err != nil {
		t.Fatalf("seed draft: %v", err)
	}
	raw, err := tokens.Issue(ctx, d.ID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	// An approval slips in while the edit is between its two writes.
	ps.afterTexts = func() {
		if _, err := orch.Approve(ctx, d.ID, raw); err != nil {
			t.Errorf("approve during edit window: %v", err)
		}
	}

	_, _, err = orch.Edit(ctx, d.ID, []string{"My take: fewer words, more shipping"})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("late edit should report invalid state, got %v", err)
	}

	got, err := st.GetDraft(ctx, d.ID)
	if err != nil {
		t.Fatalf("get draft: %v", err)
	}
	if got.Status != models.DraftDryRunPosted {
		t.Fatalf("status = %s, want dry_run_posted to stand", got.Status)
	}
	if len(got.PublishedIDs) != 1 {
		t.Fatalf("published ids must survive the late edit, got %v", got.PublishedIDs)
	}
}

func TestConcurrentApproveSingleWinner(t *testing.T) {
	e := newEnv(t, defaultOpts())
	ctx := context.Background()

	runID, err := e.orch.StartRun(ctx, "manual")
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	d := e.draftForRun(t, runID)
	raw := e.notifier.last(t).RawToken

	const callers = 8
	errCh := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.orch.Approve(ctx, d.ID, raw)
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)

	winners := 0
	for err := range errCh {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, token.ErrConsumed), errors.Is(err, publish.ErrConflict):
		default:
			t.Fatalf("unexpected loser error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("want exactly 1 winner, got %d", winners)
	}
	posts, _ := e.store.ListPosts(ctx, d.ID)
	if len(posts) != 1 {
		t.Fatalf("want exactly 1 post, got %d", len(posts))
	}
}

func TestSkipIsIdempotent(t *testing.T) {
	e := newEnv(t, defaultOpts())
	ctx := context.Background()

	runID, err := e.orch.StartRun(ctx, "manual")
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	d := e.draftForRun(t, runID)
	raw := e.notifier.last(t).RawToken

	got, err := e.orch.Skip(ctx, d.ID, raw)
	if err != nil {
		t.Fatalf("skip: %v", err)
	}
	if got.Status != models.DraftSkipped {
		t.Fatalf("status = %s, want skipped", got.Status)
	}

	// Replaying the link, even with the now-spent token, is a no-op success.
	got, err = e.orch.Skip(ctx, d.ID, raw)
	if err != nil {
		t.Fatalf("second skip: %v", err)
	}
	if got.Status != models.DraftSkipped {
		t.Fatalf("status = %s, want skipped", got.Status)
	}
}

func TestResumeRetriesOnlyMissingPositions(t *testing.T) {
	e := newEnv(t, defaultOpts())
	ctx := context.Background()

	texts := []string{"step one today", "step two today", "step three today"}
	d, raw := e.seedApprovedThread(t, texts)

	failing := &scriptedTransport{prefix: "a", failOn: map[int]error{2: errors.New("status 500")}}
	e.orch.SetTransportFactory(func(models.Draft) publish.Transport { return failing })

	if _, err := e.orch.Approve(ctx, d.ID, raw); err == nil {
		t.Fatal("approve should surface the publish failure")
	}
	got, _ := e.store.GetDraft(ctx, d.ID)
	if got.Status != models.DraftError {
		t.Fatalf("status = %s, want error", got.Status)
	}

	working := &scriptedTransport{prefix: "b"}
	e.orch.SetTransportFactory(func(models.Draft) publish.Transport { return working })

	got, err := e.orch.Resume(ctx, d.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got.Status != models.DraftDryRunPosted {
		t.Fatalf("status = %s, want dry_run_posted", got.Status)
	}
	if len(got.PublishedIDs) != 3 || got.PublishedIDs[0] != "a1" {
		t.Fatalf("position 1 should keep its original id: %v", got.PublishedIDs)
	}
	if len(working.texts) != 2 || working.texts[0] != texts[1] || working.texts[1] != texts[2] {
		t.Fatalf("resume must retry only positions 2 and 3, got %v", working.texts)
	}
	posts, _ := e.store.ListPosts(ctx, d.ID)
	if len(posts) != 3 {
		t.Fatalf("want 3 audit posts, got %d", len(posts))
	}
}

func TestResumeRequiresErrorState(t *testing.T) {
	e := newEnv(t, defaultOpts())
	ctx := context.Background()

	runID, err := e.orch.StartRun(ctx, "manual")
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	d := e.draftForRun(t, runID)
	if _, err := e.orch.Resume(ctx, d.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("want ErrInvalidState, got %v", err)
	}
}

func TestExpireStaleClosesTheWindow(t *testing.T) {
	opts := defaultOpts()
	opts.DraftTTL = time.Hour
	e := newEnv(t, opts)
	ctx := context.Background()

	runID, err := e.orch.StartRun(ctx, "scheduler")
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	d := e.draftForRun(t, runID)

	e.orch.SetClock(func() time.Time { return time.Now().UTC().Add(2 * time.Hour) })
	n, err := e.orch.ExpireStale(ctx)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("want 1 expired draft, got %d", n)
	}
	got, _ := e.store.GetDraft(ctx, d.ID)
	if got.Status != models.DraftExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}

	if _, _, err := e.orch.Edit(ctx, d.ID, []string{"too late"}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expired draft should reject actions, got %v", err)
	}
}
