package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"social-post-orchestrator/internal/models"
	"social-post-orchestrator/internal/retry"
	"social-post-orchestrator/internal/store"
)

type fakeCall struct {
	Text    string
	ReplyTo string
}

// fakeTransport records every PostTweet call and can be told to fail on
// specific call numbers (1-based).
type fakeTransport struct {
	mu     sync.Mutex
	calls  []fakeCall
	failOn map[int]error
}

func (f *fakeTransport) PostTweet(_ context.Context, text, inReplyTo string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeCall{Text: text, ReplyTo: inReplyTo})
	n := len(f.calls)
	if err, ok := f.failOn[n]; ok {
		return "", err
	}
	return fmt.Sprintf("tw%d", n), nil
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestPublisher(st store.Store) *Publisher {
	// Zero retries keeps failure tests free of backoff sleeps.
	return NewPublisher(st, zap.NewNop(), retry.Policy{MaxRetries: 0})
}

func TestPublishThreadChainsReplies(t *testing.T) {
	st := store.NewMemory()
	tr := &fakeTransport{}
	pub := newTestPublisher(st)

	texts := []string{"first 1/3", "second 2/3", "third 3/3"}
	ids, err := pub.Publish(context.Background(), "draft-1", texts, tr)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(ids) != 3 || ids[0] != "tw1" || ids[2] != "tw3" {
		t.Fatalf("unexpected ids %v", ids)
	}
	if tr.calls[0].ReplyTo != "" || tr.calls[1].ReplyTo != "tw1" || tr.calls[2].ReplyTo != "tw2" {
		t.Fatalf("reply chain broken: %+v", tr.calls)
	}

	attempts, err := st.ListAttempts(context.Background(), "draft-1")
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(attempts) != 3 {
		t.Fatalf("want 3 attempts, got %d", len(attempts))
	}
	for _, a := range attempts {
		if a.Outcome != models.AttemptSuccess || a.TweetID == nil {
			t.Fatalf("attempt %d not recorded as success: %+v", a.Position, a)
		}
	}
	posts, _ := st.ListPosts(context.Background(), "draft-1")
	if len(posts) != 3 {
		t.Fatalf("want 3 posts in audit, got %d", len(posts))
	}
}

func TestPublishStopsAtFirstFailure(t *testing.T) {
	st := store.NewMemory()
	tr := &fakeTransport{failOn: map[int]error{2: errors.New("status 403")}}
	pub := newTestPublisher(st)

	ids, err := pub.Publish(context.Background(), "draft-1", []string{"a", "b", "c"}, tr)
	if err == nil {
		t.Fatal("want error on failed position")
	}
	if !strings.Contains(err.Error(), "position 2") {
		t.Fatalf("error should name the failed position, got %v", err)
	}
	if len(ids) != 1 || ids[0] != "tw1" {
		t.Fatalf("earlier successes should be returned, got %v", ids)
	}
	if tr.callCount() != 2 {
		t.Fatalf("position 3 must not be attempted, got %d calls", tr.callCount())
	}

	attempts, _ := st.ListAttempts(context.Background(), "draft-1")
	if len(attempts) != 2 {
		t.Fatalf("want 2 attempt rows, got %d", len(attempts))
	}
	if attempts[0].Outcome != models.AttemptSuccess {
		t.Fatalf("position 1 should stay success: %+v", attempts[0])
	}
	if attempts[1].Outcome != models.AttemptFailure || attempts[1].LastError == nil {
		t.Fatalf("position 2 should record the failure: %+v", attempts[1])
	}
}

func TestPublishReusesRecordedSuccess(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	// A prior run already posted position 1.
	if _, err := st.StartAttempt(ctx, "draft-1", 1, now); err != nil {
		t.Fatalf("seed attempt: %v", err)
	}
	if err := st.MarkAttemptSuccess(ctx, "draft-1", 1, "tw-old", "a", now); err != nil {
		t.Fatalf("seed success: %v", err)
	}

	tr := &fakeTransport{}
	pub := newTestPublisher(st)
	ids, err := pub.Publish(ctx, "draft-1", []string{"a", "b"}, tr)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(ids) != 2 || ids[0] != "tw-old" {
		t.Fatalf("recorded id should be reused, got %v", ids)
	}
	if tr.callCount() != 1 {
		t.Fatalf("position 1 must not be re-posted, got %d calls", tr.callCount())
	}
	if tr.calls[0].Text != "b" || tr.calls[0].ReplyTo != "tw-old" {
		t.Fatalf("resume should chain off the recorded id: %+v", tr.calls[0])
	}
}

func TestPublishConflictOnPendingPosition(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	// Another publisher holds position 1 in flight.
	if _, err := st.StartAttempt(ctx, "draft-1", 1, time.Now().UTC()); err != nil {
		t.Fatalf("seed pending: %v", err)
	}

	tr := &fakeTransport{}
	pub := newTestPublisher(st)
	_, err := pub.Publish(ctx, "draft-1", []string{"a"}, tr)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
	if tr.callCount() != 0 {
		t.Fatal("transport must not be called on conflict")
	}
}

func TestPublishRetriesTransientFailures(t *testing.T) {
	st := store.NewMemory()
	tr := &fakeTransport{failOn: map[int]error{1: retry.Transient(errors.New("status 503"))}}
	pub := NewPublisher(st, zap.NewNop(), retry.Policy{MaxRetries: 2, BackoffInitial: time.Millisecond, BackoffMax: 2 * time.Millisecond})

	ids, err := pub.Publish(context.Background(), "draft-1", []string{"a"}, tr)
	if err != nil {
		t.Fatalf("publish should recover from a transient 503: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("want 1 id, got %v", ids)
	}
	if tr.callCount() != 2 {
		t.Fatalf("want 2 calls (failure then retry), got %d", tr.callCount())
	}
}

func TestDryRunTransportIDs(t *testing.T) {
	st := store.NewMemory()
	pub := newTestPublisher(st)

	draftID := "0a1b2c3d-extra"
	ids, err := pub.Publish(context.Background(), draftID, []string{"a", "b"}, &DryRunTransport{DraftID: draftID})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(ids) != 2 || ids[0] != "dry_0a1b2c3d_1" || ids[1] != "dry_0a1b2c3d_2" {
		t.Fatalf("unexpected dry-run ids %v", ids)
	}
}

func TestDryRunResumeSkipsPublishedPositions(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()
	draftID := "0a1b2c3d-extra"

	if _, err := st.StartAttempt(ctx, draftID, 1, now); err != nil {
		t.Fatalf("seed attempt: %v", err)
	}
	if err := st.MarkAttemptSuccess(ctx, draftID, 1, "dry_0a1b2c3d_1", "a", now); err != nil {
		t.Fatalf("seed success: %v", err)
	}

	pub := newTestPublisher(st)
	ids, err := pub.Publish(ctx, draftID, []string{"a", "b"}, &DryRunTransport{DraftID: draftID})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	// The fabricated counter is realigned so position 2 keeps its number.
	if ids[1] != "dry_0a1b2c3d_2" {
		t.Fatalf("resumed dry-run id misnumbered: %v", ids)
	}
}

func TestMissingPositions(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := st.StartAttempt(ctx, "draft-1", 2, now); err != nil {
		t.Fatalf("seed attempt: %v", err)
	}
	if err := st.MarkAttemptSuccess(ctx, "draft-1", 2, "tw2", "b", now); err != nil {
		t.Fatalf("seed success: %v", err)
	}

	pub := newTestPublisher(st)
	missing, err := pub.MissingPositions(ctx, "draft-1", 3)
	if err != nil {
		t.Fatalf("missing positions: %v", err)
	}
	if len(missing) != 2 || missing[0] != 1 || missing[1] != 3 {
		t.Fatalf("want [1 3], got %v", missing)
	}
}
