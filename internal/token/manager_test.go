package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"social-post-orchestrator/internal/store"
)

func TestConsumeOnce(t *testing.T) {
	ctx := context.Background()
	m := NewManager(store.NewMemory(), time.Hour)

	raw, err := m.Issue(ctx, "draft-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if raw == "" {
		t.Fatalf("expected non-empty raw token")
	}

	if err := m.Consume(ctx, "draft-1", raw); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if err := m.Consume(ctx, "draft-1", raw); !errors.Is(err, ErrConsumed) {
		t.Fatalf("second consume: want ErrConsumed, got %v", err)
	}
}

func TestExpiredToken(t *testing.T) {
	ctx := context.Background()
	m := NewManager(store.NewMemory(), time.Hour)

	raw, err := m.Issue(ctx, "draft-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	m.SetClock(func() time.Time { return time.Now().UTC().Add(2 * time.Hour) })
	if err := m.Validate(ctx, "draft-1", raw); !errors.Is(err, ErrExpired) {
		t.Fatalf("validate: want ErrExpired, got %v", err)
	}
	if err := m.Consume(ctx, "draft-1", raw); !errors.Is(err, ErrExpired) {
		t.Fatalf("consume: want ErrExpired, got %v", err)
	}
}

func TestTokenBoundToDraft(t *testing.T) {
	ctx := context.Background()
	m := NewManager(store.NewMemory(), time.Hour)

	raw, err := m.Issue(ctx, "draft-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := m.Validate(ctx, "draft-2", raw); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-draft validate: want ErrNotFound, got %v", err)
	}
}

func TestUnknownToken(t *testing.T) {
	ctx := context.Background()
	m := NewManager(store.NewMemory(), time.Hour)

	if err := m.Validate(ctx, "draft-1", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if err := m.Validate(ctx, "draft-1", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty raw: want ErrNotFound, got %v", err)
	}
}

func TestReissueInvalidatesPrior(t *testing.T) {
	ctx := context.Background()
	m := NewManager(store.NewMemory(), time.Hour)

	first, err := m.Issue(ctx, "draft-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	second, err := m.Issue(ctx, "draft-1")
	if err != nil {
		t.Fatalf("reissue: %v", err)
	}

	if err := m.Validate(ctx, "draft-1", first); !errors.Is(err, ErrConsumed) {
		t.Fatalf("old token: want ErrConsumed, got %v", err)
	}
	if err := m.Consume(ctx, "draft-1", second); err != nil {
		t.Fatalf("new token consume: %v", err)
	}
}

func TestConcurrentConsumeSingleWinner(t *testing.T) {
	ctx := context.Background()
	m := NewManager(store.NewMemory(), time.Hour)

	raw, err := m.Issue(ctx, "draft-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	const callers = 8
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() { errs <- m.Consume(ctx, "draft-1", raw) }()
	}

	wins := 0
	for i := 0; i < callers; i++ {
		err := <-errs
		if err == nil {
			wins++
			continue
		}
		if !errors.Is(err, ErrConsumed) {
			t.Fatalf("loser saw %v, want ErrConsumed", err)
		}
	}
	if wins != 1 {
		t.Fatalf("want exactly one winner, got %d", wins)
	}
}
