package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"social-post-orchestrator/internal/models"
	"social-post-orchestrator/internal/retry"
)

func observerCore() (zapcore.Core, *observer.ObservedLogs) {
	return observer.New(zapcore.DebugLevel)
}

func reviewFixture() Review {
	return Review{
		Draft: models.Draft{
			ID:     "draft-42",
			Status: models.DraftPending,
			Tweets: []string{"Today: shipped the retry queue for the publisher"},
			PolicyReport: &models.PolicyReport{
				Action:    models.PolicyPass,
				RiskLevel: "LOW",
				Checks: []models.PolicyCheckResult{
					{CheckName: "length_ok", Passed: true, Details: "42 chars"},
				},
			},
		},
		RawToken: "raw-token-abc123",
	}
}

func TestEmailCarriesActionLinksWithToken(t *testing.T) {
	n := NewEmailNotifier("smtp:25", "bot@example.com", "me@example.com", "https://console.example.com/", retry.Policy{MaxRetries: 0})

	var sent []byte
	n.SetSender(func(addr, from string, to []string, msg []byte) error {
		if addr != "smtp:25" || from != "bot@example.com" || len(to) != 1 || to[0] != "me@example.com" {
			t.Fatalf("envelope wrong: %s %s %v", addr, from, to)
		}
		sent = msg
		return nil
	})

	if err := n.NotifyReview(context.Background(), reviewFixture()); err != nil {
		t.Fatalf("notify: %v", err)
	}

	body := string(sent)
	for _, action := range []string{"approve", "edit", "skip"} {
		link := "https://console.example.com/drafts/draft-42/" + action + "?token=raw-token-abc123"
		if !strings.Contains(body, link) {
			t.Errorf("missing %s link: %s", action, link)
		}
	}
	if !strings.Contains(body, "Subject: Daily X Draft: PASS - Today: shipped the retry queue...") {
		t.Fatalf("unexpected subject in: %s", body[:200])
	}
	if !strings.Contains(body, "Content-Type: text/html") {
		t.Fatal("email must declare an html body")
	}
	if !strings.Contains(body, "length_ok: PASS") {
		t.Fatal("policy checks should be rendered")
	}
}

func TestEmailSendIsRetried(t *testing.T) {
	n := NewEmailNotifier("smtp:25", "bot@example.com", "me@example.com", "https://console.example.com", retry.Policy{
		MaxRetries: 1, BackoffInitial: time.Millisecond, BackoffMax: 2 * time.Millisecond,
	})

	calls := 0
	n.SetSender(func(_, _ string, _ []string, _ []byte) error {
		calls++
		if calls == 1 {
			return errors.New("connection refused")
		}
		return nil
	})

	if err := n.NotifyReview(context.Background(), reviewFixture()); err != nil {
		t.Fatalf("notify should recover: %v", err)
	}
	if calls != 2 {
		t.Fatalf("want 2 send attempts, got %d", calls)
	}
}

func TestLogNotifierOmitsRawToken(t *testing.T) {
	core, logs := observerCore()
	n := &LogNotifier{Logger: zap.New(core)}

	if err := n.NotifyReview(context.Background(), reviewFixture()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	for _, entry := range logs.All() {
		if strings.Contains(entry.Message, "raw-token-abc123") {
			t.Fatal("raw token leaked into the log message")
		}
		for _, f := range entry.Context {
			if strings.Contains(f.String, "raw-token-abc123") {
				t.Fatalf("raw token leaked into log field %s", f.Key)
			}
		}
	}
}
