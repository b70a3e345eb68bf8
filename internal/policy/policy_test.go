package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"social-post-orchestrator/internal/models"
)

func single(text string) models.EditedDraft {
	return models.EditedDraft{Mode: "single", FinalText: text}
}

func materialsWith(snippets ...string) models.Materials {
	var m models.Materials
	for i, s := range snippets {
		m.GitCommits = append(m.GitCommits, models.EvidenceItem{
			SourceName: "git",
			SourceID:   string(rune('a' + i)),
			RawSnippet: s,
		})
	}
	return m
}

func TestEvaluatePassOnCleanGroundedText(t *testing.T) {
	c := NewChecker(nil, 0.6)
	draft := single("Today: shipped the retry queue for outbound webhook deliveries")
	m := materialsWith("shipped the retry queue for outbound webhook deliveries")

	report := c.Evaluate(draft, m, nil, models.StyleProfile{})
	if report.Action != models.PolicyPass {
		t.Fatalf("action = %s, checks = %+v", report.Action, report.Checks)
	}
	if report.RiskLevel != "LOW" {
		t.Fatalf("risk = %s", report.RiskLevel)
	}
}

func TestBlockedTermHolds(t *testing.T) {
	c := NewChecker([]string{"confidential"}, 0.6)
	report := c.Evaluate(single("this is Confidential information"), models.Materials{}, nil, models.StyleProfile{})
	if report.Action != models.PolicyHold || report.RiskLevel != "HIGH" {
		t.Fatalf("action=%s risk=%s", report.Action, report.RiskLevel)
	}
	if len(report.OffendingSpans) == 0 {
		t.Fatalf("expected offending spans recorded")
	}
}

func TestLeakageHolds(t *testing.T) {
	c := NewChecker(nil, 0.6)
	report := c.Evaluate(single("oops sk-abcdefghijklmnopqrstuv leaked"), models.Materials{}, nil, models.StyleProfile{})
	if report.Action != models.PolicyHold || report.RiskLevel != "HIGH" {
		t.Fatalf("action=%s risk=%s", report.Action, report.RiskLevel)
	}
}

func TestUngroundedClaimRewritesHigh(t *testing.T) {
	c := NewChecker(nil, 0.6)
	report := c.Evaluate(single("The new cache layer doubled our throughput overnight"), models.Materials{}, nil, models.StyleProfile{})
	if report.Action != models.PolicyRewrite || report.RiskLevel != "HIGH" {
		t.Fatalf("action=%s risk=%s checks=%+v", report.Action, report.RiskLevel, report.Checks)
	}
	if len(report.UnsupportedClaims) == 0 {
		t.Fatalf("expected unsupported claims")
	}
}

func TestOpinionIsNotAClaim(t *testing.T) {
	c := NewChecker(nil, 0.6)
	report := c.Evaluate(single("My take: small honest updates beat polished announcements"), models.Materials{}, nil, models.StyleProfile{})
	for _, check := range report.Checks {
		if check.CheckName == "fact_grounded_ok" && !check.Passed {
			t.Fatalf("opinion should not need grounding: %+v", report.Checks)
		}
	}
}

func TestLengthFailureRewritesMedium(t *testing.T) {
	c := NewChecker(nil, 0.6)
	long := "My take: " + strings.Repeat("word ", 70)
	report := c.Evaluate(single(long), models.Materials{}, nil, models.StyleProfile{})
	if report.Action != models.PolicyRewrite || report.RiskLevel != "MEDIUM" {
		t.Fatalf("action=%s risk=%s", report.Action, report.RiskLevel)
	}
}

func TestSimilarityAgainstRecentPosts(t *testing.T) {
	c := NewChecker(nil, 0.6)
	text := "Today: shipped the retry queue for outbound webhook deliveries"
	m := materialsWith("shipped the retry queue for outbound webhook deliveries")

	report := c.Evaluate(single(text), m, []string{text}, models.StyleProfile{})
	if report.Action != models.PolicyRewrite {
		t.Fatalf("near-duplicate should rewrite, got %s", report.Action)
	}

	report = c.Evaluate(single(text), m, []string{"a completely unrelated topic about gardening"}, models.StyleProfile{})
	if report.Action != models.PolicyPass {
		t.Fatalf("unrelated recent post should pass, got %s", report.Action)
	}
}

func TestToneChecks(t *testing.T) {
	c := NewChecker(nil, 0.6)
	for _, tc := range []struct {
		name string
		text string
	}{
		{"hashtag", "My take: this update #buildinpublic"},
		{"marketing", "My take: this feature is a game changer"},
		{"exaggeration", "My take: the speedup is insane"},
	} {
		report := c.Evaluate(single(tc.text), models.Materials{}, nil, models.StyleProfile{})
		if report.Action != models.PolicyRewrite || report.RiskLevel != "MEDIUM" {
			t.Fatalf("%s: action=%s risk=%s", tc.name, report.Action, report.RiskLevel)
		}
	}
}

func TestThreadMarkerInSingle(t *testing.T) {
	c := NewChecker(nil, 0.6)
	report := c.Evaluate(single("My take: threads are fun 1/ watch this"), models.Materials{}, nil, models.StyleProfile{})
	if report.Action != models.PolicyHold {
		t.Fatalf("marker in single should hold, got %s", report.Action)
	}

	thread := models.EditedDraft{Mode: "thread", FinalTweets: []string{"My take: threads are fine 1/ here", "and 2/ here"}}
	report = c.Evaluate(thread, models.Materials{}, nil, models.StyleProfile{})
	for _, check := range report.Checks {
		if check.CheckName == "thread_marker_ok" && !check.Passed {
			t.Fatalf("markers are allowed in thread mode")
		}
	}
}

func TestEvidenceMapping(t *testing.T) {
	claims := []string{"shipped the retry queue for webhook deliveries"}
	evidence := []models.EvidenceItem{
		{SourceName: "git", SourceID: "abc", RawSnippet: "shipped the retry queue for webhook deliveries"},
		{SourceName: "note", SourceID: "n1", RawSnippet: "gardening on sunday"},
	}
	em, unsupported := mapEvidence(claims, evidence)
	if len(unsupported) != 0 {
		t.Fatalf("unsupported = %v", unsupported)
	}
	refs := em[claims[0]]
	if len(refs) == 0 || refs[0].SourceID != "abc" {
		t.Fatalf("refs = %+v", refs)
	}
}

func TestLoadBlockedTerms(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blocked.yaml")
	content := "blocked_terms:\n  - Confidential\n  - \" internal only \"\n  - confidential\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	terms, err := LoadBlockedTerms(path, []string{"nda"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"confidential", "internal only", "nda"}
	if len(terms) != len(want) {
		t.Fatalf("terms = %v", terms)
	}
	for i := range want {
		if terms[i] != want[i] {
			t.Fatalf("terms[%d] = %q, want %q", i, terms[i], want[i])
		}
	}

	// Missing file falls back to the extras.
	terms, err = LoadBlockedTerms(filepath.Join(dir, "missing.yaml"), []string{"nda"})
	if err != nil || len(terms) != 1 || terms[0] != "nda" {
		t.Fatalf("fallback terms = %v err = %v", terms, err)
	}
}
