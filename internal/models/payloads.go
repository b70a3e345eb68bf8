package models

import "time"

// EvidenceItem is one piece of collected raw material (a commit subject, a
// devlog excerpt, a note, a link).
type EvidenceItem struct {
	SourceName string    `json:"source_name"`
	SourceID   string    `json:"source_id"`
	Timestamp  time.Time `json:"timestamp"`
	RawSnippet string    `json:"raw_snippet"`
	Title      string    `json:"title,omitempty"`
	URL        string    `json:"url,omitempty"`
}

// Materials is the collector output: everything the later stages may cite.
type Materials struct {
	GitCommits []EvidenceItem `json:"git_commits"`
	Devlog     *EvidenceItem  `json:"devlog,omitempty"`
	Notes      []EvidenceItem `json:"notes"`
	Links      []EvidenceItem `json:"links"`
	Errors     []string       `json:"errors,omitempty"`
}

// Evidence flattens all evidence items in citation order.
func (m Materials) Evidence() []EvidenceItem {
	out := make([]EvidenceItem, 0, len(m.GitCommits)+len(m.Notes)+len(m.Links)+1)
	out = append(out, m.GitCommits...)
	if m.Devlog != nil {
		out = append(out, *m.Devlog)
	}
	out = append(out, m.Notes...)
	out = append(out, m.Links...)
	return out
}

// EvidenceRef ties a claim back to a specific material snippet.
type EvidenceRef struct {
	SourceName string `json:"source_name"`
	SourceID   string `json:"source_id"`
	Quote      string `json:"quote"`
}

// TopicPlan is the curator output.
type TopicPlan struct {
	TopicBucket int                      `json:"topic_bucket"`
	Angles      []string                 `json:"angles"`
	KeyPoints   []string                 `json:"key_points"`
	EvidenceMap map[string][]EvidenceRef `json:"evidence_map,omitempty"`
}

// StyleProfile captures learned writing preferences.
type StyleProfile struct {
	PreferredOpeners []string `json:"preferred_openers"`
	ForbiddenPhrases []string `json:"forbidden_phrases"`
	SentenceLength   string   `json:"sentence_length_preference"`
	ToneRules        []string `json:"tone_rules"`
	FormattingRules  []string `json:"formatting_rules"`
}

// ThreadPlan decides single-tweet vs thread mode and the per-tweet outline.
type ThreadPlan struct {
	Enabled          bool       `json:"enabled"`
	TweetsCount      int        `json:"tweets_count"`
	NumberingEnabled bool       `json:"numbering_enabled"`
	Reason           string     `json:"reason,omitempty"`
	TweetKeyPoints   [][]string `json:"tweet_key_points,omitempty"`
}

// DraftCandidate is one writer proposal, single text or a thread.
type DraftCandidate struct {
	Mode   string   `json:"mode"` // single|thread
	Text   string   `json:"text,omitempty"`
	Tweets []string `json:"tweets,omitempty"`
}

// DraftCandidates is the writer output.
type DraftCandidates struct {
	Candidates []DraftCandidate `json:"candidates"`
}

// EditedDraft is the critic output: the selected, cleaned-up candidate.
type EditedDraft struct {
	Mode           string   `json:"mode"`
	SelectedIndex  int      `json:"selected_candidate_index"`
	Original       DraftCandidate `json:"original"`
	FinalText      string   `json:"final_text,omitempty"`
	FinalTweets    []string `json:"final_tweets,omitempty"`
	NumberingAdded bool     `json:"numbering_added"`
	EditNotes      string   `json:"edit_notes,omitempty"`
}

// Texts returns the tweet texts in publish order, regardless of mode.
func (e EditedDraft) Texts() []string {
	if e.Mode == "thread" && len(e.FinalTweets) > 0 {
		out := make([]string, 0, len(e.FinalTweets))
		for _, t := range e.FinalTweets {
			if t != "" {
				out = append(out, t)
			}
		}
		return out
	}
	if e.FinalText != "" {
		return []string{e.FinalText}
	}
	return nil
}

// Policy verdicts.
const (
	PolicyPass    = "PASS"
	PolicyRewrite = "REWRITE"
	PolicyHold    = "HOLD"
)

// PolicyCheckResult is the outcome of a single named check.
type PolicyCheckResult struct {
	CheckName string `json:"check_name"`
	Passed    bool   `json:"passed"`
	Details   string `json:"details"`
}

// PolicyReport is the policy stage output; Action drives the state machine.
type PolicyReport struct {
	Checks            []PolicyCheckResult      `json:"checks"`
	RiskLevel         string                   `json:"risk_level"` // LOW|MEDIUM|HIGH
	Action            string                   `json:"action"`     // PASS|REWRITE|HOLD
	Claims            []string                 `json:"claims,omitempty"`
	EvidenceMap       map[string][]EvidenceRef `json:"evidence_map,omitempty"`
	UnsupportedClaims []string                 `json:"unsupported_claims,omitempty"`
	OffendingSpans    []string                 `json:"offending_spans,omitempty"`
}
