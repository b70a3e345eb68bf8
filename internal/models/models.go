package models

import (
	"time"
)

// RunStatus values persisted on runs.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Draft lifecycle states.
const (
	DraftPending      = "pending"
	DraftNeedsHuman   = "needs_human_attention"
	DraftPublishing   = "publishing"
	DraftPosted       = "posted"
	DraftDryRunPosted = "dry_run_posted"
	DraftBlocked      = "blocked"
	DraftSkipped      = "skipped"
	DraftExpired      = "expired"
	DraftError        = "error"
)

// Publish attempt outcomes.
const (
	AttemptPending = "pending"
	AttemptSuccess = "success"
	AttemptFailure = "failure"
)

// Run is one execution of the fixed pipeline, from trigger to terminal state.
type Run struct {
	ID         string     `json:"id"`
	Source     string     `json:"source"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMS int64      `json:"duration_ms"`
	LastError  *string    `json:"last_error,omitempty"`
}

// Draft is the post produced by a run, awaiting or having received human
// disposition. Stage payload snapshots are retained so human actions can
// re-enter the pipeline without recomputing earlier stages.
type Draft struct {
	ID           string    `json:"id"`
	RunID        string    `json:"run_id"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	Status       string    `json:"status"`
	ThreadMode   bool      `json:"thread_mode"`
	Tweets       []string  `json:"tweets"`
	RewriteCount int       `json:"rewrite_count"`

	Materials    *Materials       `json:"materials,omitempty"`
	TopicPlan    *TopicPlan       `json:"topic_plan,omitempty"`
	StyleProfile *StyleProfile    `json:"style_profile,omitempty"`
	ThreadPlan   *ThreadPlan      `json:"thread_plan,omitempty"`
	Candidates   *DraftCandidates `json:"candidates,omitempty"`
	Edited       *EditedDraft     `json:"edited,omitempty"`
	PolicyReport *PolicyReport    `json:"policy_report,omitempty"`

	PublishedIDs []string `json:"published_ids,omitempty"`
	LastError    *string  `json:"last_error,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// ActionToken stores only the hash of a one-time approval credential.
// The raw value is handed to the notifier once and never persisted.
type ActionToken struct {
	ID         string     `json:"id"`
	DraftID    string     `json:"draft_id"`
	Hash       string     `json:"-"`
	IssuedAt   time.Time  `json:"issued_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

// Consumed reports whether the token has already authorized an action.
func (t ActionToken) Consumed() bool { return t.ConsumedAt != nil }

// PublishAttempt records one try to post one tweet at one thread position.
// At most one row per (draft, position) may carry OutcomeSuccess.
type PublishAttempt struct {
	DraftID   string     `json:"draft_id"`
	Position  int        `json:"position"`
	StartedAt time.Time  `json:"started_at"`
	Outcome   string     `json:"outcome"`
	TweetID   *string    `json:"tweet_id,omitempty"`
	LastError *string    `json:"last_error,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Post is a successfully published tweet, kept for similarity checks and audit.
type Post struct {
	DraftID  string    `json:"draft_id"`
	Position int       `json:"position"`
	TweetID  string    `json:"tweet_id"`
	Content  string    `json:"content"`
	PostedAt time.Time `json:"posted_at"`
}

// AgentLog is the structured record of one stage invocation within a run.
// Summaries are bounded and secret-redacted before they reach the store.
type AgentLog struct {
	RunID         string    `json:"run_id"`
	Stage         string    `json:"stage"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	DurationMS    int64     `json:"duration_ms"`
	InputSummary  string    `json:"input_summary"`
	OutputSummary string    `json:"output_summary"`
	Model         *string   `json:"model,omitempty"`
	Error         *string   `json:"error,omitempty"`
	Warnings      []string  `json:"warnings,omitempty"`
}
