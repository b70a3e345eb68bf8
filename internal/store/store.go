package store

import (
	"context"
	"errors"
	"time"

	"social-post-orchestrator/internal/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a check-and-set loses to a concurrent writer.
	ErrConflict = errors.New("status conflict")
	// ErrSchema is returned when persisted data fails an invariant check on read.
	ErrSchema = errors.New("schema invariant violated")
)

// Store is the durable persistence boundary for the orchestrator. Every
// mutating draft operation is atomic with respect to concurrent callers.
type Store interface {
	// Runs.
	CreateRun(ctx context.Context, run models.Run) error
	GetRun(ctx context.Context, id string) (models.Run, error)
	FinishRun(ctx context.Context, id, status string, finishedAt time.Time, lastError *string) error
	ListRuns(ctx context.Context, since time.Time, limit int) ([]models.Run, error)

	// Drafts.
	CreateDraft(ctx context.Context, d models.Draft) error
	GetDraft(ctx context.Context, id string) (models.Draft, error)
	GetDraftByRun(ctx context.Context, runID string) (models.Draft, error)
	ListDrafts(ctx context.Context, status string, since time.Time, limit int) ([]models.Draft, error)

	// TransitionDraft performs a check-and-set on draft status: the write
	// happens only if the current status is one of from; otherwise the caller
	// gets ErrConflict along with the draft as it currently stands.
	TransitionDraft(ctx context.Context, id string, from []string, to string) (models.Draft, error)

	// The remaining draft mutators carry the same check-and-set discipline:
	// the write happens only while the current status is one of from,
	// otherwise ErrConflict. This keeps a racing human action from
	// overwriting a draft that has already moved on (e.g. been published).
	UpdateDraftTexts(ctx context.Context, id string, from []string, tweets []string, edited models.EditedDraft) error
	UpdateDraftGeneration(ctx context.Context, id string, from []string, candidates models.DraftCandidates, edited models.EditedDraft, rewriteCount int) error
	SetDraftPolicy(ctx context.Context, id string, from []string, report models.PolicyReport, status string) error
	SetDraftPublished(ctx context.Context, id, status string, tweetIDs []string) error
	SetDraftError(ctx context.Context, id, msg string) error
	ExpireDrafts(ctx context.Context, now time.Time) (int, error)

	// Approval tokens. InsertToken invalidates any prior unconsumed token for
	// the same draft (at most one active token per draft). ConsumeToken is
	// atomic: of two concurrent callers exactly one observes consumedNow=true.
	InsertToken(ctx context.Context, t models.ActionToken) error
	GetTokenByHash(ctx context.Context, hash string) (models.ActionToken, error)
	ConsumeToken(ctx context.Context, hash string, now time.Time) (consumedNow bool, t models.ActionToken, err error)

	// Publish attempts. StartAttempt inserts a pending row for (draft,
	// position); it fails with ErrConflict when a pending row is already in
	// flight and reports an existing success without inserting anything.
	StartAttempt(ctx context.Context, draftID string, position int, at time.Time) (existing *models.PublishAttempt, err error)
	MarkAttemptSuccess(ctx context.Context, draftID string, position int, tweetID, content string, at time.Time) error
	MarkAttemptFailure(ctx context.Context, draftID string, position int, errMsg string, at time.Time) error
	ListAttempts(ctx context.Context, draftID string) ([]models.PublishAttempt, error)

	// Posts.
	RecentPostTexts(ctx context.Context, since time.Time, limit int) ([]string, error)
	ListPosts(ctx context.Context, draftID string) ([]models.Post, error)

	// Agent execution logs.
	AppendAgentLog(ctx context.Context, log models.AgentLog) error
	ListAgentLogs(ctx context.Context, runID string) ([]models.AgentLog, error)
}
