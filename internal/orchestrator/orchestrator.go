// Package orchestrator drives the daily pipeline as a persisted state
// machine. One run executes the stages strictly in order; human actions
// (approve, edit, skip, regenerate, resume) re-enter the same machine from
// durable draft state, never from an in-memory continuation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"social-post-orchestrator/internal/llm"
	"social-post-orchestrator/internal/models"
	"social-post-orchestrator/internal/notify"
	"social-post-orchestrator/internal/policy"
	"social-post-orchestrator/internal/publish"
	"social-post-orchestrator/internal/stage"
	"social-post-orchestrator/internal/store"
	"social-post-orchestrator/internal/telemetry"
	"social-post-orchestrator/internal/token"
)

var (
	// ErrInvalidState reports a human action attempted from a draft state
	// that does not permit it.
	ErrInvalidState = errors.New("draft state does not permit this action")
	// ErrPolicyBlocked reports an approval stopped by the re-policy gate.
	ErrPolicyBlocked = errors.New("policy check failed")
	// ErrValidation reports malformed action input.
	ErrValidation = errors.New("invalid input")
)

// actionableStates are the draft states a human may still act on.
var actionableStates = []string{models.DraftPending, models.DraftNeedsHuman, models.DraftBlocked}

// Options carries the tunables the state machine needs.
type Options struct {
	DryRun           bool
	RewriteMax       int
	DraftTTL         time.Duration
	RecentPostWindow time.Duration

	ThreadEnabled   bool
	ThreadMaxTweets int
	ThreadNumbering bool

	GitRepoPath string
	DevlogPath  string
	NotesDir    string

	XAPIBaseURL string
	XAPIToken   string
}

// Orchestrator owns the pipeline stages and the human action entry points.
type Orchestrator struct {
	store     store.Store
	tokens    *token.Manager
	recorder  *stage.Recorder
	checker   *policy.Checker
	publisher *publish.Publisher
	notifier  notify.Notifier
	logger    *zap.Logger
	opts      Options

	collector *stage.Collector
	curator   *stage.Curator
	styler    *stage.Styler
	planner   *stage.ThreadPlanner
	writer    *stage.Writer
	critic    *stage.Critic
	policy    *policy.Stage

	now       func() time.Time
	transport func(models.Draft) publish.Transport
}

// New wires the orchestrator. client may be nil; stages then use their
// heuristic paths.
func New(st store.Store, tokens *token.Manager, recorder *stage.Recorder, checker *policy.Checker,
	publisher *publish.Publisher, notifier notify.Notifier, client llm.Client, logger *zap.Logger, opts Options) *Orchestrator {
	if opts.RewriteMax < 0 {
		opts.RewriteMax = 0
	}
	if opts.DraftTTL <= 0 {
		opts.DraftTTL = 36 * time.Hour
	}
	if opts.RecentPostWindow <= 0 {
		opts.RecentPostWindow = 14 * 24 * time.Hour
	}
	return &Orchestrator{
		store:     st,
		tokens:    tokens,
		recorder:  recorder,
		checker:   checker,
		publisher: publisher,
		notifier:  notifier,
		logger:    logger,
		opts:      opts,
		collector: &stage.Collector{RepoPath: opts.GitRepoPath, DevlogPath: opts.DevlogPath, NotesDir: opts.NotesDir},
		curator:   &stage.Curator{LLM: client},
		styler:    &stage.Styler{LLM: client},
		planner:   &stage.ThreadPlanner{Enabled: opts.ThreadEnabled, MaxTweets: opts.ThreadMaxTweets, Numbering: opts.ThreadNumbering},
		writer:    &stage.Writer{LLM: client},
		critic:    &stage.Critic{LLM: client},
		policy:    &policy.Stage{Checker: checker},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source. Test hook.
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// SetTransportFactory overrides the publish transport selection. Test hook.
func (o *Orchestrator) SetTransportFactory(f func(models.Draft) publish.Transport) { o.transport = f }

// StartRun executes the full pipeline: collect, curate, style, plan, then the
// write-critique-policy loop bounded by the rewrite limit, ending with draft
// creation and notification. A terminal stage error fails the run and leaves
// an error draft carrying whatever stage snapshots exist, so resume can
// re-enter from the first missing output.
func (o *Orchestrator) StartRun(ctx context.Context, source string) (string, error) {
	runID := uuid.NewString()
	started := o.now()
	run := models.Run{ID: runID, Source: source, Status: models.RunRunning, CreatedAt: started}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	telemetry.RunsStarted.Inc()
	o.logger.Info("run started", zap.String("run_id", runID), zap.String("source", source))

	recent, err := o.recentPosts(ctx)
	if err != nil {
		return runID, o.failRun(ctx, runID, nil, fmt.Errorf("load recent posts: %w", err))
	}
	p := &stage.Pipeline{Source: source, RecentPosts: recent}

	for _, s := range []stage.Stage{o.collector, o.curator, o.styler, o.planner} {
		if err := o.recorder.Execute(ctx, runID, s, p); err != nil {
			return runID, o.failRun(ctx, runID, p, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}

	rewrites, err := o.generate(ctx, runID, p)
	if err != nil {
		return runID, o.failRun(ctx, runID, p, err)
	}

	draft, err := o.createDraft(ctx, runID, p, rewrites)
	if err != nil {
		return runID, o.failRun(ctx, runID, p, fmt.Errorf("create draft: %w", err))
	}

	o.issueAndNotify(ctx, draft)

	if err := o.store.FinishRun(ctx, runID, models.RunCompleted, o.now(), nil); err != nil {
		return runID, fmt.Errorf("finish run: %w", err)
	}
	telemetry.RunsCompleted.Inc()
	o.logger.Info("run completed", zap.String("run_id", runID), zap.String("draft_id", draft.ID), zap.String("draft_status", draft.Status))
	return runID, nil
}

// generate runs Writer, Critic, Policy, looping once more when the verdict is
// REWRITE and the bound allows it. A second REWRITE verdict falls through and
// the draft ends up needing human attention. Returns the rewrite loops taken.
func (o *Orchestrator) generate(ctx context.Context, runID string, p *stage.Pipeline) (int, error) {
	rewrites := 0
	for {
		for _, s := range []stage.Stage{o.writer, o.critic, o.policy} {
			if err := o.recorder.Execute(ctx, runID, s, p); err != nil {
				return rewrites, fmt.Errorf("%s: %w", s.Name(), err)
			}
		}
		if p.Report.Action == models.PolicyRewrite && rewrites < o.opts.RewriteMax {
			rewrites++
			telemetry.RewriteLoops.Inc()
			o.logger.Info("rewrite loop", zap.String("run_id", runID), zap.Int("rewrite", rewrites))
			continue
		}
		return rewrites, nil
	}
}

func (o *Orchestrator) createDraft(ctx context.Context, runID string, p *stage.Pipeline, rewrites int) (models.Draft, error) {
	now := o.now()
	status := models.DraftNeedsHuman
	if p.Report.Action == models.PolicyPass {
		status = models.DraftPending
	}
	d := models.Draft{
		ID:           uuid.NewString(),
		RunID:        runID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(o.opts.DraftTTL),
		Status:       status,
		ThreadMode:   p.Edited.Mode == "thread",
		Tweets:       p.Edited.Texts(),
		RewriteCount: rewrites,
		Materials:    &p.Materials,
		TopicPlan:    &p.TopicPlan,
		StyleProfile: &p.StyleProfile,
		ThreadPlan:   &p.ThreadPlan,
		Candidates:   &p.Candidates,
		Edited:       &p.Edited,
		PolicyReport: &p.Report,
	}
	if err := o.store.CreateDraft(ctx, d); err != nil {
		return models.Draft{}, err
	}
	return d, nil
}

// issueAndNotify hands the raw token to the notifier. Delivery is
// best-effort: the draft is still reachable through the console on failure.
func (o *Orchestrator) issueAndNotify(ctx context.Context, d models.Draft) {
	raw, err := o.tokens.Issue(ctx, d.ID)
	if err != nil {
		o.logger.Error("token issue failed", zap.String("draft_id", d.ID), zap.Error(err))
		return
	}
	if err := o.notifier.NotifyReview(ctx, notify.Review{Draft: d, RawToken: raw}); err != nil {
		o.logger.Warn("review notification failed", zap.String("draft_id", d.ID), zap.Error(err))
		return
	}
	telemetry.DraftsNotified.Inc()
}

// failRun records the terminal error on the run and, when the pipeline got
// far enough to have outputs, persists an error draft holding the snapshots
// so resume can pick up where the run stopped. A failure before any output
// exists (the stages degrade to heuristics, so in practice a store outage)
// leaves no draft; such runs cannot be resumed, only re-triggered.
func (o *Orchestrator) failRun(ctx context.Context, runID string, p *stage.Pipeline, cause error) error {
	telemetry.RunsFailed.Inc()
	o.logger.Error("run failed", zap.String("run_id", runID), zap.Error(cause))

	if p != nil && (len(p.Materials.Evidence()) > 0 || len(p.TopicPlan.KeyPoints) > 0) {
		now := o.now()
		msg := cause.Error()
		d := models.Draft{
			ID:        uuid.NewString(),
			RunID:     runID,
			CreatedAt: now,
			ExpiresAt: now.Add(o.opts.DraftTTL),
			Status:    models.DraftError,
			Tweets:    p.Edited.Texts(),
			LastError: &msg,
			Materials: &p.Materials,
		}
		if len(p.TopicPlan.KeyPoints) > 0 {
			d.TopicPlan = &p.TopicPlan
		}
		if len(p.StyleProfile.ToneRules) > 0 {
			d.StyleProfile = &p.StyleProfile
		}
		if p.ThreadPlan.TweetsCount > 0 {
			d.ThreadPlan = &p.ThreadPlan
		}
		if len(p.Candidates.Candidates) > 0 {
			d.Candidates = &p.Candidates
		}
		if p.Edited.Mode != "" {
			d.Edited = &p.Edited
			d.ThreadMode = p.Edited.Mode == "thread"
		}
		if err := o.store.CreateDraft(ctx, d); err != nil {
			o.logger.Error("error draft not persisted", zap.String("run_id", runID), zap.Error(err))
		}
	}

	msg := cause.Error()
	if err := o.store.FinishRun(ctx, runID, models.RunFailed, o.now(), &msg); err != nil {
		o.logger.Error("run finalization failed", zap.String("run_id", runID), zap.Error(err))
	}
	return cause
}

// Approve consumes the token, re-runs the policy checks against the latest
// persisted texts, takes the publishing lock via a status check-and-set, and
// publishes. A non-PASS re-policy verdict blocks the draft instead.
func (o *Orchestrator) Approve(ctx context.Context, draftID, rawToken string) (models.Draft, error) {
	d, err := o.store.GetDraft(ctx, draftID)
	if err != nil {
		return models.Draft{}, err
	}

	if err := o.tokens.Consume(ctx, draftID, rawToken); err != nil {
		telemetry.TokenRejects.Inc()
		return d, err
	}

	// Re-policy against the current stored text, not the text the token was
	// issued for: an edit committed after notification is honored.
	report, rerr := o.rePolicy(ctx, d)
	if rerr != nil {
		return d, rerr
	}
	if report.Action != models.PolicyPass {
		if err := o.store.SetDraftPolicy(ctx, draftID, actionableStates, report, models.DraftBlocked); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return d, fmt.Errorf("%w: draft changed during approval", ErrInvalidState)
			}
			return d, fmt.Errorf("block draft: %w", err)
		}
		o.logger.Warn("approval blocked by re-policy", zap.String("draft_id", draftID), zap.String("action", report.Action))
		d.Status = models.DraftBlocked
		d.PolicyReport = &report
		return d, fmt.Errorf("%w: %s risk %s", ErrPolicyBlocked, report.Action, report.RiskLevel)
	}

	d, err = o.store.TransitionDraft(ctx, draftID, actionableStates, models.DraftPublishing)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			telemetry.PublishConflicts.Inc()
			return d, fmt.Errorf("draft %s: %w", d.Status, publish.ErrConflict)
		}
		return d, err
	}

	return o.publishDraft(ctx, d)
}

// publishDraft runs the idempotent publish loop for a draft already holding
// the publishing status and records the terminal outcome.
func (o *Orchestrator) publishDraft(ctx context.Context, d models.Draft) (models.Draft, error) {
	ids, err := o.publisher.Publish(ctx, d.ID, d.Tweets, o.transportFor(d))
	if err != nil {
		if serr := o.store.SetDraftError(ctx, d.ID, err.Error()); serr != nil {
			o.logger.Error("publish error not recorded", zap.String("draft_id", d.ID), zap.Error(serr))
		}
		d.Status = models.DraftError
		return d, fmt.Errorf("publish: %w", err)
	}

	status := models.DraftPosted
	if o.opts.DryRun {
		status = models.DraftDryRunPosted
	}
	if err := o.store.SetDraftPublished(ctx, d.ID, status, ids); err != nil {
		return d, fmt.Errorf("record publish: %w", err)
	}
	o.logger.Info("draft published", zap.String("draft_id", d.ID), zap.String("status", status), zap.Int("tweets", len(ids)))
	d.Status = status
	d.PublishedIDs = ids
	return d, nil
}

func (o *Orchestrator) transportFor(d models.Draft) publish.Transport {
	if o.transport != nil {
		return o.transport(d)
	}
	if o.opts.DryRun {
		return &publish.DryRunTransport{DraftID: d.ID}
	}
	return publish.NewXTransport(o.opts.XAPIBaseURL, o.opts.XAPIToken)
}

// Skip consumes the token and moves the draft to skipped. Skipping an
// already-skipped draft succeeds without touching the token again.
func (o *Orchestrator) Skip(ctx context.Context, draftID, rawToken string) (models.Draft, error) {
	d, err := o.store.GetDraft(ctx, draftID)
	if err != nil {
		return models.Draft{}, err
	}
	if d.Status == models.DraftSkipped {
		return d, nil
	}

	if err := o.tokens.Consume(ctx, draftID, rawToken); err != nil {
		telemetry.TokenRejects.Inc()
		return d, err
	}

	d, err = o.store.TransitionDraft(ctx, draftID, actionableStates, models.DraftSkipped)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			if d.Status == models.DraftSkipped {
				return d, nil
			}
			return d, fmt.Errorf("%w: skip from %s", ErrInvalidState, d.Status)
		}
		return d, err
	}
	o.logger.Info("draft skipped", zap.String("draft_id", draftID))
	return d, nil
}

// Edit replaces the draft texts and re-runs only the policy checks. A PASS
// verdict promotes the draft to pending; otherwise it stays with the human.
// The prior token is superseded and the review notification is re-sent with
// the fresh one.
func (o *Orchestrator) Edit(ctx context.Context, draftID string, newTexts []string) (models.Draft, models.PolicyReport, error) {
	texts := make([]string, 0, len(newTexts))
	for _, t := range newTexts {
		if s := strings.TrimSpace(t); s != "" {
			texts = append(texts, s)
		}
	}
	if len(texts) == 0 {
		return models.Draft{}, models.PolicyReport{}, fmt.Errorf("%w: no texts", ErrValidation)
	}

	d, err := o.store.GetDraft(ctx, draftID)
	if err != nil {
		return models.Draft{}, models.PolicyReport{}, err
	}
	if !isActionable(d.Status) {
		return d, models.PolicyReport{}, fmt.Errorf("%w: edit from %s", ErrInvalidState, d.Status)
	}

	edited := editedFromDraft(d)
	if len(texts) > 1 {
		edited.Mode = "thread"
		edited.FinalTweets = texts
		edited.FinalText = ""
	} else {
		edited.Mode = "single"
		edited.FinalText = texts[0]
		edited.FinalTweets = nil
	}
	if err := o.store.UpdateDraftTexts(ctx, draftID, actionableStates, texts, edited); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return d, models.PolicyReport{}, fmt.Errorf("%w: draft changed during edit", ErrInvalidState)
		}
		return d, models.PolicyReport{}, fmt.Errorf("update texts: %w", err)
	}
	d.Tweets = texts
	d.Edited = &edited
	d.ThreadMode = edited.Mode == "thread"

	report, err := o.rePolicy(ctx, d)
	if err != nil {
		return d, models.PolicyReport{}, err
	}
	status := models.DraftNeedsHuman
	if report.Action == models.PolicyPass {
		status = models.DraftPending
	}
	if err := o.store.SetDraftPolicy(ctx, draftID, actionableStates, report, status); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// The draft moved (approved, skipped, expired) between the text
			// write and the policy write; its terminal state stands.
			return d, report, fmt.Errorf("%w: draft changed during edit", ErrInvalidState)
		}
		return d, report, fmt.Errorf("record policy: %w", err)
	}
	d.Status = status
	d.PolicyReport = &report

	o.issueAndNotify(ctx, d)
	o.logger.Info("draft edited", zap.String("draft_id", draftID), zap.String("status", status), zap.String("policy", report.Action))
	return d, report, nil
}

// Regenerate re-invokes Writer, Critic, and Policy from the stored stage
// snapshots, discarding the previous candidates. It counts against the same
// rewrite bound as the in-run loop.
func (o *Orchestrator) Regenerate(ctx context.Context, draftID string) (models.Draft, error) {
	d, err := o.store.GetDraft(ctx, draftID)
	if err != nil {
		return models.Draft{}, err
	}
	if !isActionable(d.Status) {
		return d, fmt.Errorf("%w: regenerate from %s", ErrInvalidState, d.Status)
	}

	p, err := o.pipelineFromDraft(ctx, d)
	if err != nil {
		return d, err
	}
	for _, s := range []stage.Stage{o.writer, o.critic, o.policy} {
		if err := o.recorder.Execute(ctx, d.RunID, s, p); err != nil {
			return d, fmt.Errorf("%s: %w", s.Name(), err)
		}
	}
	rewriteCount := d.RewriteCount + 1
	telemetry.RewriteLoops.Inc()

	if err := o.store.UpdateDraftGeneration(ctx, draftID, actionableStates, p.Candidates, p.Edited, rewriteCount); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return d, fmt.Errorf("%w: draft changed during regenerate", ErrInvalidState)
		}
		return d, fmt.Errorf("update generation: %w", err)
	}

	status := models.DraftNeedsHuman
	if p.Report.Action == models.PolicyPass {
		status = models.DraftPending
	} else if p.Report.Action == models.PolicyRewrite && rewriteCount > o.opts.RewriteMax {
		// The bound is spent; treat further rewrite verdicts as a hold.
		p.Report.Action = models.PolicyHold
		p.Report.RiskLevel = "HIGH"
	}
	if err := o.store.SetDraftPolicy(ctx, draftID, actionableStates, p.Report, status); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return d, fmt.Errorf("%w: draft changed during regenerate", ErrInvalidState)
		}
		return d, fmt.Errorf("record policy: %w", err)
	}

	d, err = o.store.GetDraft(ctx, draftID)
	if err != nil {
		return d, err
	}
	o.logger.Info("draft regenerated", zap.String("draft_id", draftID), zap.String("status", d.Status), zap.Int("rewrite_count", rewriteCount))
	return d, nil
}

// Resume is only valid from the error state. A draft that already has a
// passing policy report and publish attempts resumes the publish loop, which
// reuses recorded successes and retries only missing positions. Anything
// earlier re-enters the pipeline at the first stage whose snapshot is
// missing.
func (o *Orchestrator) Resume(ctx context.Context, draftID string) (models.Draft, error) {
	d, err := o.store.GetDraft(ctx, draftID)
	if err != nil {
		return models.Draft{}, err
	}
	if d.Status != models.DraftError {
		return d, fmt.Errorf("%w: resume from %s", ErrInvalidState, d.Status)
	}

	attempts, err := o.store.ListAttempts(ctx, draftID)
	if err != nil {
		return d, err
	}
	if d.PolicyReport != nil && d.PolicyReport.Action == models.PolicyPass && len(attempts) > 0 {
		missing, err := o.publisher.MissingPositions(ctx, draftID, len(d.Tweets))
		if err != nil {
			return d, err
		}
		d, err = o.store.TransitionDraft(ctx, draftID, []string{models.DraftError}, models.DraftPublishing)
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				telemetry.PublishConflicts.Inc()
				return d, fmt.Errorf("draft %s: %w", d.Status, publish.ErrConflict)
			}
			return d, err
		}
		o.logger.Info("resuming publish",
			zap.String("draft_id", draftID), zap.Int("tweets", len(d.Tweets)), zap.Ints("missing_positions", missing))
		return o.publishDraft(ctx, d)
	}

	return o.resumePipeline(ctx, d)
}

// resumePipeline re-runs every stage whose snapshot is missing, in pipeline
// order, then finishes like the tail of a normal run.
func (o *Orchestrator) resumePipeline(ctx context.Context, d models.Draft) (models.Draft, error) {
	p, err := o.pipelineFromDraft(ctx, d)
	if err != nil {
		return d, err
	}

	var remaining []stage.Stage
	switch {
	case d.Materials == nil:
		remaining = []stage.Stage{o.collector, o.curator, o.styler, o.planner}
	case d.TopicPlan == nil:
		remaining = []stage.Stage{o.curator, o.styler, o.planner}
	case d.StyleProfile == nil:
		remaining = []stage.Stage{o.styler, o.planner}
	case d.ThreadPlan == nil:
		remaining = []stage.Stage{o.planner}
	}
	for _, s := range remaining {
		if err := o.recorder.Execute(ctx, d.RunID, s, p); err != nil {
			return d, fmt.Errorf("%s: %w", s.Name(), err)
		}
	}
	for _, s := range []stage.Stage{o.writer, o.critic, o.policy} {
		if err := o.recorder.Execute(ctx, d.RunID, s, p); err != nil {
			return d, fmt.Errorf("%s: %w", s.Name(), err)
		}
	}

	errOnly := []string{models.DraftError}
	if err := o.store.UpdateDraftGeneration(ctx, d.ID, errOnly, p.Candidates, p.Edited, d.RewriteCount); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return d, fmt.Errorf("%w: draft changed during resume", ErrInvalidState)
		}
		return d, fmt.Errorf("update generation: %w", err)
	}
	status := models.DraftNeedsHuman
	if p.Report.Action == models.PolicyPass {
		status = models.DraftPending
	}
	if err := o.store.SetDraftPolicy(ctx, d.ID, errOnly, p.Report, status); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return d, fmt.Errorf("%w: draft changed during resume", ErrInvalidState)
		}
		return d, fmt.Errorf("record policy: %w", err)
	}

	d, err = o.store.GetDraft(ctx, d.ID)
	if err != nil {
		return d, err
	}
	o.issueAndNotify(ctx, d)
	o.logger.Info("draft resumed through pipeline", zap.String("draft_id", d.ID), zap.String("status", d.Status))
	return d, nil
}

// ExpireStale sweeps actionable drafts past their expiry into the expired
// state.
func (o *Orchestrator) ExpireStale(ctx context.Context) (int, error) {
	n, err := o.store.ExpireDrafts(ctx, o.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		telemetry.DraftsExpired.Add(float64(n))
		o.logger.Info("drafts expired", zap.Int("count", n))
	}
	return n, nil
}

// rePolicy evaluates the policy checks against the draft's current persisted
// texts using the stored stage snapshots.
func (o *Orchestrator) rePolicy(ctx context.Context, d models.Draft) (models.PolicyReport, error) {
	recent, err := o.recentPosts(ctx)
	if err != nil {
		return models.PolicyReport{}, fmt.Errorf("load recent posts: %w", err)
	}
	edited := editedFromDraft(d)
	materials := models.Materials{}
	if d.Materials != nil {
		materials = *d.Materials
	}
	style := stage.DefaultStyleProfile()
	if d.StyleProfile != nil {
		style = *d.StyleProfile
	}
	return o.checker.Evaluate(edited, materials, recent, style), nil
}

func (o *Orchestrator) recentPosts(ctx context.Context) ([]string, error) {
	return o.store.RecentPostTexts(ctx, o.now().Add(-o.opts.RecentPostWindow), 50)
}

func (o *Orchestrator) pipelineFromDraft(ctx context.Context, d models.Draft) (*stage.Pipeline, error) {
	recent, err := o.recentPosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("load recent posts: %w", err)
	}
	p := &stage.Pipeline{Source: "action", RecentPosts: recent}
	if d.Materials != nil {
		p.Materials = *d.Materials
	}
	if d.TopicPlan != nil {
		p.TopicPlan = *d.TopicPlan
	}
	if d.StyleProfile != nil {
		p.StyleProfile = *d.StyleProfile
	}
	if d.ThreadPlan != nil {
		p.ThreadPlan = *d.ThreadPlan
	}
	if d.Candidates != nil {
		p.Candidates = *d.Candidates
	}
	if d.Edited != nil {
		p.Edited = *d.Edited
	}
	if d.PolicyReport != nil {
		p.Report = *d.PolicyReport
	}
	return p, nil
}

// editedFromDraft rebuilds the edited payload from the draft, overriding the
// final texts with the latest persisted tweets.
func editedFromDraft(d models.Draft) models.EditedDraft {
	var edited models.EditedDraft
	if d.Edited != nil {
		edited = *d.Edited
	}
	if len(d.Tweets) > 1 {
		edited.Mode = "thread"
		edited.FinalTweets = append([]string(nil), d.Tweets...)
		edited.FinalText = ""
	} else if len(d.Tweets) == 1 {
		if edited.Mode == "" {
			edited.Mode = "single"
		}
		if edited.Mode == "thread" {
			edited.FinalTweets = append([]string(nil), d.Tweets...)
		} else {
			edited.FinalText = d.Tweets[0]
			edited.FinalTweets = nil
		}
	}
	return edited
}

func isActionable(status string) bool {
	for _, s := range actionableStates {
		if s == status {
			return true
		}
	}
	return false
}

