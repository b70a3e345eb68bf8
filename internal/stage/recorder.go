package stage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"social-post-orchestrator/internal/models"
	"social-post-orchestrator/internal/store"
	"social-post-orchestrator/internal/telemetry"
)

const summaryLimit = 200

// Recorder wraps every stage invocation with a structured, secret-redacted
// log record. Recording is best-effort: a failure to persist the log never
// aborts the run, it only surfaces as a pipeline warning.
type Recorder struct {
	store  store.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewRecorder builds a Recorder over the given store.
func NewRecorder(st store.Store, logger *zap.Logger) *Recorder {
	return &Recorder{store: st, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock overrides the time source. Test hook.
func (r *Recorder) SetClock(now func() time.Time) { r.now = now }

// Execute runs the stage, records its agent log, and returns the stage error
// untouched so the orchestrator can classify it.
func (r *Recorder) Execute(ctx context.Context, runID string, s Stage, p *Pipeline) error {
	start := r.now()
	inputSummary := Redact(truncate(Summarize(p), summaryLimit))
	p.Warnings = nil

	runErr := s.Run(ctx, p)

	end := r.now()
	duration := end.Sub(start)
	telemetry.StageLatency.WithLabelValues(s.Name()).Observe(duration.Seconds())

	log := models.AgentLog{
		RunID:         runID,
		Stage:         s.Name(),
		StartedAt:     start,
		FinishedAt:    end,
		DurationMS:    duration.Milliseconds(),
		InputSummary:  inputSummary,
		OutputSummary: Redact(truncate(Summarize(p), summaryLimit)),
		Warnings:      append([]string(nil), p.Warnings...),
	}
	if m, ok := s.(Modeler); ok {
		if id := m.ModelID(); id != "" {
			log.Model = &id
		}
	}
	if runErr != nil {
		msg := Redact(truncate(runErr.Error(), 500))
		log.Error = &msg
	}

	if err := r.store.AppendAgentLog(ctx, log); err != nil {
		p.Warnf("agent log not recorded for %s: %v", s.Name(), err)
		r.logger.Warn("agent log append failed", zap.String("stage", s.Name()), zap.Error(err))
	}
	r.logger.Info("stage finished",
		zap.String("run_id", runID),
		zap.String("stage", s.Name()),
		zap.Duration("duration", duration),
		zap.Bool("ok", runErr == nil))
	return runErr
}

// Summarize renders a bounded, payload-free view of the pipeline state.
// Raw tweet text and raw materials never appear here.
func Summarize(p *Pipeline) string {
	var b strings.Builder
	fmt.Fprintf(&b, "commits=%d notes=%d links=%d", len(p.Materials.GitCommits), len(p.Materials.Notes), len(p.Materials.Links))
	if p.Materials.Devlog != nil {
		b.WriteString(" devlog=1")
	}
	if len(p.TopicPlan.KeyPoints) > 0 {
		fmt.Fprintf(&b, " key_points=%d bucket=%d", len(p.TopicPlan.KeyPoints), p.TopicPlan.TopicBucket)
	}
	if p.ThreadPlan.TweetsCount > 0 {
		fmt.Fprintf(&b, " thread=%t tweets=%d", p.ThreadPlan.Enabled, p.ThreadPlan.TweetsCount)
	}
	if len(p.Candidates.Candidates) > 0 {
		fmt.Fprintf(&b, " candidates=%d", len(p.Candidates.Candidates))
	}
	if p.Edited.Mode != "" {
		fmt.Fprintf(&b, " edited=%s", p.Edited.Mode)
	}
	if p.Report.Action != "" {
		fmt.Fprintf(&b, " policy=%s risk=%s", p.Report.Action, p.Report.RiskLevel)
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
