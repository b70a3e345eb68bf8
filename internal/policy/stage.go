package policy

import (
	"context"

	"social-post-orchestrator/internal/stage"
)

// Stage adapts the Checker to the pipeline stage contract so its runs are
// recorded in the agent log like every other stage.
type Stage struct {
	Checker *Checker
}

func (s *Stage) Name() string { return "policy" }

func (s *Stage) Run(ctx context.Context, p *stage.Pipeline) error {
	p.Report = s.Checker.Evaluate(p.Edited, p.Materials, p.RecentPosts, p.StyleProfile)
	return nil
}
