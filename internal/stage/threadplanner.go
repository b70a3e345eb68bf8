package stage

import (
	"context"
	"strings"

	"social-post-orchestrator/internal/models"
)

// ThreadPlanner decides single-tweet vs thread mode. A thread is used when
// threading is enabled and either the devlog asks for one ("THREAD: true") or
// the day produced at least three key points. Planning is deterministic; no
// model call is needed.
type ThreadPlanner struct {
	Enabled   bool
	MaxTweets int
	Numbering bool
}

func (t *ThreadPlanner) Name() string { return "thread_planner" }

func (t *ThreadPlanner) Run(ctx context.Context, p *Pipeline) error {
	devlog := ""
	if p.Materials.Devlog != nil {
		devlog = p.Materials.Devlog.RawSnippet
	}
	forced := strings.Contains(devlog, "THREAD: true")

	if !t.Enabled || (!forced && len(p.TopicPlan.KeyPoints) < 3) {
		p.ThreadPlan = models.ThreadPlan{
			Enabled:          false,
			TweetsCount:      1,
			NumberingEnabled: t.Numbering,
			Reason:           "single",
		}
		return nil
	}

	count := len(p.TopicPlan.KeyPoints)
	if count < 2 {
		count = 2
	}
	if count > 5 {
		count = 5
	}
	if t.MaxTweets > 0 && count > t.MaxTweets {
		count = t.MaxTweets
	}

	chunks := make([][]string, count)
	for i := 0; i < count; i++ {
		if i < len(p.TopicPlan.KeyPoints) {
			chunks[i] = []string{p.TopicPlan.KeyPoints[i]}
		}
	}
	reason := "three or more key points"
	if forced {
		reason = "devlog requested a thread"
	}
	p.ThreadPlan = models.ThreadPlan{
		Enabled:          true,
		TweetsCount:      count,
		NumberingEnabled: t.Numbering,
		Reason:           reason,
		TweetKeyPoints:   chunks,
	}
	return nil
}
