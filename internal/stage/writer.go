package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"social-post-orchestrator/internal/llm"
	"social-post-orchestrator/internal/models"
)

const (
	singleCandidateLimit = 260
	threadCandidateLimit = 270
)

// Writer produces draft candidates from the topic plan. The model path asks
// for three candidates; the heuristic path assembles one candidate directly
// from key points so a run still yields a reviewable draft with no model.
//
// A rewrite pass (p.Report set with REWRITE) feeds the policy findings back
// into the prompt.
type Writer struct {
	LLM llm.Client
}

func (w *Writer) Name() string { return "writer" }

func (w *Writer) ModelID() string {
	if w.LLM == nil {
		return ""
	}
	return w.LLM.Model()
}

func (w *Writer) Run(ctx context.Context, p *Pipeline) error {
	if w.LLM != nil {
		cands, err := w.fromModel(ctx, p)
		if err == nil {
			p.Candidates = cands
			return nil
		}
		p.Warnf("writer: model path failed, using heuristic candidate: %v", err)
	}
	p.Candidates = w.heuristicCandidates(p)
	return nil
}

func (w *Writer) fromModel(ctx context.Context, p *Pipeline) (models.DraftCandidates, error) {
	subjects, _ := json.Marshal(snippets(p.Materials.GitCommits, 50))
	notes, _ := json.Marshal(snippets(p.Materials.Notes, 20))
	devlog := ""
	if p.Materials.Devlog != nil {
		devlog = truncate(p.Materials.Devlog.RawSnippet, 2000)
	}
	angles, _ := json.Marshal(p.TopicPlan.Angles)
	points, _ := json.Marshal(p.TopicPlan.KeyPoints)
	openers, _ := json.Marshal(p.StyleProfile.PreferredOpeners)
	forbidden, _ := json.Marshal(p.StyleProfile.ForbiddenPhrases)
	tone, _ := json.Marshal(p.StyleProfile.ToneRules)

	var b strings.Builder
	if p.ThreadPlan.Enabled {
		chunks, _ := json.Marshal(p.ThreadPlan.TweetKeyPoints)
		fmt.Fprintf(&b, `You are a ghostwriter for an X thread (2-5 tweets).

Materials (facts only):
- git subjects: %s
- devlog: %s
- notes: %s

Thread plan: tweets_count=%d; tweet_key_points=%s
Style: openers=%s forbidden=%s tone=%s

Hard rules:
- No emojis. No hashtags. No marketing tone.
- Do not invent facts. If materials are empty, produce opinions and label them as opinion.
- Produce 3 candidate threads; each thread is a list of %d tweets.
- Each tweet must be <= %d characters.

Return JSON only:
{"candidates":[{"mode":"thread","tweets":["..."]},{"mode":"thread","tweets":["..."]},{"mode":"thread","tweets":["..."]}]}`,
			subjects, devlog, notes, p.ThreadPlan.TweetsCount, chunks, openers, forbidden, tone,
			p.ThreadPlan.TweetsCount, threadCandidateLimit)
	} else {
		fmt.Fprintf(&b, `You are a ghostwriter for a senior engineer building in public.

Materials (facts only):
- git subjects: %s
- devlog: %s
- notes: %s

Topic angles: %s
Key points: %s
Style: openers=%s forbidden=%s tone=%s

Hard rules:
- No emojis. No hashtags. No marketing tone.
- Do not invent facts. If materials are empty, produce a reflection labeled as opinion.
- Each candidate must be <= %d characters.

Return JSON only:
{"candidates":[{"mode":"single","text":"..."},{"mode":"single","text":"..."},{"mode":"single","text":"..."}]}`,
			subjects, devlog, notes, angles, points, openers, forbidden, tone, singleCandidateLimit)
	}
	if p.Report.Action == models.PolicyRewrite {
		findings, _ := json.Marshal(failedChecks(p.Report))
		fmt.Fprintf(&b, "\n\nThe previous attempt failed review. Fix these findings: %s", findings)
	}

	raw, err := w.LLM.Complete(ctx, b.String())
	if err != nil {
		return models.DraftCandidates{}, err
	}
	var cands models.DraftCandidates
	if err := decodeModelJSON(raw, &cands); err != nil {
		return models.DraftCandidates{}, fmt.Errorf("decode candidates: %w", err)
	}
	if len(cands.Candidates) == 0 {
		return models.DraftCandidates{}, fmt.Errorf("model returned no candidates")
	}
	return cands, nil
}

// heuristicCandidates builds a single grounded candidate: opener plus the
// leading key points, clipped to the candidate limit.
func (w *Writer) heuristicCandidates(p *Pipeline) models.DraftCandidates {
	opener := "Today:"
	if len(p.StyleProfile.PreferredOpeners) > 0 {
		opener = p.StyleProfile.PreferredOpeners[0]
	}

	if p.ThreadPlan.Enabled {
		tweets := make([]string, 0, p.ThreadPlan.TweetsCount)
		for i, chunk := range p.ThreadPlan.TweetKeyPoints {
			text := strings.Join(chunk, " ")
			if i == 0 {
				text = opener + " " + text
			}
			tweets = append(tweets, clip(strings.TrimSpace(text), threadCandidateLimit))
		}
		return models.DraftCandidates{Candidates: []models.DraftCandidate{
			{Mode: "thread", Tweets: tweets},
		}}
	}

	text := opener
	for _, kp := range p.TopicPlan.KeyPoints {
		next := text + " " + kp + "."
		if len(next) > singleCandidateLimit {
			break
		}
		text = next
	}
	if text == opener {
		text = opener + " a small, honest reflection beats a vague claim (opinion)."
	}
	return models.DraftCandidates{Candidates: []models.DraftCandidate{
		{Mode: "single", Text: clip(text, singleCandidateLimit)},
	}}
}

func failedChecks(r models.PolicyReport) []string {
	var out []string
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c.CheckName+": "+c.Details)
		}
	}
	return out
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimRight(s[:n], " ")
}
