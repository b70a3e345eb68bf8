package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"social-post-orchestrator/internal/llm"
	"social-post-orchestrator/internal/models"
)

const tweetLimit = 280

// Critic selects and edits the best candidate into the final draft text.
// Thread numbering is always applied locally after the edit so the "(i/n)"
// suffixes stay within the character limit even when the model ignores them.
type Critic struct {
	LLM llm.Client
}

func (c *Critic) Name() string { return "critic" }

func (c *Critic) ModelID() string {
	if c.LLM == nil {
		return ""
	}
	return c.LLM.Model()
}

func (c *Critic) Run(ctx context.Context, p *Pipeline) error {
	if len(p.Candidates.Candidates) == 0 {
		return inputErr("critic: no candidates to edit")
	}

	var edited models.EditedDraft
	if c.LLM != nil {
		var err error
		edited, err = c.fromModel(ctx, p)
		if err != nil {
			p.Warnf("critic: model path failed, selecting first candidate: %v", err)
			edited = c.selectFirst(p)
		}
	} else {
		edited = c.selectFirst(p)
	}

	edited.FinalText = clip(strings.TrimSpace(edited.FinalText), tweetLimit)
	for i, t := range edited.FinalTweets {
		edited.FinalTweets[i] = clip(strings.TrimSpace(t), tweetLimit)
	}
	if edited.Mode == "thread" && p.ThreadPlan.NumberingEnabled && len(edited.FinalTweets) > 0 {
		edited.FinalTweets = addNumbering(edited.FinalTweets)
		edited.NumberingAdded = true
	}
	p.Edited = edited
	return nil
}

func (c *Critic) fromModel(ctx context.Context, p *Pipeline) (models.EditedDraft, error) {
	candsJSON, _ := json.Marshal(p.Candidates)
	forbidden, _ := json.Marshal(p.StyleProfile.ForbiddenPhrases)
	tone, _ := json.Marshal(p.StyleProfile.ToneRules)

	prompt := fmt.Sprintf(`You are a senior editor.

Candidates JSON:
%s

Context: commits=%d notes=%d thread_enabled=%t
Style: forbidden=%s tone=%s

Task:
- Pick the best candidate.
- Edit to reduce fluff, improve the first sentence, keep it grounded.
- If thread: ensure consistent flow across tweets.
- Strict char limit: each final tweet <= %d.

Return JSON only:
{"mode":"single","selected_candidate_index":0,"original":{},"final_text":"...","final_tweets":[],"numbering_added":false,"edit_notes":"..."}`,
		candsJSON, len(p.Materials.GitCommits), len(p.Materials.Notes), p.ThreadPlan.Enabled,
		forbidden, tone, tweetLimit)

	raw, err := c.LLM.Complete(ctx, prompt)
	if err != nil {
		return models.EditedDraft{}, err
	}
	var edited models.EditedDraft
	if err := decodeModelJSON(raw, &edited); err != nil {
		return models.EditedDraft{}, fmt.Errorf("decode edited draft: %w", err)
	}
	if len(edited.Texts()) == 0 {
		return models.EditedDraft{}, fmt.Errorf("edited draft has no text")
	}
	if edited.SelectedIndex >= 0 && edited.SelectedIndex < len(p.Candidates.Candidates) {
		edited.Original = p.Candidates.Candidates[edited.SelectedIndex]
	}
	return edited, nil
}

func (c *Critic) selectFirst(p *Pipeline) models.EditedDraft {
	cand := p.Candidates.Candidates[0]
	edited := models.EditedDraft{
		Mode:          cand.Mode,
		SelectedIndex: 0,
		Original:      cand,
		EditNotes:     "first candidate selected without model review",
	}
	if cand.Mode == "thread" {
		edited.FinalTweets = append([]string(nil), cand.Tweets...)
	} else {
		edited.FinalText = cand.Text
	}
	return edited
}

// addNumbering appends " (i/n)" to each tweet, trimming the body when the
// suffix would push it past the limit.
func addNumbering(tweets []string) []string {
	n := len(tweets)
	out := make([]string, 0, n)
	for i, t := range tweets {
		suffix := fmt.Sprintf(" (%d/%d)", i+1, n)
		text := strings.TrimSpace(t)
		if len(text)+len(suffix) > tweetLimit {
			text = strings.TrimRight(text[:tweetLimit-len(suffix)], " ")
		}
		out = append(out, text+suffix)
	}
	return out
}
