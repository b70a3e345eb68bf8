package stage

import (
	"context"
	"encoding/json"
	"fmt"

	"social-post-orchestrator/internal/llm"
	"social-post-orchestrator/internal/models"
)

// Styler derives a writing style profile from recent posted texts. Like the
// curator it degrades to a fixed default profile when no model is available.
type Styler struct {
	LLM llm.Client
}

func (s *Styler) Name() string { return "style" }

func (s *Styler) ModelID() string {
	if s.LLM == nil {
		return ""
	}
	return s.LLM.Model()
}

func (s *Styler) Run(ctx context.Context, p *Pipeline) error {
	if s.LLM != nil {
		profile, err := s.fromModel(ctx, p)
		if err == nil {
			p.StyleProfile = profile
			return nil
		}
		p.Warnf("style: model path failed, using default profile: %v", err)
	}
	p.StyleProfile = DefaultStyleProfile()
	return nil
}

func (s *Styler) fromModel(ctx context.Context, p *Pipeline) (models.StyleProfile, error) {
	devlog := ""
	if p.Materials.Devlog != nil {
		devlog = p.Materials.Devlog.RawSnippet
	}
	postsJSON, _ := json.Marshal(capStrings(p.RecentPosts, 50))

	prompt := fmt.Sprintf(`You are learning a writer's personal style.

Inputs:
- Posted tweets (most recent first): %s
- Devlog excerpt (may be empty): %s

Output a JSON style profile:
{"preferred_openers":["..."],"forbidden_phrases":["..."],"sentence_length_preference":"short","tone_rules":["..."],"formatting_rules":["..."]}`,
		postsJSON, truncate(devlog, 2000))

	raw, err := s.LLM.Complete(ctx, prompt)
	if err != nil {
		return models.StyleProfile{}, err
	}
	var profile models.StyleProfile
	if err := decodeModelJSON(raw, &profile); err != nil {
		return models.StyleProfile{}, fmt.Errorf("decode style profile: %w", err)
	}
	return profile, nil
}

// DefaultStyleProfile is the fallback profile used when style learning is
// unavailable.
func DefaultStyleProfile() models.StyleProfile {
	return models.StyleProfile{
		PreferredOpeners: []string{"Today:", "One thing I learned:", "Quick note:"},
		ForbiddenPhrases: []string{"game changer", "revolutionary"},
		SentenceLength:   "short",
		ToneRules:        []string{"No marketing", "Prefer concrete trade-offs", "Avoid exaggeration"},
		FormattingRules:  []string{"Prefer 1-2 short lines"},
	}
}
