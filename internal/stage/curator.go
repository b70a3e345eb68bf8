package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"social-post-orchestrator/internal/llm"
	"social-post-orchestrator/internal/models"
)

// Curator distills materials into a topic plan: bucket, angles, key points,
// and the evidence each key point leans on. With no model configured, or when
// the model call fails, it falls back to a deterministic plan built straight
// from the material snippets.
type Curator struct {
	LLM llm.Client
}

func (c *Curator) Name() string { return "curator" }

func (c *Curator) ModelID() string {
	if c.LLM == nil {
		return ""
	}
	return c.LLM.Model()
}

func (c *Curator) Run(ctx context.Context, p *Pipeline) error {
	if c.LLM != nil {
		plan, err := c.fromModel(ctx, p)
		if err == nil {
			p.TopicPlan = plan
			return nil
		}
		p.Warnf("curator: model path failed, using heuristic plan: %v", err)
	}
	p.TopicPlan = c.heuristicPlan(p.Materials)
	return nil
}

func (c *Curator) fromModel(ctx context.Context, p *Pipeline) (models.TopicPlan, error) {
	subjects := snippets(p.Materials.GitCommits, 50)
	notes := snippets(p.Materials.Notes, 20)
	devlog := ""
	if p.Materials.Devlog != nil {
		devlog = p.Materials.Devlog.RawSnippet
	}
	subjJSON, _ := json.Marshal(subjects)
	notesJSON, _ := json.Marshal(notes)
	recentJSON, _ := json.Marshal(capStrings(p.RecentPosts, 50))

	prompt := fmt.Sprintf(`You are a content strategist for a developer building in public.

Materials (last 24h):
- Git commit subjects: %s
- Devlog excerpt: %s
- Notes: %s

Recent posted texts (avoid repeating):
%s

Choose a topic plan for today. If materials are empty, choose a reflection and
clearly label it as an opinion. Produce 2-3 possible angles.

Output JSON only:
{"topic_bucket":1,"angles":["..."],"key_points":["..."],"evidence_map":{"<key_point>":[{"source_name":"git","source_id":"...","quote":"..."}]}}`,
		subjJSON, truncate(devlog, 2000), notesJSON, recentJSON)

	raw, err := c.LLM.Complete(ctx, prompt)
	if err != nil {
		return models.TopicPlan{}, err
	}
	var plan models.TopicPlan
	if err := decodeModelJSON(raw, &plan); err != nil {
		return models.TopicPlan{}, fmt.Errorf("decode topic plan: %w", err)
	}
	if len(plan.KeyPoints) == 0 {
		return models.TopicPlan{}, fmt.Errorf("topic plan has no key points")
	}
	return plan, nil
}

// heuristicPlan builds a plan from material snippets directly: commit
// subjects become key points, each grounded on its own snippet. Empty
// materials produce a labeled reflection.
func (c *Curator) heuristicPlan(m models.Materials) models.TopicPlan {
	evidence := m.Evidence()
	if len(evidence) == 0 {
		return models.TopicPlan{
			TopicBucket: 3,
			Angles:      []string{"A small reflection from today"},
			KeyPoints:   []string{"Opinion: a small, honest reflection beats a vague claim"},
		}
	}
	plan := models.TopicPlan{
		TopicBucket: 1,
		Angles:      []string{"What shipped today", "One concrete detail worth sharing"},
		EvidenceMap: map[string][]models.EvidenceRef{},
	}
	for _, item := range evidence {
		point := firstLine(item.RawSnippet)
		if point == "" {
			continue
		}
		plan.KeyPoints = append(plan.KeyPoints, point)
		plan.EvidenceMap[point] = []models.EvidenceRef{{
			SourceName: item.SourceName,
			SourceID:   item.SourceID,
			Quote:      truncate(item.RawSnippet, 200),
		}}
		if len(plan.KeyPoints) >= 6 {
			break
		}
	}
	return plan
}

func snippets(items []models.EvidenceItem, limit int) []string {
	out := make([]string, 0, limit)
	for _, it := range items {
		out = append(out, truncate(it.RawSnippet, 300))
		if len(out) >= limit {
			break
		}
	}
	return out
}

func capStrings(in []string, limit int) []string {
	if len(in) > limit {
		return in[:limit]
	}
	return in
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return truncate(strings.TrimSpace(s), 140)
}
