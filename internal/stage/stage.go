// Package stage defines the uniform contract every pipeline unit implements
// and the recorder that wraps each invocation with an agent execution log.
// Stages are pure with respect to orchestration: no stage invokes another.
package stage

import (
	"context"
	"errors"
	"fmt"

	"social-post-orchestrator/internal/models"
)

// ErrInput marks malformed or missing required input to a stage. It is
// terminal: the orchestrator fails the run instead of retrying.
var ErrInput = errors.New("stage input invalid")

// Pipeline carries the typed stage outputs through one run. Each stage reads
// the fields earlier stages produced and fills its own.
type Pipeline struct {
	Source      string
	RecentPosts []string

	Materials    models.Materials
	TopicPlan    models.TopicPlan
	StyleProfile models.StyleProfile
	ThreadPlan   models.ThreadPlan
	Candidates   models.DraftCandidates
	Edited       models.EditedDraft
	Report       models.PolicyReport

	// Warnings accumulate per stage and are drained into its log record.
	Warnings []string
}

// Warnf appends a bounded warning to the pipeline.
func (p *Pipeline) Warnf(format string, args ...any) {
	w := fmt.Sprintf(format, args...)
	if len(w) > 200 {
		w = w[:200]
	}
	p.Warnings = append(p.Warnings, w)
}

// Stage is one pipeline unit with a structured input/output contract.
type Stage interface {
	Name() string
	Run(ctx context.Context, p *Pipeline) error
}

// Modeler is implemented by stages that call out to a model, so the recorder
// can attribute the invocation.
type Modeler interface {
	ModelID() string
}

func inputErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInput, fmt.Sprintf(format, args...))
}
