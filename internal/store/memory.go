package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"social-post-orchestrator/internal/models"
)

// Memory is an in-process Store used by tests and local dry runs. All methods
// honor the same atomicity contract as the Postgres implementation.
type Memory struct {
	mu       sync.Mutex
	runs     map[string]models.Run
	drafts   map[string]models.Draft
	tokens   map[string]models.ActionToken // keyed by hash
	attempts map[string][]models.PublishAttempt
	posts    map[string][]models.Post
	logs     map[string][]models.AgentLog
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		runs:     map[string]models.Run{},
		drafts:   map[string]models.Draft{},
		tokens:   map[string]models.ActionToken{},
		attempts: map[string][]models.PublishAttempt{},
		posts:    map[string][]models.Post{},
		logs:     map[string][]models.AgentLog{},
	}
}

func (m *Memory) CreateRun(_ context.Context, run models.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; ok {
		return nil
	}
	m.runs[run.ID] = run
	return nil
}

func (m *Memory) GetRun(_ context.Context, id string) (models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return models.Run{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) FinishRun(_ context.Context, id, status string, finishedAt time.Time, lastError *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	r.FinishedAt = &finishedAt
	r.DurationMS = finishedAt.Sub(r.CreatedAt).Milliseconds()
	r.LastError = truncPtr(lastError, 500)
	m.runs[id] = r
	return nil
}

func (m *Memory) ListRuns(_ context.Context, since time.Time, limit int) ([]models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Run, 0, len(m.runs))
	for _, r := range m.runs {
		if r.CreatedAt.Before(since) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CreateDraft(_ context.Context, d models.Draft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drafts[d.ID]; ok {
		return nil
	}
	d.UpdatedAt = d.CreatedAt
	m.drafts[d.ID] = d
	return nil
}

func (m *Memory) GetDraft(_ context.Context, id string) (models.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[id]
	if !ok {
		return models.Draft{}, ErrNotFound
	}
	return d, nil
}

func (m *Memory) GetDraftByRun(_ context.Context, runID string) (models.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.drafts {
		if d.RunID == runID {
			return d, nil
		}
	}
	return models.Draft{}, ErrNotFound
}

func (m *Memory) ListDrafts(_ context.Context, status string, since time.Time, limit int) ([]models.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Draft, 0, len(m.drafts))
	for _, d := range m.drafts {
		if d.CreatedAt.Before(since) {
			continue
		}
		if status != "" && d.Status != status {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) TransitionDraft(_ context.Context, id string, from []string, to string) (models.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[id]
	if !ok {
		return models.Draft{}, ErrNotFound
	}
	if !contains(from, d.Status) {
		return d, ErrConflict
	}
	d.Status = to
	d.UpdatedAt = time.Now().UTC()
	m.drafts[id] = d
	return d, nil
}

func (m *Memory) UpdateDraftTexts(_ context.Context, id string, from []string, tweets []string, edited models.EditedDraft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[id]
	if !ok {
		return ErrNotFound
	}
	if !contains(from, d.Status) {
		return ErrConflict
	}
	d.Tweets = append([]string(nil), tweets...)
	d.Edited = &edited
	d.UpdatedAt = time.Now().UTC()
	m.drafts[id] = d
	return nil
}

func (m *Memory) UpdateDraftGeneration(_ context.Context, id string, from []string, candidates models.DraftCandidates, edited models.EditedDraft, rewriteCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[id]
	if !ok {
		return ErrNotFound
	}
	if !contains(from, d.Status) {
		return ErrConflict
	}
	d.Candidates = &candidates
	d.Edited = &edited
	d.Tweets = edited.Texts()
	d.RewriteCount = rewriteCount
	d.UpdatedAt = time.Now().UTC()
	m.drafts[id] = d
	return nil
}

func (m *Memory) SetDraftPolicy(_ context.Context, id string, from []string, report models.PolicyReport, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[id]
	if !ok {
		return ErrNotFound
	}
	if !contains(from, d.Status) {
		return ErrConflict
	}
	d.PolicyReport = &report
	d.Status = status
	d.UpdatedAt = time.Now().UTC()
	m.drafts[id] = d
	return nil
}

func (m *Memory) SetDraftPublished(_ context.Context, id, status string, tweetIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[id]
	if !ok {
		return ErrNotFound
	}
	d.Status = status
	d.PublishedIDs = append([]string(nil), tweetIDs...)
	d.LastError = nil
	d.UpdatedAt = time.Now().UTC()
	m.drafts[id] = d
	return nil
}

func (m *Memory) SetDraftError(_ context.Context, id, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[id]
	if !ok {
		return ErrNotFound
	}
	d.Status = models.DraftError
	d.LastError = truncPtr(&msg, 500)
	d.UpdatedAt = time.Now().UTC()
	m.drafts[id] = d
	return nil
}

func (m *Memory) ExpireDrafts(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	expired := 0
	for id, d := range m.drafts {
		if !actionable(d.Status) || now.Before(d.ExpiresAt) {
			continue
		}
		d.Status = models.DraftExpired
		d.UpdatedAt = now
		m.drafts[id] = d
		expired++
	}
	return expired, nil
}

func (m *Memory) InsertToken(_ context.Context, t models.ActionToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for hash, old := range m.tokens {
		if old.DraftID == t.DraftID && old.ConsumedAt == nil {
			old.ConsumedAt = &now
			m.tokens[hash] = old
		}
	}
	m.tokens[t.Hash] = t
	return nil
}

func (m *Memory) GetTokenByHash(_ context.Context, hash string) (models.ActionToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[hash]
	if !ok {
		return models.ActionToken{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) ConsumeToken(_ context.Context, hash string, now time.Time) (bool, models.ActionToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[hash]
	if !ok {
		return false, models.ActionToken{}, ErrNotFound
	}
	if t.ConsumedAt != nil {
		return false, t, nil
	}
	t.ConsumedAt = &now
	m.tokens[hash] = t
	return true, t, nil
}

func (m *Memory) StartAttempt(_ context.Context, draftID string, position int, at time.Time) (*models.PublishAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.attempts[draftID]
	for i, a := range rows {
		if a.Position != position {
			continue
		}
		switch a.Outcome {
		case models.AttemptSuccess:
			existing := a
			return &existing, nil
		case models.AttemptPending:
			return nil, ErrConflict
		default:
			// Prior failure: reset the row so the retry is visible in audit.
			rows[i].Outcome = models.AttemptPending
			rows[i].StartedAt = at
			rows[i].EndedAt = nil
			m.attempts[draftID] = rows
			return nil, nil
		}
	}
	m.attempts[draftID] = append(rows, models.PublishAttempt{
		DraftID:   draftID,
		Position:  position,
		StartedAt: at,
		Outcome:   models.AttemptPending,
	})
	return nil, nil
}

func (m *Memory) MarkAttemptSuccess(_ context.Context, draftID string, position int, tweetID, content string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.attempts[draftID]
	for i, a := range rows {
		if a.Position != position || a.Outcome != models.AttemptPending {
			continue
		}
		rows[i].Outcome = models.AttemptSuccess
		rows[i].TweetID = &tweetID
		rows[i].LastError = nil
		rows[i].EndedAt = &at
		m.attempts[draftID] = rows
		m.posts[draftID] = append(m.posts[draftID], models.Post{
			DraftID:  draftID,
			Position: position,
			TweetID:  tweetID,
			Content:  content,
			PostedAt: at,
		})
		return nil
	}
	return ErrNotFound
}

func (m *Memory) MarkAttemptFailure(_ context.Context, draftID string, position int, errMsg string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.attempts[draftID]
	for i, a := range rows {
		if a.Position != position || a.Outcome != models.AttemptPending {
			continue
		}
		rows[i].Outcome = models.AttemptFailure
		rows[i].LastError = truncPtr(&errMsg, 500)
		rows[i].EndedAt = &at
		m.attempts[draftID] = rows
		return nil
	}
	return ErrNotFound
}

func (m *Memory) ListAttempts(_ context.Context, draftID string) ([]models.PublishAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]models.PublishAttempt(nil), m.attempts[draftID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *Memory) RecentPostTexts(_ context.Context, since time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []models.Post
	for _, rows := range m.posts {
		all = append(all, rows...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].PostedAt.After(all[j].PostedAt) })
	out := make([]string, 0, len(all))
	for _, p := range all {
		if p.PostedAt.Before(since) {
			continue
		}
		out = append(out, p.Content)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) ListPosts(_ context.Context, draftID string) ([]models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]models.Post(nil), m.posts[draftID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *Memory) AppendAgentLog(_ context.Context, log models.AgentLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[log.RunID] = append(m.logs[log.RunID], log)
	return nil
}

func (m *Memory) ListAgentLogs(_ context.Context, runID string) ([]models.AgentLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AgentLog(nil), m.logs[runID]...), nil
}

func actionable(status string) bool {
	switch status {
	case models.DraftPending, models.DraftNeedsHuman, models.DraftBlocked:
		return true
	}
	return false
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func truncPtr(s *string, n int) *string {
	if s == nil {
		return nil
	}
	v := *s
	if len(v) > n {
		v = v[:n]
	}
	return &v
}
