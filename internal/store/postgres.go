package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"social-post-orchestrator/internal/models"
)

// Postgres is the durable Store backed by pgxpool. Draft rows keep hot columns
// (status, expiry) relational and the full record as jsonb, so check-and-set
// transitions stay single-statement while snapshots stay schemaless.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Postgres) CreateRun(ctx context.Context, run models.Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO runs (id, source, status, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, run.ID, run.Source, run.Status, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *Postgres) GetRun(ctx context.Context, id string) (models.Run, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, source, status, created_at, finished_at, duration_ms, last_error
		FROM runs WHERE id = $1
	`, id)
	return scanRun(row)
}

func (s *Postgres) FinishRun(ctx context.Context, id, status string, finishedAt time.Time, lastError *string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE runs
		SET status = $2, finished_at = $3,
		    duration_ms = (EXTRACT(EPOCH FROM ($3 - created_at)) * 1000)::bigint,
		    last_error = left($4, 500)
		WHERE id = $1
	`, id, status, finishedAt, lastError)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) ListRuns(ctx context.Context, since time.Time, limit int) ([]models.Run, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source, status, created_at, finished_at, duration_ms, last_error
		FROM runs WHERE created_at >= $1
		ORDER BY created_at DESC LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []models.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Postgres) CreateDraft(ctx context.Context, d models.Draft) error {
	d.UpdatedAt = d.CreatedAt
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO drafts (id, run_id, status, created_at, expires_at, updated_at, payload)
		VALUES ($1, $2, $3, $4, $5, $4, $6)
		ON CONFLICT (id) DO NOTHING
	`, d.ID, d.RunID, d.Status, d.CreatedAt, d.ExpiresAt, payload)
	if err != nil {
		return fmt.Errorf("insert draft: %w", err)
	}
	return nil
}

func (s *Postgres) GetDraft(ctx context.Context, id string) (models.Draft, error) {
	return s.getDraftWhere(ctx, `id = $1`, id)
}

func (s *Postgres) GetDraftByRun(ctx context.Context, runID string) (models.Draft, error) {
	return s.getDraftWhere(ctx, `run_id = $1`, runID)
}

func (s *Postgres) getDraftWhere(ctx context.Context, where string, arg any) (models.Draft, error) {
	var raw []byte
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT payload, status FROM drafts WHERE `+where, arg).Scan(&raw, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Draft{}, ErrNotFound
	}
	if err != nil {
		return models.Draft{}, fmt.Errorf("query draft: %w", err)
	}
	return decodeDraft(raw, status)
}

func (s *Postgres) ListDrafts(ctx context.Context, status string, since time.Time, limit int) ([]models.Draft, error) {
	q := `SELECT payload, status FROM drafts WHERE created_at >= $1`
	args := []any{since}
	if status != "" {
		q += ` AND status = $2`
		args = append(args, status)
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()
	var out []models.Draft
	for rows.Next() {
		var raw []byte
		var st string
		if err := rows.Scan(&raw, &st); err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		d, err := decodeDraft(raw, st)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Postgres) TransitionDraft(ctx context.Context, id string, from []string, to string) (models.Draft, error) {
	var d models.Draft
	err := s.withDraftTx(ctx, id, func(tx pgx.Tx, cur *models.Draft) error {
		d = *cur
		if !contains(from, cur.Status) {
			return ErrConflict
		}
		cur.Status = to
		d = *cur
		return nil
	})
	return d, err
}

func (s *Postgres) UpdateDraftTexts(ctx context.Context, id string, from []string, tweets []string, edited models.EditedDraft) error {
	return s.withDraftTx(ctx, id, func(_ pgx.Tx, cur *models.Draft) error {
		if !contains(from, cur.Status) {
			return ErrConflict
		}
		cur.Tweets = append([]string(nil), tweets...)
		cur.Edited = &edited
		return nil
	})
}

func (s *Postgres) UpdateDraftGeneration(ctx context.Context, id string, from []string, candidates models.DraftCandidates, edited models.EditedDraft, rewriteCount int) error {
	return s.withDraftTx(ctx, id, func(_ pgx.Tx, cur *models.Draft) error {
		if !contains(from, cur.Status) {
			return ErrConflict
		}
		cur.Candidates = &candidates
		cur.Edited = &edited
		cur.Tweets = edited.Texts()
		cur.RewriteCount = rewriteCount
		return nil
	})
}

func (s *Postgres) SetDraftPolicy(ctx context.Context, id string, from []string, report models.PolicyReport, status string) error {
	return s.withDraftTx(ctx, id, func(_ pgx.Tx, cur *models.Draft) error {
		if !contains(from, cur.Status) {
			return ErrConflict
		}
		cur.PolicyReport = &report
		cur.Status = status
		return nil
	})
}

func (s *Postgres) SetDraftPublished(ctx context.Context, id, status string, tweetIDs []string) error {
	return s.withDraftTx(ctx, id, func(_ pgx.Tx, cur *models.Draft) error {
		cur.Status = status
		cur.PublishedIDs = append([]string(nil), tweetIDs...)
		cur.LastError = nil
		return nil
	})
}

func (s *Postgres) SetDraftError(ctx context.Context, id, msg string) error {
	return s.withDraftTx(ctx, id, func(_ pgx.Tx, cur *models.Draft) error {
		cur.Status = models.DraftError
		if len(msg) > 500 {
			msg = msg[:500]
		}
		cur.LastError = &msg
		return nil
	})
}

func (s *Postgres) ExpireDrafts(ctx context.Context, now time.Time) (int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM drafts
		WHERE status = ANY($1) AND expires_at <= $2
	`, []string{models.DraftPending, models.DraftNeedsHuman, models.DraftBlocked}, now)
	if err != nil {
		return 0, fmt.Errorf("select stale drafts: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan stale draft: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	expired := 0
	for _, id := range ids {
		err := s.withDraftTx(ctx, id, func(_ pgx.Tx, cur *models.Draft) error {
			if !actionable(cur.Status) || now.Before(cur.ExpiresAt) {
				return ErrConflict
			}
			cur.Status = models.DraftExpired
			return nil
		})
		if err == nil {
			expired++
		} else if !errors.Is(err, ErrConflict) {
			return expired, err
		}
	}
	return expired, nil
}

// withDraftTx loads the draft row under FOR UPDATE, applies fn, and writes the
// mutated payload back, keeping status/payload consistent in one transaction.
func (s *Postgres) withDraftTx(ctx context.Context, id string, fn func(tx pgx.Tx, cur *models.Draft) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	var raw []byte
	var status string
	err = tx.QueryRow(ctx, `SELECT payload, status FROM drafts WHERE id = $1 FOR UPDATE`, id).Scan(&raw, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock draft: %w", err)
	}
	d, err := decodeDraft(raw, status)
	if err != nil {
		return err
	}
	if err := fn(tx, &d); err != nil {
		return err
	}
	d.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE drafts SET status = $2, payload = $3, updated_at = $4 WHERE id = $1
	`, id, d.Status, payload, d.UpdatedAt); err != nil {
		return fmt.Errorf("update draft: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Postgres) InsertToken(ctx context.Context, t models.ActionToken) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// At most one active token per draft: retire the predecessor first.
	if _, err := tx.Exec(ctx, `
		UPDATE action_tokens SET consumed_at = NOW()
		WHERE draft_id = $1 AND consumed_at IS NULL
	`, t.DraftID); err != nil {
		return fmt.Errorf("retire prior token: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO action_tokens (id, draft_id, token_hash, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, t.ID, t.DraftID, t.Hash, t.IssuedAt, t.ExpiresAt); err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Postgres) GetTokenByHash(ctx context.Context, hash string) (models.ActionToken, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, draft_id, token_hash, issued_at, expires_at, consumed_at
		FROM action_tokens WHERE token_hash = $1
	`, hash)
	return scanToken(row)
}

func (s *Postgres) ConsumeToken(ctx context.Context, hash string, now time.Time) (bool, models.ActionToken, error) {
	// Single guarded UPDATE: concurrent consumers race on rows-affected and
	// exactly one wins.
	tag, err := s.pool.Exec(ctx, `
		UPDATE action_tokens SET consumed_at = $2
		WHERE token_hash = $1 AND consumed_at IS NULL
	`, hash, now)
	if err != nil {
		return false, models.ActionToken{}, fmt.Errorf("consume token: %w", err)
	}
	t, err := s.GetTokenByHash(ctx, hash)
	if err != nil {
		return false, models.ActionToken{}, err
	}
	return tag.RowsAffected() == 1, t, nil
}

func (s *Postgres) StartAttempt(ctx context.Context, draftID string, position int, at time.Time) (*models.PublishAttempt, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO publish_attempts (draft_id, position, started_at, outcome)
		VALUES ($1, $2, $3, $4)
	`, draftID, position, at, models.AttemptPending)
	if err == nil {
		return nil, nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return nil, fmt.Errorf("insert attempt: %w", err)
	}

	// Row exists: reuse a success, reject a pending in flight, reset a failure.
	existing, err := s.getAttempt(ctx, draftID, position)
	if err != nil {
		return nil, err
	}
	switch existing.Outcome {
	case models.AttemptSuccess:
		return &existing, nil
	case models.AttemptPending:
		return nil, ErrConflict
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE publish_attempts
		SET outcome = $3, started_at = $4, ended_at = NULL
		WHERE draft_id = $1 AND position = $2 AND outcome = $5
	`, draftID, position, models.AttemptPending, at, models.AttemptFailure)
	if err != nil {
		return nil, fmt.Errorf("reset attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Lost a race with another resumer.
		return nil, ErrConflict
	}
	return nil, nil
}

func (s *Postgres) MarkAttemptSuccess(ctx context.Context, draftID string, position int, tweetID, content string, at time.Time) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE publish_attempts
		SET outcome = $3, tweet_id = $4, last_error = NULL, ended_at = $5
		WHERE draft_id = $1 AND position = $2 AND outcome = $6
	`, draftID, position, models.AttemptSuccess, tweetID, at, models.AttemptPending)
	if err != nil {
		return fmt.Errorf("mark attempt success: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO posts (draft_id, position, tweet_id, content, posted_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (draft_id, position) DO NOTHING
	`, draftID, position, tweetID, content, at); err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Postgres) MarkAttemptFailure(ctx context.Context, draftID string, position int, errMsg string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE publish_attempts
		SET outcome = $3, last_error = left($4, 500), ended_at = $5
		WHERE draft_id = $1 AND position = $2 AND outcome = $6
	`, draftID, position, models.AttemptFailure, errMsg, at, models.AttemptPending)
	if err != nil {
		return fmt.Errorf("mark attempt failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) getAttempt(ctx context.Context, draftID string, position int) (models.PublishAttempt, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT draft_id, position, started_at, outcome, tweet_id, last_error, ended_at
		FROM publish_attempts WHERE draft_id = $1 AND position = $2
	`, draftID, position)
	return scanAttempt(row)
}

func (s *Postgres) ListAttempts(ctx context.Context, draftID string) ([]models.PublishAttempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT draft_id, position, started_at, outcome, tweet_id, last_error, ended_at
		FROM publish_attempts WHERE draft_id = $1 ORDER BY position ASC
	`, draftID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()
	var out []models.PublishAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Postgres) RecentPostTexts(ctx context.Context, since time.Time, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT content FROM posts WHERE posted_at >= $1
		ORDER BY posted_at DESC LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("recent posts: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Postgres) ListPosts(ctx context.Context, draftID string) ([]models.Post, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT draft_id, position, tweet_id, content, posted_at
		FROM posts WHERE draft_id = $1 ORDER BY position ASC
	`, draftID)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()
	var out []models.Post
	for rows.Next() {
		var p models.Post
		if err := rows.Scan(&p.DraftID, &p.Position, &p.TweetID, &p.Content, &p.PostedAt); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Postgres) AppendAgentLog(ctx context.Context, log models.AgentLog) error {
	warnings, err := json.Marshal(log.Warnings)
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO agent_logs (run_id, stage, started_at, finished_at, duration_ms,
			input_summary, output_summary, model, error, warnings)
		VALUES ($1, $2, $3, $4, $5, left($6, 200), left($7, 200), $8, left($9, 500), $10)
	`, log.RunID, log.Stage, log.StartedAt, log.FinishedAt, log.DurationMS,
		log.InputSummary, log.OutputSummary, log.Model, log.Error, warnings)
	if err != nil {
		return fmt.Errorf("insert agent log: %w", err)
	}
	return nil
}

func (s *Postgres) ListAgentLogs(ctx context.Context, runID string) ([]models.AgentLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, stage, started_at, finished_at, duration_ms,
			input_summary, output_summary, model, error, warnings
		FROM agent_logs WHERE run_id = $1 ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list agent logs: %w", err)
	}
	defer rows.Close()
	var out []models.AgentLog
	for rows.Next() {
		var l models.AgentLog
		var model, errText pgtype.Text
		var warnings []byte
		if err := rows.Scan(&l.RunID, &l.Stage, &l.StartedAt, &l.FinishedAt, &l.DurationMS,
			&l.InputSummary, &l.OutputSummary, &model, &errText, &warnings); err != nil {
			return nil, fmt.Errorf("scan agent log: %w", err)
		}
		l.Model = textPtr(model)
		l.Error = textPtr(errText)
		if len(warnings) > 0 {
			if err := json.Unmarshal(warnings, &l.Warnings); err != nil {
				return nil, fmt.Errorf("unmarshal warnings: %w", err)
			}
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func decodeDraft(raw []byte, status string) (models.Draft, error) {
	var d models.Draft
	if err := json.Unmarshal(raw, &d); err != nil {
		return models.Draft{}, fmt.Errorf("%w: draft payload: %v", ErrSchema, err)
	}
	// The status column is authoritative; a divergent payload means a partial
	// write slipped past the transaction discipline.
	d.Status = status
	if err := checkDraftInvariants(d); err != nil {
		return models.Draft{}, err
	}
	return d, nil
}

// checkDraftInvariants enforces the status/published-ids consistency rule.
func checkDraftInvariants(d models.Draft) error {
	switch d.Status {
	case models.DraftPosted, models.DraftDryRunPosted:
		if len(d.PublishedIDs) == 0 {
			return fmt.Errorf("%w: draft %s is %s without published ids", ErrSchema, d.ID, d.Status)
		}
	case models.DraftPending, models.DraftNeedsHuman, models.DraftBlocked, models.DraftSkipped, models.DraftExpired:
		if len(d.PublishedIDs) != 0 {
			return fmt.Errorf("%w: draft %s is %s but carries published ids", ErrSchema, d.ID, d.Status)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (models.Run, error) {
	var r models.Run
	var finished pgtype.Timestamptz
	var duration pgtype.Int8
	var lastErr pgtype.Text
	err := row.Scan(&r.ID, &r.Source, &r.Status, &r.CreatedAt, &finished, &duration, &lastErr)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Run{}, ErrNotFound
	}
	if err != nil {
		return models.Run{}, fmt.Errorf("scan run: %w", err)
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	if duration.Valid {
		r.DurationMS = duration.Int64
	}
	r.LastError = textPtr(lastErr)
	return r, nil
}

func scanToken(row rowScanner) (models.ActionToken, error) {
	var t models.ActionToken
	var consumed pgtype.Timestamptz
	err := row.Scan(&t.ID, &t.DraftID, &t.Hash, &t.IssuedAt, &t.ExpiresAt, &consumed)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ActionToken{}, ErrNotFound
	}
	if err != nil {
		return models.ActionToken{}, fmt.Errorf("scan token: %w", err)
	}
	if consumed.Valid {
		ts := consumed.Time
		t.ConsumedAt = &ts
	}
	return t, nil
}

func scanAttempt(row rowScanner) (models.PublishAttempt, error) {
	var a models.PublishAttempt
	var tweetID, lastErr pgtype.Text
	var ended pgtype.Timestamptz
	err := row.Scan(&a.DraftID, &a.Position, &a.StartedAt, &a.Outcome, &tweetID, &lastErr, &ended)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.PublishAttempt{}, ErrNotFound
	}
	if err != nil {
		return models.PublishAttempt{}, fmt.Errorf("scan attempt: %w", err)
	}
	a.TweetID = textPtr(tweetID)
	a.LastError = textPtr(lastErr)
	if ended.Valid {
		ts := ended.Time
		a.EndedAt = &ts
	}
	return a, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
