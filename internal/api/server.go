// Package api exposes the console endpoints: run triggering, draft reads,
// and the human action entry points. Reads never include token material;
// actions are rate limited per client.
package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"social-post-orchestrator/internal/config"
	"social-post-orchestrator/internal/models"
	"social-post-orchestrator/internal/orchestrator"
	"social-post-orchestrator/internal/publish"
	"social-post-orchestrator/internal/queue"
	"social-post-orchestrator/internal/ratelimit"
	"social-post-orchestrator/internal/store"
	"social-post-orchestrator/internal/telemetry"
	"social-post-orchestrator/internal/token"
)

// Server wires the HTTP handlers for the console API.
type Server struct {
	cfg     config.Config
	store   store.Store
	orch    *orchestrator.Orchestrator
	queue   *queue.TriggerQueue
	limiter *ratelimit.ActionLimiter
	logger  *zap.Logger
}

// New constructs the API server. queue and limiter may be nil in tests; runs
// then start inline and actions are unthrottled.
func New(cfg config.Config, st store.Store, orch *orchestrator.Orchestrator, q *queue.TriggerQueue, limiter *ratelimit.ActionLimiter, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, store: st, orch: orch, queue: q, limiter: limiter, logger: logger}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/runs", s.handleStartRun)
	r.Get("/runs/{id}", s.handleGetRun)

	r.Get("/drafts", s.handleListDrafts)
	r.Get("/drafts/{id}", s.handleGetDraft)

	r.Post("/drafts/{id}/approve", s.limited("approve", s.handleApprove))
	r.Get("/drafts/{id}/approve", s.limited("approve", s.handleApprove))
	r.Post("/drafts/{id}/skip", s.limited("skip", s.handleSkip))
	r.Get("/drafts/{id}/skip", s.limited("skip", s.handleSkip))
	r.Post("/drafts/{id}/edit", s.limited("edit", s.handleEdit))
	r.Post("/drafts/{id}/regenerate", s.limited("regenerate", s.handleRegenerate))
	r.Post("/drafts/{id}/resume", s.limited("resume", s.handleResume))

	return r
}

// limited throttles an action handler per (action, client IP).
func (s *Server) limited(action string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil {
			allowed, _, err := s.limiter.Allow(r.Context(), action, clientIP(r))
			if err != nil {
				s.logger.Error("rate limiter unavailable", zap.Error(err))
				writeError(w, http.StatusServiceUnavailable, "rate limiter unavailable")
				return
			}
			if !allowed {
				telemetry.RateLimitRejects.Inc()
				writeError(w, http.StatusTooManyRequests, "rate limited")
				return
			}
		}
		next(w, r)
	}
}

type startRunResponse struct {
	TriggerID string `json:"trigger_id,omitempty"`
	RunID     string `json:"run_id,omitempty"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	if s.queue != nil {
		id, err := s.queue.Enqueue(r.Context(), "manual")
		if err != nil {
			s.logger.Error("trigger enqueue failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "enqueue failed")
			return
		}
		writeJSON(w, http.StatusAccepted, startRunResponse{TriggerID: id})
		return
	}
	runID, err := s.orch.StartRun(r.Context(), "manual")
	if err != nil {
		// The run record itself carries the failure detail.
		writeJSON(w, http.StatusOK, startRunResponse{RunID: runID})
		return
	}
	writeJSON(w, http.StatusCreated, startRunResponse{RunID: runID})
}

type runDetail struct {
	Run  models.Run        `json:"run"`
	Logs []models.AgentLog `json:"agent_logs"`
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	logs, err := s.store.ListAgentLogs(r.Context(), id)
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runDetail{Run: run, Logs: logs})
}

func (s *Server) handleListDrafts(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	since := time.Time{}
	if v := r.URL.Query().Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			since = t
		}
	}
	drafts, err := s.store.ListDrafts(r.Context(), status, since, limit)
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drafts": drafts})
}

type draftDetail struct {
	Draft    models.Draft            `json:"draft"`
	Attempts []models.PublishAttempt `json:"publish_attempts"`
}

func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := s.store.GetDraft(r.Context(), id)
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	attempts, err := s.store.ListAttempts(r.Context(), id)
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draftDetail{Draft: d, Attempts: attempts})
}

type actionResponse struct {
	Status  string   `json:"status"`
	Message string   `json:"message,omitempty"`
	Tweets  []string `json:"published_ids,omitempty"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := s.orch.Approve(r.Context(), id, actionToken(r))
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Status: d.Status, Message: "published", Tweets: d.PublishedIDs})
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := s.orch.Skip(r.Context(), id, actionToken(r))
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Status: d.Status, Message: "skipped"})
}

type editRequest struct {
	Texts []string `json:"texts"`
}

type editResponse struct {
	Status       string              `json:"status"`
	PolicyReport models.PolicyReport `json:"policy_report"`
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	d, report, err := s.orch.Edit(r.Context(), id, req.Texts)
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, editResponse{Status: d.Status, PolicyReport: report})
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := s.orch.Regenerate(r.Context(), id)
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, draftDetail{Draft: d})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := s.orch.Resume(r.Context(), id)
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Status: d.Status, Message: "resumed", Tweets: d.PublishedIDs})
}

// actionToken pulls the presented raw token from the query string or, for a
// JSON POST body, the "token" field. It is passed through to the token
// manager and never logged.
func actionToken(r *http.Request) string {
	if v := r.URL.Query().Get("token"); v != "" {
		return v
	}
	var body struct {
		Token string `json:"token"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	return body.Token
}

// writeActionError maps domain errors onto the console's status contract.
func (s *Server) writeActionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, token.ErrNotFound):
		writeError(w, http.StatusNotFound, "token not found")
	case errors.Is(err, token.ErrExpired):
		writeError(w, http.StatusGone, "token expired")
	case errors.Is(err, token.ErrConsumed):
		writeError(w, http.StatusConflict, "token already consumed")
	case errors.Is(err, publish.ErrConflict):
		writeError(w, http.StatusConflict, "publish already in progress or completed")
	case errors.Is(err, orchestrator.ErrPolicyBlocked):
		writeError(w, http.StatusForbidden, "policy check failed")
	case errors.Is(err, orchestrator.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, orchestrator.ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		s.logger.Error("action failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
