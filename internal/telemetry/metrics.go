package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	RunsStarted      = prometheus.NewCounter(prometheus.CounterOpts{Name: "post_runs_started_total", Help: "Pipeline runs started"})
	RunsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "post_runs_completed_total", Help: "Pipeline runs completed"})
	RunsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "post_runs_failed_total", Help: "Pipeline runs failed"})
	RewriteLoops     = prometheus.NewCounter(prometheus.CounterOpts{Name: "post_rewrite_loops_total", Help: "Writer rewrite loops taken"})
	DraftsNotified   = prometheus.NewCounter(prometheus.CounterOpts{Name: "post_drafts_notified_total", Help: "Drafts handed to the notifier"})
	DraftsPublished  = prometheus.NewCounter(prometheus.CounterOpts{Name: "post_drafts_published_total", Help: "Drafts published (live or dry run)"})
	DraftsExpired    = prometheus.NewCounter(prometheus.CounterOpts{Name: "post_drafts_expired_total", Help: "Drafts swept to expired"})
	TokenRejects     = prometheus.NewCounter(prometheus.CounterOpts{Name: "post_token_rejects_total", Help: "Human actions rejected for token reasons"})
	PublishConflicts = prometheus.NewCounter(prometheus.CounterOpts{Name: "post_publish_conflicts_total", Help: "Publish calls losing the draft-level lock"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "post_rate_limit_rejects_total", Help: "Action requests rejected by rate limiter"})

	StageLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "post_stage_duration_seconds",
		Help:    "Stage execution latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			RunsStarted,
			RunsCompleted,
			RunsFailed,
			RewriteLoops,
			DraftsNotified,
			DraftsPublished,
			DraftsExpired,
			TokenRejects,
			PublishConflicts,
			RateLimitRejects,
			StageLatency,
		)
	})
	return promhttp.Handler()
}
