package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"social-post-orchestrator/internal/config"
	"social-post-orchestrator/internal/llm"
	"social-post-orchestrator/internal/notify"
	"social-post-orchestrator/internal/orchestrator"
	"social-post-orchestrator/internal/policy"
	"social-post-orchestrator/internal/publish"
	"social-post-orchestrator/internal/queue"
	"social-post-orchestrator/internal/retry"
	"social-post-orchestrator/internal/scheduler"
	"social-post-orchestrator/internal/stage"
	"social-post-orchestrator/internal/store"
	"social-post-orchestrator/internal/telemetry"
	"social-post-orchestrator/internal/token"
	"social-post-orchestrator/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.Env)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer st.Close()
	if err := st.RunMigrations(ctx); err != nil {
		logger.Fatal("migrations", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	triggers := queue.NewTriggerQueue(redisClient, cfg.TriggerVisibility)
	lease := queue.NewLeaderLease(redisClient, "worker-"+uuid.NewString(), cfg.LeaderLeaseTTL)

	orch := buildOrchestrator(cfg, st, logger)

	sched := scheduler.New(triggers, lease, orch, logger)
	if err := sched.Start(ctx, cfg.RunCron, cfg.ExpireCron); err != nil {
		logger.Fatal("scheduler", zap.Error(err))
	}
	defer sched.Stop(context.Background())

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics listener", zap.Error(err))
		}
	}()

	logger.Info("worker started", zap.String("run_cron", cfg.RunCron))
	w := worker.New(triggers, orch, logger, cfg.WorkerPollInterval)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("worker", zap.Error(err))
	}
}

// buildOrchestrator wires the state machine and its stage dependencies from
// config. Shared verbatim with the api binary.
func buildOrchestrator(cfg config.Config, st store.Store, logger *zap.Logger) *orchestrator.Orchestrator {
	blocked, err := policy.LoadBlockedTerms(cfg.BlockedTermsPath, cfg.BlockedTermsExtra)
	if err != nil {
		logger.Fatal("load blocked terms", zap.Error(err))
	}
	checker := policy.NewChecker(blocked, cfg.SimilarityThreshold)

	retryPolicy := retry.Policy{
		MaxRetries:     cfg.RetryMax,
		BackoffInitial: cfg.BackoffInitial,
		BackoffMax:     cfg.BackoffMax,
	}

	var client llm.Client
	if cfg.LLMBaseURL != "" {
		client = llm.NewHTTPClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMTimeout)
	}

	var notifier notify.Notifier
	if cfg.SMTPAddr != "" && cfg.NotifyEmail != "" {
		notifier = notify.NewEmailNotifier(cfg.SMTPAddr, cfg.SMTPFrom, cfg.NotifyEmail, cfg.ConsoleBaseURL, retryPolicy)
	} else {
		notifier = &notify.LogNotifier{Logger: logger}
	}

	return orchestrator.New(
		st,
		token.NewManager(st, cfg.TokenTTL),
		stage.NewRecorder(st, logger),
		checker,
		publish.NewPublisher(st, logger, retryPolicy),
		notifier,
		client,
		logger,
		orchestrator.Options{
			DryRun:           cfg.DryRun,
			RewriteMax:       cfg.RewriteMax,
			DraftTTL:         cfg.TokenTTL,
			RecentPostWindow: cfg.RecentPostWindow,
			ThreadEnabled:    cfg.ThreadEnabled,
			ThreadMaxTweets:  cfg.ThreadMaxTweets,
			ThreadNumbering:  cfg.ThreadNumbering,
			GitRepoPath:      cfg.GitRepoPath,
			DevlogPath:       cfg.DevlogPath,
			NotesDir:         cfg.NotesDir,
			XAPIBaseURL:      cfg.XAPIBaseURL,
			XAPIToken:        cfg.XAPIToken,
		},
	)
}

func newLogger(env string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if env == "dev" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	return logger
}
