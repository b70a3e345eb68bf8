package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"social-post-orchestrator/internal/api"
	"social-post-orchestrator/internal/config"
	"social-post-orchestrator/internal/llm"
	"social-post-orchestrator/internal/notify"
	"social-post-orchestrator/internal/orchestrator"
	"social-post-orchestrator/internal/policy"
	"social-post-orchestrator/internal/publish"
	"social-post-orchestrator/internal/queue"
	"social-post-orchestrator/internal/ratelimit"
	"social-post-orchestrator/internal/retry"
	"social-post-orchestrator/internal/stage"
	"social-post-orchestrator/internal/store"
	"social-post-orchestrator/internal/token"
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
	limiter := ratelimit.NewActionLimiter(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	orch := buildOrchestrator(cfg, st, logger)

	server := api.New(cfg, st, orch, triggers, limiter, logger)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	logger.Info("api listening", zap.String("port", cfg.HTTPPort))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}

// buildOrchestrator wires the state machine and its stage dependencies from
// config. Shared verbatim with the worker binary.
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
