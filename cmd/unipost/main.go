package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/unipost/unipost/internal/auth"
	"github.com/unipost/unipost/internal/circuitbreaker"
	"github.com/unipost/unipost/internal/config"
	"github.com/unipost/unipost/internal/embeddings"
	"github.com/unipost/unipost/internal/health"
	"github.com/unipost/unipost/internal/httpapi"
	"github.com/unipost/unipost/internal/llm"
	"github.com/unipost/unipost/internal/pipeline"
	"github.com/unipost/unipost/internal/search"
	"github.com/unipost/unipost/internal/session"
	"github.com/unipost/unipost/internal/store"
	"github.com/unipost/unipost/internal/tracing"
	"github.com/unipost/unipost/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing (no-op when disabled)
	if err := tracing.Initialize(cfg.Tracing, logger); err != nil {
		logger.Warn("Failed to initialize tracing", zap.Error(err))
	}

	// Redis, shared by the search cache, embedding cache and sessions
	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	redisWrapper := circuitbreaker.NewRedisWrapper(redisClient, logger)
	if err := redisWrapper.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisWrapper.Close()

	// Postgres
	posts, err := store.Open(cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer posts.Close()

	// Pipeline components
	searchClient := search.NewClient(search.Config{
		URL:      cfg.Search.URL,
		Index:    cfg.Search.Index,
		Username: cfg.Search.Username,
		Password: cfg.Search.Password,
		Size:     cfg.Search.Size,
		Timeout:  cfg.Search.Timeout,
	}, logger)

	embedService := embeddings.NewService(embeddings.Config{
		BaseURL:      cfg.Embedding.BaseURL,
		APIKey:       cfg.Embedding.APIKey,
		DefaultModel: cfg.Embedding.DefaultModel,
		Timeout:      cfg.Embedding.Timeout,
		CacheTTL:     cfg.Embedding.CacheTTL,
		MaxLRU:       cfg.Embedding.MaxLRU,
	}, embeddings.NewRedisCache(redisWrapper))

	llmClient := llm.NewClient(llm.Config{
		BaseURL:      cfg.LLM.BaseURL,
		APIKey:       cfg.LLM.APIKey,
		DefaultModel: cfg.LLM.DefaultModel,
		MaxTokens:    cfg.LLM.MaxTokens,
		Temperature:  cfg.LLM.Temperature,
		Timeout:      cfg.LLM.Timeout,
	}, logger)

	// Hot-reloadable pipeline knobs
	watcher, err := config.NewWatcher(cfg.Pipeline, logger)
	var knobs pipeline.KnobSource = pipeline.StaticKnobs(cfg.Pipeline)
	if err != nil {
		logger.Warn("Config watcher unavailable, knobs are static", zap.Error(err))
	} else {
		defer watcher.Stop()
		knobs = watcher
	}

	pipelineSvc := pipeline.NewService(searchClient, embedService, llmClient, posts, redisWrapper, knobs, logger)

	sessions := session.NewManagerWithClient(redisWrapper, logger)

	dispatcher := webhook.NewDispatcher(webhook.Config{
		BaseURL:    cfg.Webhook.BaseURL,
		Token:      cfg.Webhook.Token,
		Timeout:    cfg.Webhook.Timeout,
		MaxElapsed: cfg.Webhook.MaxElapsed,
	}, logger)

	// Auth
	if cfg.Auth.SigningKey == "" && !cfg.Auth.SkipAuth {
		logger.Fatal("auth.signing_key is required unless auth.skip_auth is set")
	}
	jwtManager := auth.NewJWTManager(cfg.Auth.SigningKey, cfg.Auth.AccessExpiry)
	apiKeys := make([]auth.APIKey, 0, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		apiKeys = append(apiKeys, auth.APIKey{Key: k.Key, Username: k.Username, Role: k.Role})
	}
	authMW := auth.NewMiddleware(auth.NewService(apiKeys), jwtManager, cfg.Auth.SkipAuth)

	// Health checks
	healthMgr := health.NewManager(logger)
	mustRegister(logger, healthMgr, health.NewRedisChecker(redisWrapper))
	mustRegister(logger, healthMgr, health.NewDatabaseChecker(posts))
	mustRegister(logger, healthMgr, health.NewProbeChecker("elasticsearch", searchClient, true))
	mustRegister(logger, healthMgr, health.NewProbeChecker("llm", llmClient, false))

	// Circuit breaker gauges
	circuitbreaker.StartMetricsCollection()

	// Session janitor for entries whose TTL outlived their expiry
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := sessions.CleanupExpired(ctx); err != nil {
					logger.Warn("Session cleanup failed", zap.Error(err))
				}
			}
		}
	}()

	// Metrics server
	metricsSrv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Server.MetricsPort),
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("Starting metrics server", zap.Int("port", cfg.Server.MetricsPort))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	// API server
	apiHandler := httpapi.NewHandler(pipelineSvc, posts, sessions, dispatcher, logger)
	rateLimiter := httpapi.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.Burst)
	server := httpapi.NewServer(
		apiHandler,
		authMW,
		rateLimiter,
		health.NewHandler(healthMgr),
		cfg.Server.Port,
		cfg.Server.ReadTimeout,
		logger,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("API server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown failed", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Metrics server shutdown failed", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zcfg.Level = level
	}
	return zcfg.Build()
}

func mustRegister(logger *zap.Logger, mgr *health.Manager, c health.Checker) {
	if err := mgr.RegisterChecker(c); err != nil {
		logger.Fatal("Failed to register health check", zap.String("checker", c.Name()), zap.Error(err))
	}
}
