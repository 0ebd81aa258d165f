package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/retail-insights-go/internal/analysis/forecast"
	"github.com/boddenberg/retail-insights-go/internal/analysis/narrative"
	"github.com/boddenberg/retail-insights-go/internal/analysis/segmentation"
	"github.com/boddenberg/retail-insights-go/internal/config"
	"github.com/boddenberg/retail-insights-go/internal/handler"
	"github.com/boddenberg/retail-insights-go/internal/infra/cache"
	"github.com/boddenberg/retail-insights-go/internal/infra/llm"
	"github.com/boddenberg/retail-insights-go/internal/infra/observability"
	"github.com/boddenberg/retail-insights-go/internal/infra/resilience"
	"github.com/boddenberg/retail-insights-go/internal/infra/source"
	"github.com/boddenberg/retail-insights-go/internal/infra/supabase"
	"github.com/boddenberg/retail-insights-go/internal/port"
	"github.com/boddenberg/retail-insights-go/internal/report"
	"github.com/boddenberg/retail-insights-go/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("data_source", cfg.DataSource),
		zap.Bool("redis_cache", cfg.RedisURL != ""),
		zap.String("llm_model", cfg.LLMModel),
		zap.Duration("narrative_timeout", cfg.NarrativeTimeout),
		zap.Int("narrative_concurrency", cfg.NarrativeConcurrency),
		zap.Int("cluster_k", cfg.ClusterK),
		zap.Int("forecast_horizon_weeks", cfg.ForecastHorizonWeeks),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Bool("auth_enabled", cfg.JWTSecret != ""),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, observability.ServiceName)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}

	// --- Transaction source ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	src, closeSource, err := newSource(cfg, httpClient, resilienceCfg, logger)
	if err != nil {
		logger.Fatal("failed to open transaction source", zap.Error(err))
	}
	defer closeSource()

	// --- Report cache ---
	reportCache, cacheCloser, err := newReportCache(cfg, logger)
	if err != nil {
		logger.Fatal("failed to open report cache", zap.Error(err))
	}
	defer cacheCloser.Close()

	// --- Narratives ---
	// Streams are bounded by the narrative timeout, not a client timeout.
	llmClient := llm.NewClient(
		&http.Client{},
		cfg.LLMBaseURL,
		cfg.LLMAPIKey,
		resilience.NewCircuitBreaker("llm"),
		resilienceCfg,
		logger,
	)
	if cfg.LLMAPIKey == "" {
		logger.Warn("LLM_API_KEY not set, narratives will fall back")
	}
	synth := narrative.NewSynthesizer(llmClient, cfg.LLMModel, cfg.NarrativeTimeout, metrics, logger)

	// --- Services ---
	pipeline := service.NewPipeline(
		src,
		segmentation.NewEngine(logger),
		forecast.NewEngine(logger),
		synth,
		report.NewAssembler(logger),
		reportCache,
		metrics,
		service.PipelineConfig{
			ClusterK:             cfg.ClusterK,
			HorizonWeeks:         cfg.ForecastHorizonWeeks,
			NarrativeConcurrency: cfg.NarrativeConcurrency,
			CacheTTL:             cfg.CacheTTL,
		},
		logger,
	)

	var auth *service.Authenticator
	if cfg.JWTSecret != "" {
		auth = service.NewAuthenticator(cfg.JWTSecret, time.Hour)
	}

	// --- Router ---
	router := handler.NewRouter(pipeline, auth, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2*cfg.NarrativeTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// newSource opens the configured transaction source and returns its closer.
func newSource(cfg *config.Config, httpClient *http.Client, resilienceCfg resilience.Config, logger *zap.Logger) (port.TransactionSource, func(), error) {
	switch cfg.DataSource {
	case config.SourceSupabase:
		if cfg.SupabaseURL == "" {
			return nil, nil, fmt.Errorf("DATA_SOURCE=supabase requires SUPABASE_URL")
		}
		logger.Info("using Supabase as data backend", zap.String("supabase_url", cfg.SupabaseURL))
		client := supabase.NewClient(
			httpClient,
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			resilience.NewCircuitBreaker("supabase"),
			resilienceCfg,
			logger,
		)
		return client, func() {}, nil

	case config.SourcePostgres:
		if cfg.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("DATA_SOURCE=postgres requires DATABASE_URL")
		}
		logger.Info("using Postgres as data backend")
		pool, err := source.NewPool(context.Background(), cfg.DatabaseURL, int32(cfg.MaxConcurrency), cfg.HTTPTimeout)
		if err != nil {
			return nil, nil, err
		}
		return source.NewPostgres(pool, logger), pool.Close, nil

	case config.SourceCSV:
		logger.Info("using CSV file as data backend", zap.String("path", cfg.CSVPath))
		return source.NewCSV(cfg.CSVPath, logger), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown DATA_SOURCE %q", cfg.DataSource)
}

// newReportCache returns Redis when REDIS_URL is set, else the in-memory cache.
func newReportCache(cfg *config.Config, logger *zap.Logger) (port.ReportCache, io.Closer, error) {
	if cfg.RedisURL == "" {
		c := cache.NewReports(cfg.CacheTTL)
		return c, c, nil
	}

	c, err := cache.NewRedis(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		logger.Warn("redis not reachable at startup, reports will not be cached until it recovers", zap.Error(err))
	}
	return c, c, nil
}
