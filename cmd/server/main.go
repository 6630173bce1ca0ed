// Command server starts the candidate screening HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	httpserver "github.com/talentsift/screener/internal/adapter/httpserver"
	"github.com/talentsift/screener/internal/adapter/inference"
	"github.com/talentsift/screener/internal/adapter/inference/ollama"
	"github.com/talentsift/screener/internal/adapter/observability"
	"github.com/talentsift/screener/internal/adapter/queue/redpanda"
	"github.com/talentsift/screener/internal/adapter/report/htmlreport"
	"github.com/talentsift/screener/internal/adapter/repo/postgres"
	tikaext "github.com/talentsift/screener/internal/adapter/textextractor/tika"
	"github.com/talentsift/screener/internal/app"
	"github.com/talentsift/screener/internal/condense"
	"github.com/talentsift/screener/internal/config"
	"github.com/talentsift/screener/internal/domain"
	"github.com/talentsift/screener/internal/redact"
	"github.com/talentsift/screener/internal/scoring"
	"github.com/talentsift/screener/internal/service/ratelimiter"
	"github.com/talentsift/screener/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		slog.Error("schema apply failed", slog.Any("error", err))
		os.Exit(1)
	}

	jobRepo := postgres.NewJobRepo(pool)
	resumeRepo := postgres.NewResumeRepo(pool)
	rankingRepo := postgres.NewRankingRepo(pool)
	analysisRepo := postgres.NewAnalysisRepo(pool)
	sessionRepo := postgres.NewSessionRepo(pool)

	if cfg.DataRetentionDays > 0 {
		cleanupSvc := postgres.NewCleanupService(pool, cfg.DataRetentionDays)
		go cleanupSvc.RunPeriodic(ctx, cfg.CleanupInterval)
		slog.Info("cleanup service started",
			slog.Int("retention_days", cfg.DataRetentionDays),
			slog.Duration("interval", cfg.CleanupInterval))
	}

	rdb, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		slog.Error("redis connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = rdb.Close() }()

	producer, err := redpanda.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		slog.Error("queue producer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			slog.Error("failed to close queue producer", slog.Any("error", err))
		}
	}()

	inferenceClient := buildInferenceClient(ctx, cfg, rdb, pool)

	patterns, err := config.LoadPatterns(cfg.RedactionConfigPath)
	if err != nil {
		slog.Error("redaction patterns load failed", slog.Any("error", err))
		os.Exit(1)
	}
	redactor := redact.New(patterns.BiasTerms, nil)
	condenser := condense.New(patterns.FillerPhrases, patterns.FillerWords)

	genOpts := domain.GenerateOptions{
		Temperature:   cfg.InferenceTemperature,
		RepeatPenalty: cfg.InferenceRepeatPenalty,
	}
	maxElapsed, initial, maxInterval, multiplier := cfg.GetUnitBackoffConfig()
	scorers := usecase.ScorerSet{
		Model: scoring.NewModelScorer(inferenceClient, genOpts, scoring.RetryPolicy{
			MaxElapsedTime:  maxElapsed,
			InitialInterval: initial,
			MaxInterval:     maxInterval,
			Multiplier:      multiplier,
		}),
		Keyword: scoring.NewKeywordScorer(),
	}

	exporter, err := htmlreport.New()
	if err != nil {
		slog.Error("report template parse failed", slog.Any("error", err))
		os.Exit(1)
	}

	uploadSvc := usecase.NewUploadService(jobRepo, resumeRepo, redactor)
	analyzeSvc := usecase.NewAnalyzeService(jobRepo, resumeRepo, rankingRepo, analysisRepo, producer, scorers, redactor)
	analyzeSvc.ModelName = cfg.InferenceModel
	analyzeSvc.DefaultConcurrency = cfg.AnalyzeConcurrency
	analyzeSvc.MaxConcurrency = cfg.AnalyzeMaxConcurrency
	// Summaries and explanations repeat verbatim prompts, so only the result
	// paths go through the response cache; ranking scores never do.
	cachedInference := inference.NewResponseCache(inferenceClient, cfg.InferenceCacheSize)
	resultSvc := usecase.NewResultService(jobRepo, resumeRepo, rankingRepo, analysisRepo, sessionRepo, cachedInference, condenser, exporter, genOpts)

	extractor := tikaext.New(cfg.TikaURL)

	srv := httpserver.NewServer(cfg, uploadSvc, analyzeSvc, resultSvc, extractor)
	checks := app.BuildReadinessChecks(cfg, pool, rdb, producer, inferenceClient)
	srv.DBCheck = checks.DB
	srv.RedisCheck = checks.Redis
	srv.QueueCheck = checks.Queue
	srv.TikaCheck = checks.Tika
	srv.InferenceCheck = checks.Inference

	var admin *httpserver.AdminServer
	if cfg.AdminEnabled() {
		admin, err = httpserver.NewAdminServer(cfg, resultSvc)
		if err != nil {
			slog.Error("admin server init failed", slog.Any("error", err))
			os.Exit(1)
		}
		slog.Info("admin API enabled")
	}

	handler := app.BuildRouter(cfg, srv, admin)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}

func newRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// buildInferenceClient assembles the layered inference client: stub or
// Ollama at the base, wrapped in the breaker and, when a budget is
// configured, the shared Redis token bucket. The response cache is not part
// of this stack; only the summary/explanation paths get one.
func buildInferenceClient(ctx context.Context, cfg config.Config, rdb *redis.Client, pool *pgxpool.Pool) domain.InferenceClient {
	var client domain.InferenceClient
	if cfg.UseStubInference() {
		client = inference.NewStub(cfg.InferenceModel)
		slog.Info("inference stub enabled", slog.String("model", cfg.InferenceModel))
	} else {
		client = ollama.New(cfg.InferenceBaseURL, cfg.InferenceModel, cfg.InferenceTimeout)
		client = inference.NewWithBreaker(client, observability.NewCircuitBreaker("inference", 5, 30*time.Second))
	}

	if cfg.InferenceCallsPerMin > 0 {
		limiter := ratelimiter.NewRedisLuaLimiter(rdb, pool, map[string]ratelimiter.BucketConfig{
			ratelimiter.BucketInference: ratelimiter.NewBucketConfigFromPerMinute(cfg.InferenceCallsPerMin),
		})
		if limiter != nil {
			if err := limiter.WarmFromPostgres(ctx); err != nil {
				slog.Warn("rate limiter warm-up failed", slog.Any("error", err))
			}
			client = inference.NewRateLimited(client, limiter)
			slog.Info("inference rate limit enabled", slog.Int("calls_per_min", cfg.InferenceCallsPerMin))
		}
	}
	return client
}
