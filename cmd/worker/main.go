// Command worker consumes analysis runs from the queue and executes them.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/talentsift/screener/internal/adapter/inference"
	"github.com/talentsift/screener/internal/adapter/inference/ollama"
	"github.com/talentsift/screener/internal/adapter/observability"
	"github.com/talentsift/screener/internal/adapter/queue/redpanda"
	"github.com/talentsift/screener/internal/adapter/repo/postgres"
	"github.com/talentsift/screener/internal/app"
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
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// The worker exposes its own /metrics endpoint; the API server does not
	// scrape on behalf of the worker process.
	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: ":9090", Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	rdb, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		slog.Error("redis connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = rdb.Close() }()

	jobRepo := postgres.NewJobRepo(pool)
	resumeRepo := postgres.NewResumeRepo(pool)
	rankingRepo := postgres.NewRankingRepo(pool)
	analysisRepo := postgres.NewAnalysisRepo(pool)

	// The worker's producer carries a distinct transactional ID so retry and
	// DLQ traffic never conflicts with the API server's producer.
	producer, err := redpanda.NewProducerWithTransactionalID(cfg.KafkaBrokers, "screener-worker-producer")
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

	analyzeSvc := usecase.NewAnalyzeService(jobRepo, resumeRepo, rankingRepo, analysisRepo, producer, scorers, redactor)
	analyzeSvc.ModelName = cfg.InferenceModel
	analyzeSvc.DefaultConcurrency = cfg.AnalyzeConcurrency
	analyzeSvc.MaxConcurrency = cfg.AnalyzeMaxConcurrency
	analyzeSvc.Drift = observability.NewScoreDriftMonitor(cfg.InferenceModel, 50, 0.15)

	retryCfg := cfg.GetRetryConfig()
	retryPolicy := redpanda.RetryPolicy{
		MaxRetries:   retryCfg.MaxRetries,
		InitialDelay: retryCfg.InitialDelay,
		MaxDelay:     retryCfg.MaxDelay,
		Multiplier:   retryCfg.Multiplier,
		DLQCooldown:  redpanda.DefaultRetryPolicy().DLQCooldown,
	}
	retryManager := redpanda.NewRetryManager(producer, producer, analysisRepo, retryPolicy)

	minWorkers := 1
	maxWorkers := cfg.ConsumerMaxConcurrency
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers
	}
	consumer, err := redpanda.NewConsumerWithConfig(cfg.KafkaBrokers, "screener-workers", analyzeSvc, minWorkers, maxWorkers)
	if err != nil {
		slog.Error("queue consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	consumer.WithRetryManager(retryManager)
	defer func() {
		if err := consumer.Close(); err != nil {
			slog.Error("failed to close consumer", slog.Any("error", err))
		}
	}()

	dlqConsumer, err := redpanda.NewDLQConsumer(cfg.KafkaBrokers, "screener-dlq-workers", retryManager)
	if err != nil {
		slog.Error("dlq consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer dlqConsumer.Stop()
	if err := dlqConsumer.Start(ctx); err != nil {
		slog.Error("dlq consumer start error", slog.Any("error", err))
	}

	// Runs parked in processing by a crashed worker are requeued or, past
	// the retry budget, failed terminally.
	janitor := app.NewStuckAnalysisJanitor(analysisRepo, producer, cfg.StuckAnalysisAge, cfg.StuckCheckInterval, cfg.RetryMaxRetries)
	if janitor != nil {
		go janitor.Run(ctx)
	}

	slog.Info("starting queue consumer",
		slog.Int("min_workers", minWorkers),
		slog.Int("max_workers", maxWorkers))
	go func() {
		if err := consumer.Start(ctx); err != nil {
			slog.Error("consumer error", slog.Any("error", err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	cancel()
	slog.Info("worker stopped")
}

func newRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// buildInferenceClient mirrors the server wiring: stub or Ollama base,
// breaker, optional shared Redis token bucket. No response cache here:
// ranking calls are deduped by the idempotent store, not by reply caching.
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
