package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/talentsift/screener/internal/domain"
)

// StuckAnalysisJanitor requeues analysis runs whose worker died mid-flight.
// Runs stuck past maxAge are re-enqueued with an incremented retry counter;
// runs that have exhausted the retry budget are marked failed terminally.
type StuckAnalysisJanitor struct {
	analyses   domain.AnalysisRepository
	queue      domain.Queue
	maxAge     time.Duration
	interval   time.Duration
	maxRetries int
}

// NewStuckAnalysisJanitor builds a janitor. A nil analyses repository yields
// a nil janitor whose Run is a no-op.
func NewStuckAnalysisJanitor(analyses domain.AnalysisRepository, queue domain.Queue, maxAge, interval time.Duration, maxRetries int) *StuckAnalysisJanitor {
	if analyses == nil {
		return nil
	}
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &StuckAnalysisJanitor{
		analyses:   analyses,
		queue:      queue,
		maxAge:     maxAge,
		interval:   interval,
		maxRetries: maxRetries,
	}
}

// Run sweeps immediately, then on every tick until ctx is cancelled.
func (j *StuckAnalysisJanitor) Run(ctx context.Context) {
	if j == nil || j.analyses == nil {
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stuck analysis janitor stopping")
			return
		case <-ticker.C:
			j.sweepOnce(ctx)
		}
	}
}

func (j *StuckAnalysisJanitor) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("analyses.janitor")
	ctx, span := tracer.Start(ctx, "StuckAnalysisJanitor.sweepOnce")
	defer span.End()

	const limit = 100
	span.SetAttributes(
		attribute.Int("analyses.limit", limit),
		attribute.Float64("analyses.max_age_seconds", j.maxAge.Seconds()),
	)

	stuck, err := j.analyses.FindStuck(ctx, j.maxAge, limit)
	if err != nil {
		span.RecordError(err)
		slog.Error("stuck analysis sweep failed to list runs", slog.Any("error", err))
		return
	}

	requeued := 0
	failed := 0
	for _, a := range stuck {
		if a.RetryCount >= j.maxRetries {
			j.markFailed(ctx, tracer, a)
			failed++
			continue
		}
		if j.requeue(ctx, tracer, a) {
			requeued++
		}
	}

	span.SetAttributes(
		attribute.Int("analyses.stuck", len(stuck)),
		attribute.Int("analyses.requeued", requeued),
		attribute.Int("analyses.failed_terminal", failed),
	)
}

func (j *StuckAnalysisJanitor) markFailed(ctx context.Context, tracer trace.Tracer, a domain.Analysis) {
	ctx, span := tracer.Start(ctx, "StuckAnalysisJanitor.markFailed")
	defer span.End()
	span.SetAttributes(
		attribute.String("analysis.id", a.ID),
		attribute.Int("analysis.retry_count", a.RetryCount),
	)

	code := "STUCK"
	msg := fmt.Sprintf("analysis stuck past %v with retry budget exhausted", j.maxAge)
	if err := j.analyses.UpdateStatus(ctx, a.ID, domain.AnalysisFailed, &code, &msg); err != nil {
		span.RecordError(err)
		slog.Error("janitor failed to mark analysis failed",
			slog.String("analysis_id", a.ID), slog.Any("error", err))
	}
}

func (j *StuckAnalysisJanitor) requeue(ctx context.Context, tracer trace.Tracer, a domain.Analysis) bool {
	ctx, span := tracer.Start(ctx, "StuckAnalysisJanitor.requeue")
	defer span.End()
	span.SetAttributes(
		attribute.String("analysis.id", a.ID),
		attribute.Int("analysis.retry_count", a.RetryCount),
	)

	if err := j.analyses.IncRetry(ctx, a.ID); err != nil {
		span.RecordError(err)
		slog.Error("janitor failed to bump retry counter",
			slog.String("analysis_id", a.ID), slog.Any("error", err))
		return false
	}
	if err := j.analyses.UpdateStatus(ctx, a.ID, domain.AnalysisQueued, nil, nil); err != nil {
		span.RecordError(err)
		slog.Error("janitor failed to requeue analysis",
			slog.String("analysis_id", a.ID), slog.Any("error", err))
		return false
	}
	if j.queue != nil {
		payload := domain.AnalyzeTaskPayload{
			AnalysisID:  a.ID,
			JobID:       a.JobID,
			Method:      a.Method,
			Concurrency: a.Concurrency,
		}
		if _, err := j.queue.EnqueueAnalysis(ctx, payload); err != nil {
			span.RecordError(err)
			slog.Error("janitor failed to enqueue analysis task",
				slog.String("analysis_id", a.ID), slog.Any("error", err))
			return false
		}
	}
	slog.Info("requeued stuck analysis",
		slog.String("analysis_id", a.ID), slog.Int("retry_count", a.RetryCount+1))
	return true
}
