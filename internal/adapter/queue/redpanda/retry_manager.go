package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/talentsift/screener/internal/domain"
)

// AnalysisEnqueuer produces analysis runs to the main topic.
type AnalysisEnqueuer interface {
	EnqueueAnalysis(ctx domain.Context, payload domain.AnalyzeTaskPayload) (string, error)
}

// DLQEnqueuer produces dead letter records.
type DLQEnqueuer interface {
	EnqueueDLQ(ctx domain.Context, analysisID string, value []byte) error
}

// RetryPolicy bounds how often a failed run is requeued and how long runs
// parked for upstream backpressure cool down before reprocessing.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	DLQCooldown  time.Duration
}

// DefaultRetryPolicy returns the production policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		DLQCooldown:  30 * time.Second,
	}
}

// delayFor computes the requeue delay for the given zero-based attempt.
func (p RetryPolicy) delayFor(attempt int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialDelay
	bo.MaxInterval = p.MaxDelay
	bo.Multiplier = p.Multiplier
	bo.RandomizationFactor = 0.1
	// Zero keeps NextBackOff from ever returning backoff.Stop; the retry
	// budget is enforced by MaxRetries, not elapsed time.
	bo.MaxElapsedTime = 0
	bo.Reset()

	d := bo.NextBackOff()
	for i := 0; i < attempt; i++ {
		d = bo.NextBackOff()
	}
	return d
}

// DLQMessage is the dead letter record value. It carries the original
// payload so the DLQ consumer can requeue without a database read.
type DLQMessage struct {
	AnalysisID  string                    `json:"analysis_id"`
	Payload     domain.AnalyzeTaskPayload `json:"payload"`
	FailureCode string                    `json:"failure_code"`
	Reason      string                    `json:"reason"`
	MovedAt     time.Time                 `json:"moved_at"`
	Requeueable bool                      `json:"requeueable"`
}

// RetryManager routes failed analysis runs: upstream backpressure goes to
// the DLQ for a cooldown, terminal failures stay failed, and everything
// else is requeued with backoff until the retry budget runs out.
type RetryManager struct {
	producer AnalysisEnqueuer
	dlq      DLQEnqueuer
	analyses domain.AnalysisRepository
	policy   RetryPolicy
}

// NewRetryManager creates a retry manager.
func NewRetryManager(producer AnalysisEnqueuer, dlq DLQEnqueuer, analyses domain.AnalysisRepository, policy RetryPolicy) *RetryManager {
	return &RetryManager{
		producer: producer,
		dlq:      dlq,
		analyses: analyses,
		policy:   policy,
	}
}

// HandleFailure decides what happens to a run whose processing returned an
// error. The handler has already written the terminal status; this layer
// only decides whether the run gets another attempt.
func (rm *RetryManager) HandleFailure(ctx context.Context, payload domain.AnalyzeTaskPayload, procErr error) error {
	code := FailureCodeForError(procErr)

	// Rate limits and timeouts mean the endpoint asked for air. Requeueing
	// immediately would hammer it, so the run cools down on the DLQ first.
	if isUpstreamBackpressure(code) {
		return rm.moveToDLQ(ctx, payload, code, procErr.Error())
	}

	if isTerminalFailure(code) {
		slog.Info("analysis failure is terminal, not retrying",
			slog.String("analysis_id", payload.AnalysisID),
			slog.String("failure_code", code))
		return nil
	}

	a, err := rm.analyses.Get(ctx, payload.AnalysisID)
	if err != nil {
		return fmt.Errorf("load analysis for retry: %w", err)
	}
	if a.RetryCount >= rm.policy.MaxRetries {
		return rm.moveToDLQ(ctx, payload, code, fmt.Sprintf("retry budget exhausted after %d attempts: %v", a.RetryCount, procErr))
	}

	if err := rm.analyses.IncRetry(ctx, payload.AnalysisID); err != nil {
		return fmt.Errorf("increment retry count: %w", err)
	}
	msg := procErr.Error()
	if err := rm.analyses.UpdateStatus(ctx, payload.AnalysisID, domain.AnalysisQueued, &code, &msg); err != nil {
		return fmt.Errorf("requeue status update: %w", err)
	}

	delay := rm.policy.delayFor(a.RetryCount)
	slog.Info("analysis scheduled for retry",
		slog.String("analysis_id", payload.AnalysisID),
		slog.String("failure_code", code),
		slog.Int("attempt", a.RetryCount+1),
		slog.Duration("delay", delay))
	go rm.requeueAfter(ctx, payload, delay)
	return nil
}

// requeueAfter waits out the backoff delay and re-enqueues the run if it is
// still queued. A run abandoned here because of shutdown stays queued and
// is rescued by the stuck-run janitor.
func (rm *RetryManager) requeueAfter(ctx context.Context, payload domain.AnalyzeTaskPayload, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	a, err := rm.analyses.Get(ctx, payload.AnalysisID)
	if err != nil {
		slog.Error("load analysis before requeue", slog.String("analysis_id", payload.AnalysisID), slog.Any("error", err))
		return
	}
	if a.Status != domain.AnalysisQueued {
		slog.Info("analysis status changed, skipping requeue",
			slog.String("analysis_id", payload.AnalysisID),
			slog.String("status", string(a.Status)))
		return
	}

	if _, err := rm.producer.EnqueueAnalysis(ctx, payload); err != nil {
		slog.Error("requeue analysis", slog.String("analysis_id", payload.AnalysisID), slog.Any("error", err))
	}
}

// moveToDLQ publishes the run to the dead letter topic and marks it failed.
func (rm *RetryManager) moveToDLQ(ctx context.Context, payload domain.AnalyzeTaskPayload, code, reason string) error {
	msg := DLQMessage{
		AnalysisID:  payload.AnalysisID,
		Payload:     payload,
		FailureCode: code,
		Reason:      reason,
		MovedAt:     time.Now().UTC(),
		Requeueable: true,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal dlq message: %w", err)
	}
	if err := rm.dlq.EnqueueDLQ(ctx, payload.AnalysisID, b); err != nil {
		return fmt.Errorf("enqueue dlq: %w", err)
	}

	if err := rm.analyses.UpdateStatus(ctx, payload.AnalysisID, domain.AnalysisFailed, &code, &reason); err != nil {
		slog.Error("mark analysis failed after dlq",
			slog.String("analysis_id", payload.AnalysisID),
			slog.Any("error", err))
	}

	slog.Info("analysis moved to dlq",
		slog.String("analysis_id", payload.AnalysisID),
		slog.String("failure_code", code),
		slog.String("reason", reason))
	return nil
}

// ProcessDLQ handles one dead letter record. Runs parked for upstream
// backpressure wait out the cooldown window before requeueing; everything
// else requeueable goes straight back to the main topic.
func (rm *RetryManager) ProcessDLQ(ctx context.Context, msg DLQMessage) error {
	if !msg.Requeueable {
		return fmt.Errorf("dlq message for analysis %s is not requeueable", msg.AnalysisID)
	}

	if isUpstreamBackpressure(msg.FailureCode) {
		cooldownUntil := msg.MovedAt.Add(rm.policy.DLQCooldown)
		if delay := time.Until(cooldownUntil); delay > 0 {
			slog.Info("dlq cooldown in effect",
				slog.String("analysis_id", msg.AnalysisID),
				slog.String("failure_code", msg.FailureCode),
				slog.Duration("remaining", delay))
			go func() {
				timer := time.NewTimer(delay)
				defer timer.Stop()
				select {
				case <-ctx.Done():
					return
				case <-timer.C:
				}
				if err := rm.requeueFromDLQ(ctx, msg); err != nil {
					slog.Error("requeue cooled dlq message",
						slog.String("analysis_id", msg.AnalysisID),
						slog.Any("error", err))
				}
			}()
			return nil
		}
	}

	return rm.requeueFromDLQ(ctx, msg)
}

// requeueFromDLQ flips the run back to queued and re-enqueues its payload.
func (rm *RetryManager) requeueFromDLQ(ctx context.Context, msg DLQMessage) error {
	if err := rm.analyses.UpdateStatus(ctx, msg.AnalysisID, domain.AnalysisQueued, nil, nil); err != nil {
		return fmt.Errorf("dlq requeue status update: %w", err)
	}
	if _, err := rm.producer.EnqueueAnalysis(ctx, msg.Payload); err != nil {
		return fmt.Errorf("dlq requeue: %w", err)
	}
	slog.Info("dlq message requeued",
		slog.String("analysis_id", msg.AnalysisID),
		slog.String("original_failure_code", msg.FailureCode))
	return nil
}
