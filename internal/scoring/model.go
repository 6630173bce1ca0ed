package scoring

import (
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/talentsift/screener/internal/adapter/observability"
	"github.com/talentsift/screener/internal/domain"
	"github.com/talentsift/screener/internal/prompt"
)

const transportFailureExplanation = "Analysis failed: the inference service did not return a response."

// RetryPolicy bounds the per-pair retry loop around one inference call.
type RetryPolicy struct {
	MaxElapsedTime  time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// ModelScorer sends the ranking prompt to the inference endpoint and parses
// the reply. Transport and parse trouble for a single pair degrade to a zero
// score; an error is returned only when the context is done.
type ModelScorer struct {
	client domain.InferenceClient
	opts   domain.GenerateOptions
	retry  RetryPolicy
}

// NewModelScorer builds the model-backed strategy.
func NewModelScorer(client domain.InferenceClient, opts domain.GenerateOptions, retry RetryPolicy) *ModelScorer {
	return &ModelScorer{client: client, opts: opts, retry: retry}
}

// Method implements domain.Scorer.
func (s *ModelScorer) Method() string { return domain.MethodModel }

// Score implements domain.Scorer.
func (s *ModelScorer) Score(ctx domain.Context, jobText, resumeText string) (domain.ScoreResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ScoreResult{}, err
	}

	p := prompt.RankCandidate(jobText, resumeText)

	var raw string
	op := func() error {
		out, err := s.client.Generate(ctx, p, s.opts)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrSchemaInvalid) {
				// Client-side mistake: retrying the same prompt cannot help.
				return backoff.Permanent(err)
			}
			return err
		}
		raw = out
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.MaxElapsedTime = s.retry.MaxElapsedTime
	expo.InitialInterval = s.retry.InitialInterval
	expo.MaxInterval = s.retry.MaxInterval
	if s.retry.Multiplier > 0 {
		expo.Multiplier = s.retry.Multiplier
	}

	if err := backoff.Retry(op, backoff.WithContext(expo, ctx)); err != nil {
		if ctx.Err() != nil {
			return domain.ScoreResult{}, ctx.Err()
		}
		slog.Warn("inference failed after retries, scoring zero",
			slog.Any("error", err),
			slog.Int("prompt_length", len(p)))
		return domain.ScoreResult{Score: 0, Explanation: transportFailureExplanation}, nil
	}

	outcome := ParseRanking(raw)
	observability.ParseOutcomesTotal.WithLabelValues(outcome.Kind.String()).Inc()
	if outcome.Kind != ParseStructured {
		slog.Warn("ranking reply fell back from structured parse",
			slog.String("parse_kind", outcome.Kind.String()),
			slog.Int("response_length", len(raw)))
	}
	return outcome.Result, nil
}
