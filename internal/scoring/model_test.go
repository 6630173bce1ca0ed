package scoring_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/talentsift/screener/internal/domain"
	"github.com/talentsift/screener/internal/scoring"
)

type stubInference struct {
	calls  int
	failN  int
	err    error
	reply  string
	models []string
}

func (s *stubInference) Generate(_ domain.Context, _ string, _ domain.GenerateOptions) (string, error) {
	s.calls++
	if s.calls <= s.failN {
		return "", s.err
	}
	return s.reply, nil
}

func (s *stubInference) Models(_ domain.Context) ([]string, error) { return s.models, nil }

func fastRetry() scoring.RetryPolicy {
	return scoring.RetryPolicy{
		MaxElapsedTime:  200 * time.Millisecond,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func TestModelScorerMethod(t *testing.T) {
	t.Parallel()
	s := scoring.NewModelScorer(&stubInference{}, domain.GenerateOptions{}, fastRetry())
	require.Equal(t, domain.MethodModel, s.Method())
}

func TestModelScorerParsesStructuredReply(t *testing.T) {
	t.Parallel()
	stub := &stubInference{reply: `{"score": 0.85, "explanation": "Great fit.", "citations": ["go"]}`}
	s := scoring.NewModelScorer(stub, domain.GenerateOptions{Temperature: 0.2, RepeatPenalty: 1.15}, fastRetry())

	res, err := s.Score(context.Background(), "job", "resume")

	require.NoError(t, err)
	require.InDelta(t, 0.85, res.Score, 1e-9)
	require.Equal(t, "Great fit.", res.Explanation)
	require.Equal(t, []string{"go"}, res.Citations)
	require.Equal(t, 1, stub.calls)
}

func TestModelScorerParsesMarkerReply(t *testing.T) {
	t.Parallel()
	stub := &stubInference{reply: "Score: 0.4\nExplanation: Decent overlap."}
	s := scoring.NewModelScorer(stub, domain.GenerateOptions{}, fastRetry())

	res, err := s.Score(context.Background(), "job", "resume")

	require.NoError(t, err)
	require.InDelta(t, 0.4, res.Score, 1e-9)
}

func TestModelScorerRetriesTransientFailure(t *testing.T) {
	t.Parallel()
	stub := &stubInference{
		failN: 1,
		err:   fmt.Errorf("generate: %w", domain.ErrInferenceUnavailable),
		reply: `{"score": 0.7, "explanation": "ok"}`,
	}
	s := scoring.NewModelScorer(stub, domain.GenerateOptions{}, fastRetry())

	res, err := s.Score(context.Background(), "job", "resume")

	require.NoError(t, err)
	require.InDelta(t, 0.7, res.Score, 1e-9)
	require.Equal(t, 2, stub.calls)
}

func TestModelScorerZeroScoreAfterExhaustedRetries(t *testing.T) {
	t.Parallel()
	stub := &stubInference{
		failN: 1 << 30,
		err:   fmt.Errorf("generate: %w", domain.ErrUpstreamTimeout),
	}
	s := scoring.NewModelScorer(stub, domain.GenerateOptions{}, fastRetry())

	res, err := s.Score(context.Background(), "job", "resume")

	require.NoError(t, err)
	require.Equal(t, 0.0, res.Score)
	require.Equal(t, "Analysis failed: the inference service did not return a response.", res.Explanation)
	require.GreaterOrEqual(t, stub.calls, 2)
}

func TestModelScorerNoRetryOnPermanentError(t *testing.T) {
	t.Parallel()
	stub := &stubInference{
		failN: 1 << 30,
		err:   fmt.Errorf("bad request: %w", domain.ErrInvalidArgument),
	}
	s := scoring.NewModelScorer(stub, domain.GenerateOptions{}, fastRetry())

	res, err := s.Score(context.Background(), "job", "resume")

	require.NoError(t, err)
	require.Equal(t, 0.0, res.Score)
	require.Equal(t, 1, stub.calls)
}

func TestModelScorerUnparseableReply(t *testing.T) {
	t.Parallel()
	stub := &stubInference{reply: "I am unable to help with that."}
	s := scoring.NewModelScorer(stub, domain.GenerateOptions{}, fastRetry())

	res, err := s.Score(context.Background(), "job", "resume")

	require.NoError(t, err)
	require.Equal(t, 0.0, res.Score)
	require.Equal(t, "Analysis could not be parsed from the model response.", res.Explanation)
}

func TestModelScorerCancelledContext(t *testing.T) {
	t.Parallel()
	stub := &stubInference{reply: `{"score": 0.7, "explanation": "ok"}`}
	s := scoring.NewModelScorer(stub, domain.GenerateOptions{}, fastRetry())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Score(ctx, "job", "resume")
	require.Error(t, err)
	require.Equal(t, 0, stub.calls)
}
