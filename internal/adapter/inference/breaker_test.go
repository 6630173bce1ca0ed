package inference

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentsift/screener/internal/adapter/observability"
	"github.com/talentsift/screener/internal/domain"
)

type flakyClient struct {
	err   error
	calls int
}

func (f *flakyClient) Generate(domain.Context, string, domain.GenerateOptions) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "ok", nil
}

func (f *flakyClient) Models(domain.Context) ([]string, error) {
	return []string{"m"}, nil
}

func TestBreakerPassesThroughWhileClosed(t *testing.T) {
	t.Parallel()

	base := &flakyClient{}
	client := NewWithBreaker(base, observability.NewCircuitBreaker("t", 3, time.Minute))

	out, err := client.Generate(context.Background(), "p", domain.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestBreakerFailsFastWhenOpen(t *testing.T) {
	t.Parallel()

	base := &flakyClient{err: errors.New("endpoint down")}
	client := NewWithBreaker(base, observability.NewCircuitBreaker("t", 2, time.Minute))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := client.Generate(ctx, "p", domain.GenerateOptions{})
		require.Error(t, err)
	}
	callsBefore := base.calls

	_, err := client.Generate(ctx, "p", domain.GenerateOptions{})
	require.ErrorIs(t, err, domain.ErrInferenceUnavailable)
	assert.Equal(t, callsBefore, base.calls, "open breaker must not reach the endpoint")
}

func TestBreakerNeverGatesModels(t *testing.T) {
	t.Parallel()

	base := &flakyClient{err: errors.New("endpoint down")}
	cb := observability.NewCircuitBreaker("t", 1, time.Minute)
	client := NewWithBreaker(base, cb)

	ctx := context.Background()
	_, err := client.Generate(ctx, "p", domain.GenerateOptions{})
	require.Error(t, err)

	models, err := client.Models(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"m"}, models)
}

func TestBreakerNilReturnsBase(t *testing.T) {
	t.Parallel()

	base := &flakyClient{}
	assert.Equal(t, domain.InferenceClient(base), NewWithBreaker(base, nil))
	assert.Nil(t, NewWithBreaker(nil, observability.NewCircuitBreaker("t", 1, time.Minute)))
}
