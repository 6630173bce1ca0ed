package inference

import (
	"errors"
	"fmt"

	"github.com/talentsift/screener/internal/adapter/observability"
	"github.com/talentsift/screener/internal/domain"
)

type breakerClient struct {
	base    domain.InferenceClient
	breaker *observability.CircuitBreaker
}

// NewWithBreaker guards base's Generate behind cb. While the breaker is
// open, calls fail fast with ErrInferenceUnavailable instead of queueing
// behind a dead endpoint. Models is never gated so readiness probes keep
// observing the real endpoint. A nil breaker returns base unmodified.
func NewWithBreaker(base domain.InferenceClient, cb *observability.CircuitBreaker) domain.InferenceClient {
	if base == nil || cb == nil {
		return base
	}
	return &breakerClient{base: base, breaker: cb}
}

func (c *breakerClient) Generate(ctx domain.Context, prompt string, opts domain.GenerateOptions) (string, error) {
	var out string
	err := c.breaker.Call(func() error {
		var genErr error
		out, genErr = c.base.Generate(ctx, prompt, opts)
		return genErr
	})
	if errors.Is(err, observability.ErrCircuitOpen) {
		return "", fmt.Errorf("%w: %v", domain.ErrInferenceUnavailable, err)
	}
	return out, err
}

func (c *breakerClient) Models(ctx domain.Context) ([]string, error) {
	return c.base.Models(ctx)
}
