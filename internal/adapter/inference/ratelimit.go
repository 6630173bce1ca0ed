package inference

import (
	"log/slog"
	"time"

	"github.com/talentsift/screener/internal/domain"
)

// Limiter gates outbound generation calls. Satisfied by
// ratelimiter.RedisLuaLimiter.
type Limiter interface {
	Allow(ctx domain.Context, key string, cost int64) (allowed bool, retryAfter time.Duration, err error)
}

// generateBucket must match the bucket key configured at wiring time.
const generateBucket = "inference.generate"

type rateLimitedClient struct {
	base    domain.InferenceClient
	limiter Limiter
}

// NewRateLimited gates base's Generate behind the limiter. Denied calls
// wait out the bucket's retry hint instead of failing; Models is never
// gated. A nil limiter returns base unmodified.
func NewRateLimited(base domain.InferenceClient, l Limiter) domain.InferenceClient {
	if base == nil || l == nil {
		return base
	}
	return &rateLimitedClient{base: base, limiter: l}
}

func (c *rateLimitedClient) Generate(ctx domain.Context, prompt string, opts domain.GenerateOptions) (string, error) {
	for {
		allowed, retryAfter, err := c.limiter.Allow(ctx, generateBucket, 1)
		if err != nil || allowed {
			// Limiter errors fail open; the endpoint's own 429 handling
			// still applies downstream.
			return c.base.Generate(ctx, prompt, opts)
		}
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		slog.Debug("generation gated by local rate limit", slog.Duration("retry_after", retryAfter))

		timer := time.NewTimer(retryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *rateLimitedClient) Models(ctx domain.Context) ([]string, error) {
	return c.base.Models(ctx)
}
