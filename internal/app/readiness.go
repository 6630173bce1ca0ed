package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/talentsift/screener/internal/config"
	"github.com/talentsift/screener/internal/domain"
)

// Pinger is the minimal interface of a database pool capable of Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueuePinger is the minimal queue-broker connectivity probe.
type QueuePinger interface {
	Ping(ctx context.Context) error
}

// ReadinessChecks bundles the per-dependency probes behind /readyz.
type ReadinessChecks struct {
	DB        func(ctx context.Context) error
	Redis     func(ctx context.Context) error
	Queue     func(ctx context.Context) error
	Tika      func(ctx context.Context) error
	Inference func(ctx context.Context) error
}

// BuildReadinessChecks wires probes for every dependency the pipeline needs
// at request time. Nil dependencies produce a failing probe rather than a
// missing one: a half-configured deployment must not report ready.
func BuildReadinessChecks(cfg config.Config, pool Pinger, rdb *redis.Client, queue QueuePinger, inference domain.InferenceClient) ReadinessChecks {
	return ReadinessChecks{
		DB: func(ctx context.Context) error {
			if pool == nil {
				return fmt.Errorf("db not configured")
			}
			return pool.Ping(ctx)
		},
		Redis: func(ctx context.Context) error {
			if rdb == nil {
				return fmt.Errorf("redis not configured")
			}
			return rdb.Ping(ctx).Err()
		},
		Queue: func(ctx context.Context) error {
			if queue == nil {
				return fmt.Errorf("queue not configured")
			}
			return queue.Ping(ctx)
		},
		Tika: func(ctx context.Context) error {
			if cfg.TikaURL == "" {
				return fmt.Errorf("tika url not configured")
			}
			return httpProbe(ctx, cfg.TikaURL+"/version")
		},
		Inference: func(ctx context.Context) error {
			if inference == nil {
				return fmt.Errorf("inference not configured")
			}
			if _, err := inference.Models(ctx); err != nil {
				return fmt.Errorf("inference: %w", err)
			}
			return nil
		},
	}
}

func httpProbe(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}
	return fmt.Errorf("probe %s: status %d", url, resp.StatusCode)
}
