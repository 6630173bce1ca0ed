// Package ollama implements the inference port against an Ollama-compatible
// HTTP endpoint (POST /api/generate, GET /api/tags).
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/talentsift/screener/internal/adapter/inference/tokencount"
	"github.com/talentsift/screener/internal/adapter/observability"
	"github.com/talentsift/screener/internal/domain"
)

// Client talks to one endpoint with one configured model. It performs
// exactly one HTTP call per method; retries belong to the caller.
type Client struct {
	baseURL string
	model   string
	hc      *http.Client
}

// New returns a client for baseURL using model on every generation call.
// timeout bounds each request end to end.
func New(baseURL, model string, timeout time.Duration) *Client {
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("Inference %s %s", r.Method, r.URL.Host)
		}),
	)
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		hc:      &http.Client{Timeout: timeout, Transport: transport},
	}
}

// Generate runs one completion for prompt and returns the raw model text.
func (c *Client) Generate(ctx context.Context, prompt string, opts domain.GenerateOptions) (string, error) {
	body := map[string]any{
		"model":  c.model,
		"prompt": prompt,
		"stream": false,
		"options": map[string]any{
			"temperature":    opts.Temperature,
			"repeat_penalty": opts.RepeatPenalty,
		},
	}
	b, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.hc.Do(req)
	observability.InferenceRequestsTotal.WithLabelValues("ollama", "generate").Inc()
	observability.InferenceRequestDuration.WithLabelValues("ollama", "generate").Observe(time.Since(start).Seconds())
	if err != nil {
		return "", transportErr("generate", err)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read generate response: %v", domain.ErrInferenceUnavailable, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		slog.Warn("inference endpoint rate limited",
			slog.String("op", "generate"),
			slog.Int("status", resp.StatusCode),
			slog.String("body", snippet(bodyBytes)))
		return "", fmt.Errorf("%w: generate status %d", domain.ErrUpstreamRateLimit, resp.StatusCode)
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		slog.Warn("inference endpoint 4xx",
			slog.String("op", "generate"),
			slog.Int("status", resp.StatusCode),
			slog.String("model", c.model),
			slog.String("endpoint", c.baseURL+"/api/generate"),
			slog.String("body", snippet(bodyBytes)))
		return "", fmt.Errorf("%w: generate status %d", domain.ErrInvalidArgument, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("inference endpoint non-2xx",
			slog.String("op", "generate"),
			slog.Int("status", resp.StatusCode),
			slog.String("model", c.model),
			slog.String("endpoint", c.baseURL+"/api/generate"),
			slog.String("body", snippet(bodyBytes)))
		return "", fmt.Errorf("%w: generate status %d", domain.ErrInferenceUnavailable, resp.StatusCode)
	}

	var out struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(bodyBytes, &out); err != nil {
		slog.Error("inference response decode error",
			slog.String("op", "generate"),
			slog.String("model", c.model),
			slog.Any("error", err))
		return "", fmt.Errorf("%w: decode generate response: %v", domain.ErrSchemaInvalid, err)
	}

	promptTokens := tokencount.CountOrEstimateDefault(prompt, c.model)
	completionTokens := tokencount.CountOrEstimateDefault(out.Response, c.model)
	observability.InferencePromptTokens.Observe(float64(promptTokens))
	observability.InferenceCompletionTokens.Observe(float64(completionTokens))
	slog.Debug("generation complete",
		slog.String("model", c.model),
		slog.Int("prompt_tokens", promptTokens),
		slog.Int("completion_tokens", completionTokens),
		slog.Duration("elapsed", time.Since(start)))
	return out.Response, nil
}

// Models lists the model names the endpoint currently serves.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("build tags request: %w", err)
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	observability.InferenceRequestsTotal.WithLabelValues("ollama", "tags").Inc()
	observability.InferenceRequestDuration.WithLabelValues("ollama", "tags").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, transportErr("tags", err)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read tags response: %v", domain.ErrInferenceUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("inference tags non-2xx",
			slog.Int("status", resp.StatusCode),
			slog.String("endpoint", c.baseURL+"/api/tags"),
			slog.String("body", snippet(bodyBytes)))
		return nil, fmt.Errorf("%w: tags status %d", domain.ErrInferenceUnavailable, resp.StatusCode)
	}

	var out struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(bodyBytes, &out); err != nil {
		return nil, fmt.Errorf("%w: decode tags response: %v", domain.ErrSchemaInvalid, err)
	}
	names := make([]string, 0, len(out.Models))
	for _, m := range out.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// transportErr maps a round-trip failure onto the domain sentinels.
// Cancellation passes through untouched so callers can tell caller-side
// aborts from endpoint trouble.
func transportErr(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %s: %v", domain.ErrUpstreamTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrInferenceUnavailable, op, err)
}

func snippet(b []byte) string {
	if len(b) > 512 {
		b = b[:512]
	}
	return string(b)
}
