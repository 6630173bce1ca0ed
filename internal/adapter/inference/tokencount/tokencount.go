// Package tokencount provides token counting for inference calls.
//
// It uses tiktoken-go, a Go port of OpenAI's tiktoken library, to count
// tokens for the model families local endpoints commonly serve. This enables
// prompt-size logging and usage metrics without calling the endpoint.
package tokencount

import (
	"strings"
	"sync"

	"log/slog"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Counter provides thread-safe token counting for inference models.
type Counter struct {
	encodingCache map[string]*tiktoken.Tiktoken
	mu            sync.RWMutex
}

// NewCounter creates a new token counter instance.
func NewCounter() *Counter {
	return &Counter{
		encodingCache: make(map[string]*tiktoken.Tiktoken),
	}
}

// DefaultCounter is a global token counter instance.
var DefaultCounter = NewCounter()

// getEncodingForModel returns the appropriate tiktoken encoding for a model.
// It caches encodings for performance.
func (c *Counter) getEncodingForModel(model string) (*tiktoken.Tiktoken, error) {
	normalizedModel := normalizeModelName(model)

	c.mu.RLock()
	if enc, ok := c.encodingCache[normalizedModel]; ok {
		c.mu.RUnlock()
		return enc, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if enc, ok := c.encodingCache[normalizedModel]; ok {
		return enc, nil
	}

	enc, err := tiktoken.EncodingForModel(normalizedModel)
	if err != nil {
		// Fall back to cl100k_base which approximates most modern models
		slog.Debug("falling back to cl100k_base encoding",
			slog.String("model", model),
			slog.String("normalized", normalizedModel),
			slog.Any("error", err))
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}

	c.encodingCache[normalizedModel] = enc
	return enc, nil
}

// normalizeModelName converts local model IDs to tiktoken-compatible names.
func normalizeModelName(model string) string {
	model = strings.ToLower(model)

	// Registry-style IDs carry a path prefix, e.g. "library/mistral:7b"
	if strings.Contains(model, "/") {
		parts := strings.Split(model, "/")
		model = parts[len(parts)-1]
	}

	// Drop the tag, e.g. "mistral:7b" or "llama3:latest"
	model = strings.SplitN(model, ":", 2)[0]

	// Map common model families to tiktoken-compatible names
	switch {
	case strings.Contains(model, "gpt-4"):
		return "gpt-4"
	case strings.Contains(model, "gpt-3.5"):
		return "gpt-3.5-turbo"
	case strings.Contains(model, "llama"):
		// Llama models use similar tokenization to GPT-4
		return "gpt-4"
	case strings.Contains(model, "mistral"), strings.Contains(model, "mixtral"):
		// Mistral models use similar tokenization
		return "gpt-4"
	case strings.Contains(model, "gemma"):
		// Gemma models use similar tokenization
		return "gpt-4"
	case strings.Contains(model, "qwen"):
		// Qwen models use similar tokenization
		return "gpt-4"
	case strings.Contains(model, "deepseek"):
		// DeepSeek models use similar tokenization
		return "gpt-4"
	case strings.Contains(model, "phi"):
		// Phi models use similar tokenization
		return "gpt-4"
	default:
		// Default to GPT-4 encoding for unknown models
		return "gpt-4"
	}
}

// CountTokens counts the number of tokens in a text string for a given model.
func (c *Counter) CountTokens(text, model string) (int, error) {
	enc, err := c.getEncodingForModel(model)
	if err != nil {
		return 0, err
	}

	tokens := enc.Encode(text, nil, nil)
	return len(tokens), nil
}

// CountOrEstimate counts tokens for text, falling back to a rough
// four-characters-per-token estimate when no encoding is available.
func (c *Counter) CountOrEstimate(text, model string) int {
	n, err := c.CountTokens(text, model)
	if err != nil {
		slog.Warn("failed to count tokens, using estimate",
			slog.String("model", model),
			slog.Any("error", err))
		return len(text) / 4
	}
	return n
}

// CountTokensDefault uses the default counter to count tokens.
func CountTokensDefault(text, model string) (int, error) {
	return DefaultCounter.CountTokens(text, model)
}

// CountOrEstimateDefault uses the default counter to count or estimate.
func CountOrEstimateDefault(text, model string) int {
	return DefaultCounter.CountOrEstimate(text, model)
}
