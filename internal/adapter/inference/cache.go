// Package inference provides inference client wrappers and helpers used by
// the application around the concrete endpoint clients.
package inference

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/talentsift/screener/internal/domain"
)

// responseCacheClient wraps an InferenceClient and caches generation output
// by prompt hash. It is safe for concurrent use.
// Only Generate is cached; Models is passed through.
// Cache is a simple LRU-ish with FIFO eviction for simplicity.

type responseCacheClient struct {
	base     domain.InferenceClient
	capacity int
	mu       sync.RWMutex
	m        map[string]string
	ord      []string
}

// NewResponseCache wraps base with a generation cache of given capacity
// (number of entries). If capacity <= 0, base is returned unmodified.
func NewResponseCache(base domain.InferenceClient, capacity int) domain.InferenceClient {
	if capacity <= 0 || base == nil {
		return base
	}
	return &responseCacheClient{base: base, capacity: capacity, m: make(map[string]string), ord: make([]string, 0, capacity)}
}

func (c *responseCacheClient) Generate(ctx domain.Context, prompt string, opts domain.GenerateOptions) (string, error) {
	k := keyFor(prompt, opts)
	c.mu.RLock()
	v, ok := c.m[k]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}
	out, err := c.base.Generate(ctx, prompt, opts)
	if err != nil {
		return "", err
	}
	c.put(k, out)
	return out, nil
}

func (c *responseCacheClient) Models(ctx domain.Context) ([]string, error) {
	return c.base.Models(ctx)
}

func (c *responseCacheClient) put(k, out string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.m[k]; exists {
		c.m[k] = out
		return
	}
	if len(c.ord) >= c.capacity {
		old := c.ord[0]
		c.ord = c.ord[1:]
		delete(c.m, old)
	}
	c.m[k] = out
	c.ord = append(c.ord, k)
}

func keyFor(prompt string, opts domain.GenerateOptions) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(prompt)))
	fmt.Fprintf(h, "|t=%.4f|rp=%.4f", opts.Temperature, opts.RepeatPenalty)
	return hex.EncodeToString(h.Sum(nil))
}
