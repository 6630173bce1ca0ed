package redpanda

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// AdaptivePoller adjusts the consumer's idle interval from poll outcomes:
// repeated failures back the loop off, repeated successes speed it up.
type AdaptivePoller struct {
	mu                 sync.RWMutex
	baseInterval       time.Duration
	maxInterval        time.Duration
	minInterval        time.Duration
	backoffFactor      float64
	successCount       int
	failureCount       int
	consecutiveSuccess int
	consecutiveFailure int
	lastPollTime       time.Time
	healthy            bool
}

// breakerThreshold is the consecutive failure count after which the poller
// pins the interval at its maximum until a poll succeeds.
const breakerThreshold = 10

// NewAdaptivePoller creates a poller around a base interval.
func NewAdaptivePoller(baseInterval time.Duration) *AdaptivePoller {
	return &AdaptivePoller{
		baseInterval:  baseInterval,
		maxInterval:   10 * time.Second,
		minInterval:   500 * time.Millisecond,
		backoffFactor: 1.2,
		healthy:       true,
	}
}

// NextInterval computes the next idle interval from the recorded outcomes.
func (ap *AdaptivePoller) NextInterval() time.Duration {
	ap.mu.Lock()
	defer ap.mu.Unlock()

	if ap.consecutiveFailure >= breakerThreshold {
		return ap.maxInterval
	}

	if ap.failureCount > ap.successCount {
		backoffMultiplier := math.Pow(ap.backoffFactor, float64(ap.consecutiveFailure))
		interval := float64(ap.baseInterval) * backoffMultiplier

		// Jitter spreads restarts of many workers hitting the same broker.
		jitter := interval * 0.1 * (0.5 - math.Mod(float64(time.Now().UnixNano()), 1.0))
		interval += jitter

		if interval > float64(ap.maxInterval) {
			interval = float64(ap.maxInterval)
		}
		return time.Duration(interval)
	}

	successMultiplier := math.Max(0.5, 1.0/float64(ap.consecutiveSuccess+1))
	interval := float64(ap.baseInterval) * successMultiplier
	if interval < float64(ap.minInterval) {
		interval = float64(ap.minInterval)
	}
	return time.Duration(interval)
}

// RecordSuccess records a successful poll.
func (ap *AdaptivePoller) RecordSuccess() {
	ap.mu.Lock()
	defer ap.mu.Unlock()

	ap.successCount++
	ap.consecutiveSuccess++
	ap.consecutiveFailure = 0
	ap.lastPollTime = time.Now()
	ap.healthy = true
}

// RecordFailure records a failed poll.
func (ap *AdaptivePoller) RecordFailure() {
	ap.mu.Lock()
	defer ap.mu.Unlock()

	ap.failureCount++
	ap.consecutiveFailure++
	ap.consecutiveSuccess = 0
	ap.lastPollTime = time.Now()
	ap.healthy = false

	if ap.consecutiveFailure == breakerThreshold {
		slog.Warn("poll circuit breaker tripped",
			slog.Int("consecutive_failures", ap.consecutiveFailure),
			slog.Duration("pinned_interval", ap.maxInterval))
	}
}

// IsHealthy reports whether the last poll succeeded.
func (ap *AdaptivePoller) IsHealthy() bool {
	ap.mu.RLock()
	defer ap.mu.RUnlock()
	return ap.healthy
}

// PollerStats is a snapshot of poll outcomes for the debug endpoints.
type PollerStats struct {
	SuccessCount       int           `json:"success_count"`
	FailureCount       int           `json:"failure_count"`
	ConsecutiveSuccess int           `json:"consecutive_success"`
	ConsecutiveFailure int           `json:"consecutive_failure"`
	SuccessRate        float64       `json:"success_rate"`
	Healthy            bool          `json:"healthy"`
	BaseInterval       time.Duration `json:"base_interval"`
	LastPollTime       time.Time     `json:"last_poll_time"`
}

// Stats returns a snapshot of the poller's counters.
func (ap *AdaptivePoller) Stats() PollerStats {
	ap.mu.RLock()
	defer ap.mu.RUnlock()

	total := ap.successCount + ap.failureCount
	rate := 0.0
	if total > 0 {
		rate = float64(ap.successCount) / float64(total)
	}
	return PollerStats{
		SuccessCount:       ap.successCount,
		FailureCount:       ap.failureCount,
		ConsecutiveSuccess: ap.consecutiveSuccess,
		ConsecutiveFailure: ap.consecutiveFailure,
		SuccessRate:        rate,
		Healthy:            ap.healthy,
		BaseInterval:       ap.baseInterval,
		LastPollTime:       ap.lastPollTime,
	}
}

// Reset clears the poller counters.
func (ap *AdaptivePoller) Reset() {
	ap.mu.Lock()
	defer ap.mu.Unlock()

	ap.successCount = 0
	ap.failureCount = 0
	ap.consecutiveSuccess = 0
	ap.consecutiveFailure = 0
	ap.healthy = true
}
