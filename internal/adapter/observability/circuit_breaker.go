package observability

import (
	"fmt"
	"sync"
	"time"
)

// CircuitBreakerState is the lifecycle of a breaker.
type CircuitBreakerState int

const (
	// StateClosed allows all calls.
	StateClosed CircuitBreakerState = iota
	// StateOpen rejects calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen allows a few probe calls to test recovery.
	StateHalfOpen
)

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = fmt.Errorf("circuit breaker open")

// CircuitBreaker guards a slow downstream (the inference endpoint) from
// being hammered while it is failing. The guarded call runs outside the
// lock; inference calls are far too slow to serialize.
type CircuitBreaker struct {
	name        string
	maxFailures int
	timeout     time.Duration
	halfOpenMax int

	mu           sync.Mutex
	state        CircuitBreakerState
	failures     int
	successCount int
	inFlight     int
	lastFailure  time.Time
}

// NewCircuitBreaker creates a breaker that opens after maxFailures
// consecutive failures and probes again after timeout.
func NewCircuitBreaker(name string, maxFailures int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:        name,
		maxFailures: maxFailures,
		timeout:     timeout,
		state:       StateClosed,
		halfOpenMax: 3,
	}
}

// Call runs fn under breaker protection. A rejected call returns
// ErrCircuitOpen without invoking fn.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.begin(); err != nil {
		return err
	}
	err := fn()
	cb.finish(err)
	return err
}

func (cb *CircuitBreaker) begin() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastFailure) >= cb.timeout {
		cb.state = StateHalfOpen
		cb.successCount = 0
		cb.inFlight = 0
	}

	switch cb.state {
	case StateClosed:
	case StateHalfOpen:
		if cb.inFlight >= cb.halfOpenMax {
			cb.record()
			return fmt.Errorf("%w: %s half-open probe limit reached", ErrCircuitOpen, cb.name)
		}
	default:
		cb.record()
		return fmt.Errorf("%w: %s", ErrCircuitOpen, cb.name)
	}
	cb.inFlight++
	cb.record()
	return nil
}

func (cb *CircuitBreaker) finish(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.inFlight > 0 {
		cb.inFlight--
	}
	if err != nil {
		cb.failures++
		cb.lastFailure = time.Now()
		if cb.failures >= cb.maxFailures {
			cb.state = StateOpen
		}
	} else {
		switch cb.state {
		case StateClosed:
			cb.failures = 0
		case StateHalfOpen:
			cb.successCount++
			if cb.successCount >= cb.halfOpenMax {
				cb.state = StateClosed
				cb.successCount = 0
				cb.failures = 0
			}
		}
	}
	cb.record()
}

// record publishes the current state; callers hold cb.mu.
func (cb *CircuitBreaker) record() {
	CircuitBreakerStateGauge.WithLabelValues(cb.name).Set(float64(cb.state))
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset forces the breaker back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.successCount = 0
	cb.record()
}
