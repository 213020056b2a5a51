// Package observability provides the per-connection circuit breaker.
package observability

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/odoo-poller/internal/domain"
)

// Defaults for the per-connection breaker.
const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 120 * time.Second
	DefaultSuccessThreshold = 2
)

// CircuitBreaker gates polling and retry delivery for one connection. The
// open -> half_open transition is lazy: it happens when the state is
// observed after the recovery timeout, not on a background timer.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	recoveryTimeout  time.Duration
	successThreshold int

	state         domain.CircuitState
	failureCount  int
	successCount  int
	lastFailureAt time.Time

	now func() time.Time
}

// NewCircuitBreaker returns a closed breaker with the given thresholds.
// Non-positive arguments fall back to the defaults.
func NewCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration, successThreshold int) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = DefaultRecoveryTimeout
	}
	if successThreshold <= 0 {
		successThreshold = DefaultSuccessThreshold
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		successThreshold: successThreshold,
		state:            domain.CircuitClosed,
		now:              time.Now,
	}
}

// State returns the current state, performing the lazy open -> half_open
// transition when the recovery timeout has elapsed.
func (cb *CircuitBreaker) State() domain.CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.observe()
	return cb.state
}

// FailureCount returns the consecutive-failure count driving the
// closed -> open transition.
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}

// Allow reports whether a cycle may run: true in closed and half_open.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.observe()
	return cb.state != domain.CircuitOpen
}

// observe applies the timeout-based transition. Callers hold cb.mu.
func (cb *CircuitBreaker) observe() {
	if cb.state == domain.CircuitOpen && cb.now().Sub(cb.lastFailureAt) >= cb.recoveryTimeout {
		cb.state = domain.CircuitHalfOpen
		cb.successCount = 0
		slog.Debug("circuit breaker half-open after recovery timeout",
			slog.Duration("recovery_timeout", cb.recoveryTimeout))
	}
}

// RecordSuccess notes a successful cycle. In half_open, reaching the
// success threshold closes the breaker; in closed it clears the failure
// count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case domain.CircuitClosed:
		cb.failureCount = 0
	case domain.CircuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.state = domain.CircuitClosed
			cb.failureCount = 0
			cb.successCount = 0
			slog.Info("circuit breaker closed after recovery",
				slog.Int("success_threshold", cb.successThreshold))
		}
	}
}

// RecordFailure notes a failed cycle. Reaching the failure threshold in
// closed, or any failure in half_open, opens the breaker.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	switch cb.state {
	case domain.CircuitClosed:
		if cb.failureCount >= cb.failureThreshold {
			cb.state = domain.CircuitOpen
			cb.lastFailureAt = cb.now()
			slog.Warn("circuit breaker opened",
				slog.Int("failure_count", cb.failureCount))
		}
	case domain.CircuitHalfOpen:
		cb.state = domain.CircuitOpen
		cb.lastFailureAt = cb.now()
		cb.successCount = 0
		slog.Warn("circuit breaker reopened from half-open",
			slog.Int("failure_count", cb.failureCount))
	}
}

// Reset forces the breaker closed with zeroed counts.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = domain.CircuitClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.lastFailureAt = time.Time{}
}

// LoadState rehydrates the breaker from persisted state. A breaker loaded
// open restarts its recovery timer from now: the process may have been down
// long enough that the persisted failure time no longer means anything.
func (cb *CircuitBreaker) LoadState(state domain.CircuitState, failures int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch state {
	case domain.CircuitOpen, domain.CircuitHalfOpen, domain.CircuitClosed:
		cb.state = state
	default:
		cb.state = domain.CircuitClosed
	}
	cb.failureCount = failures
	cb.successCount = 0
	if cb.state == domain.CircuitOpen {
		cb.lastFailureAt = cb.now()
	}
}
