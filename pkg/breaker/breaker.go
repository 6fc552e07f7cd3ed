// Package breaker implements the Circuit Breaker (spec.md §4.9): a
// three-state machine (CLOSED/OPEN/HALF_OPEN) per named dependency,
// with a sliding failure window and a fixed recovery timeout before
// each HALF_OPEN probe.
//
// One breaker-shaped state machine lives per upstream name behind a
// mutex-guarded map (Registry); a per-name map fronts a general-purpose Call(fn) wrapper
// instead of being wired only to HTTP health checks, and HALF_OPEN
// tracks its own success counter rather than counting failures only.
package breaker

import (
	"fmt"
	"sync"
	"time"
)

// State is one of the three circuit states.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Config tunes one breaker's thresholds.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	WindowSize       time.Duration
}

// DefaultConfig mirrors spec.md §6's circuit breaker defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
		WindowSize:       10 * time.Second,
	}
}

// OpenError is returned by Call when the breaker is OPEN and
// next_attempt_at has not yet elapsed.
type OpenError struct {
	Name  string
	State State
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit %q is open", e.Name)
}

type transition struct {
	from, to State
}

// CircuitBreaker guards calls to one named dependency.
type CircuitBreaker struct {
	name string
	cfg  Config

	mu            sync.Mutex
	state         State
	failures      []time.Time
	successes     int
	nextAttemptAt time.Time
	pending       []transition

	onStateChange func(name string, from, to State)
}

// New builds a CircuitBreaker in the CLOSED state.
func New(name string, cfg Config) *CircuitBreaker {
	return &CircuitBreaker{name: name, cfg: cfg, state: StateClosed}
}

// Name returns the breaker's dependency name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// OnStateChange registers the callback invoked for every transition
// (replaces any previous callback).
func (cb *CircuitBreaker) OnStateChange(fn func(name string, from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

func (cb *CircuitBreaker) setStateLocked(to State) {
	if cb.state == to {
		return
	}
	cb.pending = append(cb.pending, transition{from: cb.state, to: to})
	cb.state = to
}

func (cb *CircuitBreaker) drainPendingLocked() []transition {
	p := cb.pending
	cb.pending = nil
	return p
}

func (cb *CircuitBreaker) notify(transitions []transition) {
	cb.mu.Lock()
	onChange := cb.onStateChange
	cb.mu.Unlock()

	if onChange == nil {
		return
	}
	for _, t := range transitions {
		onChange(cb.name, t.from, t.to)
	}
}

func (cb *CircuitBreaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-cb.cfg.WindowSize)
	i := 0
	for i < len(cb.failures) && cb.failures[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		cb.failures = cb.failures[i:]
	}
}

func (cb *CircuitBreaker) resetLocked() {
	cb.failures = nil
	cb.successes = 0
}

// Call invokes fn if the breaker allows it, recording the outcome and
// applying spec.md §4.9's state transitions. Returns OpenError without
// calling fn if the breaker is OPEN and not yet eligible to probe.
func (cb *CircuitBreaker) Call(fn func() error) error {
	now := time.Now()

	cb.mu.Lock()
	if cb.state == StateOpen {
		if now.Before(cb.nextAttemptAt) {
			cb.mu.Unlock()
			return &OpenError{Name: cb.name, State: StateOpen}
		}
		cb.setStateLocked(StateHalfOpen)
	}
	pending := cb.drainPendingLocked()
	cb.mu.Unlock()
	cb.notify(pending)

	err := fn()
	now = time.Now()

	cb.mu.Lock()
	if err != nil {
		cb.onFailureLocked(now)
	} else {
		cb.onSuccessLocked(now)
	}
	pending = cb.drainPendingLocked()
	cb.mu.Unlock()
	cb.notify(pending)

	return err
}

func (cb *CircuitBreaker) onFailureLocked(now time.Time) {
	switch cb.state {
	case StateClosed:
		cb.failures = append(cb.failures, now)
		cb.pruneLocked(now)
		if len(cb.failures) >= cb.cfg.FailureThreshold {
			cb.nextAttemptAt = now.Add(cb.cfg.Timeout)
			cb.setStateLocked(StateOpen)
		}
	case StateHalfOpen:
		cb.nextAttemptAt = now.Add(cb.cfg.Timeout)
		cb.successes = 0
		cb.setStateLocked(StateOpen)
	case StateOpen:
		// a call in flight when the breaker opened; leave next_attempt_at alone
	}
}

func (cb *CircuitBreaker) onSuccessLocked(now time.Time) {
	switch cb.state {
	case StateClosed:
		cb.pruneLocked(now)
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.resetLocked()
			cb.setStateLocked(StateClosed)
		}
	case StateOpen:
	}
}

// ForceOpen forces the breaker to OPEN, scheduling the next probe
// after cfg.Timeout.
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	cb.nextAttemptAt = time.Now().Add(cb.cfg.Timeout)
	cb.setStateLocked(StateOpen)
	pending := cb.drainPendingLocked()
	cb.mu.Unlock()
	cb.notify(pending)
}

// ForceClose forces the breaker to CLOSED and resets its counters.
func (cb *CircuitBreaker) ForceClose() {
	cb.mu.Lock()
	cb.resetLocked()
	cb.setStateLocked(StateClosed)
	pending := cb.drainPendingLocked()
	cb.mu.Unlock()
	cb.notify(pending)
}

// FailureCount returns the number of failures currently inside the
// sliding window.
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.pruneLocked(time.Now())
	return len(cb.failures)
}
