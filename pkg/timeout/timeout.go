// Package timeout implements spec.md §5's cancellation primitives:
// with_timeout races an operation against a timer, TimeoutManager
// tracks named timeouts so a later clear releases them, and Deadline
// carries a running time budget across a chain of sub-operations.
//
// with_timeout's race-an-operation-against-a-timer shape follows the
// teacher's context.Context-first convention throughout
// internal/adapter/proxy (every blocking call takes ctx and is
// expected to return promptly on ctx.Done()).
package timeout

import (
	"context"
	"sync"
	"time"

	"github.com/thushan/netlayer/internal/neterr"
)

// WithTimeout races op against a ms-duration timer. If op finishes
// first, its result is returned. If the timer fires first, op's
// goroutine is left running (op must itself observe ctx.Done() to
// stop promptly) and a TimingError is returned.
func WithTimeout(ctx context.Context, operation string, ms time.Duration, op func(ctx context.Context) error) error {
	subCtx, cancel := context.WithTimeout(ctx, ms)
	defer cancel()

	done := make(chan error, 1)
	start := time.Now()
	go func() {
		done <- op(subCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-subCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return neterr.NewTimingError(operation, ms, time.Since(start))
	}
}

// TimeoutManager tracks named, independently cancellable timers.
type TimeoutManager struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewManager builds an empty TimeoutManager.
func NewManager() *TimeoutManager {
	return &TimeoutManager{timers: make(map[string]*time.Timer)}
}

// Set starts a timer named id that calls onExpire after ms unless
// Clear(id) runs first. Re-using an id replaces (and stops) the prior
// timer.
func (m *TimeoutManager) Set(id string, ms time.Duration, onExpire func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.timers[id]; ok {
		existing.Stop()
	}
	m.timers[id] = time.AfterFunc(ms, func() {
		m.mu.Lock()
		delete(m.timers, id)
		m.mu.Unlock()
		onExpire()
	})
}

// Clear stops and releases the named timer. Returns false if id was
// not tracked (already fired or never set).
func (m *TimeoutManager) Clear(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.timers[id]
	if !ok {
		return false
	}
	t.Stop()
	delete(m.timers, id)
	return true
}

// Count returns the number of timers currently tracked.
func (m *TimeoutManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Deadline carries a running time budget across a chain of
// sub-operations, per spec.md §5.
type Deadline struct {
	endTime time.Time
}

// NewDeadline builds a Deadline that expires after budget elapses.
func NewDeadline(budget time.Duration) Deadline {
	return Deadline{endTime: time.Now().Add(budget)}
}

// Remaining returns the time left until the deadline, floored at 0.
func (d Deadline) Remaining() time.Duration {
	left := time.Until(d.endTime)
	if left < 0 {
		return 0
	}
	return left
}

// Expired reports whether the deadline has passed.
func (d Deadline) Expired() bool {
	return !time.Now().Before(d.endTime)
}

// Context derives a context.Context bound to whichever is sooner:
// parent's own deadline or d's end time.
func (d Deadline) Context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithDeadline(parent, d.endTime)
}

// Check returns a TimingError if the deadline has already passed for
// operation, nil otherwise — used between sub-operations in a chain
// to fail fast once the running budget is spent.
func (d Deadline) Check(operation string, budget time.Duration) error {
	if d.Expired() {
		return neterr.NewTimingError(operation, budget, budget-d.Remaining())
	}
	return nil
}
