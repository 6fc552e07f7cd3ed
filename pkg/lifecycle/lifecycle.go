// Package lifecycle implements the Lifecycle Manager (spec.md §4.5):
// priority-ordered hooks registered per phase, run sequentially by
// ExecutePhase. A hook that returns an error is logged and does not
// prevent the remaining hooks for that phase from running.
//
// The priority-sorted-slice-under-a-mutex shape keeps hooks in a
// slice guarded by a single mutex rather than reaching for a heap —
// appropriate since hook lists are short and mutated rarely compared
// to how often ExecutePhase runs.
package lifecycle

import (
	"context"
	"sort"
	"sync"

	"github.com/thushan/netlayer/internal/logger"
)

// Phase names one of the eleven lifecycle checkpoints spec.md §4.5
// names.
type Phase string

const (
	PhaseBeforeConnect  Phase = "beforeConnect"
	PhaseAfterConnect   Phase = "afterConnect"
	PhaseBeforeRequest  Phase = "beforeRequest"
	PhaseAfterRequest   Phase = "afterRequest"
	PhaseBeforeResponse Phase = "beforeResponse"
	PhaseAfterResponse  Phase = "afterResponse"
	PhaseBeforeClose    Phase = "beforeClose"
	PhaseAfterClose     Phase = "afterClose"
	PhaseOnError        Phase = "onError"
	PhaseOnTimeout      Phase = "onTimeout"
	PhaseOnIdle         Phase = "onIdle"
)

// Hook is a registered lifecycle callback. ConnectionID identifies
// the connection the phase fired for; metadata carries phase-specific
// context (e.g. the error for onError, the request for beforeRequest).
type Hook func(ctx context.Context, connectionID string, metadata map[string]any) error

type registeredHook struct {
	priority int
	hook     Hook
}

// Manager holds the per-phase hook lists.
type Manager struct {
	mu    sync.RWMutex
	hooks map[Phase][]registeredHook
	log   *logger.StyledLogger
}

// New builds an empty Manager. log may be nil, in which case hook
// errors are silently dropped after execution continues.
func New(log *logger.StyledLogger) *Manager {
	return &Manager{
		hooks: make(map[Phase][]registeredHook),
		log:   log,
	}
}

// Register adds hook to phase with the given priority; higher
// priority hooks run first. Stable among equal priorities in
// registration order.
func (m *Manager) Register(phase Phase, priority int, hook Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := append(m.hooks[phase], registeredHook{priority: priority, hook: hook})
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].priority > list[j].priority
	})
	m.hooks[phase] = list
}

// ExecutePhase runs every hook registered for phase, in priority
// order, sequentially. A hook error is logged and does not abort the
// remaining hooks.
func (m *Manager) ExecutePhase(ctx context.Context, phase Phase, connectionID string, metadata map[string]any) {
	m.mu.RLock()
	hooks := make([]registeredHook, len(m.hooks[phase]))
	copy(hooks, m.hooks[phase])
	m.mu.RUnlock()

	for _, rh := range hooks {
		if err := rh.hook(ctx, connectionID, metadata); err != nil {
			if m.log != nil {
				m.log.Error("lifecycle hook failed", "phase", string(phase), "connection_id", connectionID, "error", err)
			}
		}
	}
}

// Count returns the number of hooks registered for phase.
func (m *Manager) Count(phase Phase) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hooks[phase])
}
