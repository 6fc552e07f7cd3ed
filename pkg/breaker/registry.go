package breaker

import "sync"

// Registry indexes breakers by dependency name, creating one lazily
// on first use with a shared default config.
type Registry struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry builds a Registry whose breakers default to cfg unless
// GetWithConfig is used.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*CircuitBreaker)}
}

// Get returns the named breaker, creating it with the registry's
// default config if it does not exist yet.
func (r *Registry) Get(name string) *CircuitBreaker {
	return r.GetWithConfig(name, r.cfg)
}

// GetWithConfig returns the named breaker, creating it with cfg if it
// does not exist yet (cfg is ignored if the breaker already exists).
func (r *Registry) GetWithConfig(name string, cfg Config) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb := New(name, cfg)
	r.breakers[name] = cb
	return cb
}

// All returns a snapshot of every breaker currently registered.
func (r *Registry) All() map[string]*CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*CircuitBreaker, len(r.breakers))
	for k, v := range r.breakers {
		out[k] = v
	}
	return out
}

// Remove drops the named breaker from the registry.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.breakers, name)
}
