// Package pool implements the Connection Pool (spec.md §4.8): a
// per-(host,port) pool of outbound connections with min/max sizing,
// idle/max-lifetime reaping, and acquire/release/remove wired into
// pkg/registry and pkg/tracker.
//
// The reserve-a-slot-then-dial pattern in Acquire keeps
// `pool.len() <= max_connections` true even while a slow dial is in
// flight, a scan-then-claim discipline over the pool's slots rather
// than locking for the whole request.
package pool

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/thushan/netlayer/internal/netbus"
	"github.com/thushan/netlayer/pkg/registry"
	"github.com/thushan/netlayer/pkg/tracker"
)

// State is a PooledConnection's lifecycle state.
type State string

const (
	StateConnecting State = "CONNECTING"
	StateIdle       State = "IDLE"
	StateInUse      State = "IN_USE"
	StateClosing    State = "CLOSING"
	StateClosed     State = "CLOSED"
	StateError      State = "ERROR"
)

// Dialer opens a transport connection to host:port, honouring ctx and
// timeout. Swappable for tests and for start_tls upgrade chains.
type Dialer func(ctx context.Context, host string, port int, timeout time.Duration) (net.Conn, error)

// DefaultDialer dials plain TCP with net.Dialer.
func DefaultDialer(ctx context.Context, host string, port int, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
}

// Config tunes one HostConnectionPool.
type Config struct {
	MinConnections      int
	MaxConnections      int
	IdleTimeout         time.Duration
	MaxLifetime         time.Duration
	ConnectionTimeout   time.Duration
	HealthCheckInterval time.Duration
}

// DefaultConfig mirrors spec.md §6's pool defaults.
func DefaultConfig() Config {
	return Config{
		MinConnections:      0,
		MaxConnections:      100,
		IdleTimeout:         60 * time.Second,
		MaxLifetime:         600 * time.Second,
		ConnectionTimeout:   30 * time.Second,
		HealthCheckInterval: 10 * time.Second,
	}
}

// PooledConnection is one pool-owned connection.
type PooledConnection struct {
	ID   string
	Conn net.Conn
	Host string
	Port int

	CreatedAt  time.Time
	lastUsedAt time.Time

	RequestCount int64
	RegistryID   string

	state             atomic.Value // State
	trackerAllocated  bool
}

// State returns the connection's current lifecycle state.
func (c *PooledConnection) State() State {
	v, _ := c.state.Load().(State)
	return v
}

func (c *PooledConnection) setState(s State) { c.state.Store(s) }

// LastUsedAt returns when the connection was last acquired or
// released.
func (c *PooledConnection) LastUsedAt() time.Time { return c.lastUsedAt }

// HostConnectionPool is the pool for exactly one (host, port) pair.
type HostConnectionPool struct {
	host string
	port int
	cfg  Config

	dialer   Dialer
	registry *registry.Registry
	tracker  *tracker.ResourceTracker
	bus      *netbus.Bus

	mu    sync.Mutex
	conns []*PooledConnection
	seq   atomic.Uint64

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	closed        atomic.Bool
}

// NewHostPool builds a pool for host:port. registry/tracker/bus may
// all be nil, in which case the corresponding integration is skipped.
func NewHostPool(host string, port int, cfg Config, dialer Dialer, reg *registry.Registry, trk *tracker.ResourceTracker, bus *netbus.Bus) *HostConnectionPool {
	if dialer == nil {
		dialer = DefaultDialer
	}
	p := &HostConnectionPool{
		host:        host,
		port:        port,
		cfg:         cfg,
		dialer:      dialer,
		registry:    reg,
		tracker:     trk,
		bus:         bus,
		stopCleanup: make(chan struct{}),
	}
	if cfg.HealthCheckInterval > 0 {
		p.cleanupTicker = time.NewTicker(cfg.HealthCheckInterval)
		go p.cleanupLoop()
	}
	return p
}

func (p *HostConnectionPool) nextID() string {
	return p.host + "_" + strconv.Itoa(p.port) + "_" + strconv.FormatUint(p.seq.Add(1), 10)
}

func (p *HostConnectionPool) isValidLocked(c *PooledConnection, now time.Time) bool {
	if p.cfg.MaxLifetime > 0 && now.Sub(c.CreatedAt) > p.cfg.MaxLifetime {
		return false
	}
	if p.cfg.IdleTimeout > 0 && now.Sub(c.lastUsedAt) > p.cfg.IdleTimeout {
		return false
	}
	return true
}

// Acquire implements spec.md §4.8's three-step algorithm: reuse a
// valid idle connection, else dial a new one if under max_connections,
// else report exhaustion.
func (p *HostConnectionPool) Acquire(ctx context.Context, timeout time.Duration) (*PooledConnection, bool) {
	now := time.Now()

	p.mu.Lock()
	for _, c := range p.conns {
		if c.State() == StateIdle && p.isValidLocked(c, now) {
			c.setState(StateInUse)
			c.lastUsedAt = now
			c.RequestCount++
			regID := c.RegistryID
			p.mu.Unlock()

			if p.registry != nil && regID != "" {
				p.registry.SetState(regID, registry.StateInUse)
				p.registry.IncrementRequests(regID)
			}
			p.emit(netbus.EventPoolAcquired, c.ID)
			return c, true
		}
	}

	if len(p.conns) >= p.cfg.MaxConnections {
		p.mu.Unlock()
		p.emit(netbus.EventPoolExhausted, "")
		return nil, false
	}

	if p.tracker != nil && !p.tracker.Allocate(tracker.ResourceConnections, 1) {
		p.mu.Unlock()
		p.emit(netbus.EventPoolExhausted, "")
		return nil, false
	}

	placeholder := &PooledConnection{
		ID:               p.nextID(),
		Host:             p.host,
		Port:             p.port,
		CreatedAt:        now,
		lastUsedAt:       now,
		trackerAllocated: p.tracker != nil,
	}
	placeholder.setState(StateConnecting)
	p.conns = append(p.conns, placeholder)
	p.mu.Unlock()

	dialTimeout := timeout
	if dialTimeout <= 0 {
		dialTimeout = p.cfg.ConnectionTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, err := p.dialer(dialCtx, p.host, p.port, dialTimeout)
	if err != nil {
		p.mu.Lock()
		p.spliceLocked(placeholder.ID)
		p.mu.Unlock()
		if placeholder.trackerAllocated {
			p.tracker.Release(tracker.ResourceConnections, 1)
		}
		return nil, false
	}

	proto := registry.ProtocolTCP
	if p.port == 443 {
		proto = registry.ProtocolTLS
	}

	p.mu.Lock()
	placeholder.Conn = conn
	placeholder.setState(StateInUse)
	placeholder.RequestCount = 1
	if p.registry != nil {
		rc := p.registry.Register(conn, p.host, p.port, proto)
		p.registry.SetState(rc.ID, registry.StateInUse)
		p.registry.IncrementRequests(rc.ID)
		placeholder.RegistryID = rc.ID
	}
	p.mu.Unlock()

	p.emit(netbus.EventPoolAcquired, placeholder.ID)
	return placeholder, true
}

// Release returns c to the pool as idle.
func (p *HostConnectionPool) Release(c *PooledConnection) {
	p.mu.Lock()
	c.setState(StateIdle)
	c.lastUsedAt = time.Now()
	regID := c.RegistryID
	p.mu.Unlock()

	if p.registry != nil && regID != "" {
		p.registry.SetState(regID, registry.StateIdle)
	}
	p.emit(netbus.EventPoolReleased, c.ID)
}

// Remove closes c's socket, unregisters it and splices it out of the
// pool.
func (p *HostConnectionPool) Remove(c *PooledConnection) {
	p.mu.Lock()
	p.spliceLocked(c.ID)
	p.mu.Unlock()

	c.setState(StateClosed)
	if c.Conn != nil {
		_ = c.Conn.Close()
	}
	if p.registry != nil && c.RegistryID != "" {
		p.registry.Unregister(c.RegistryID)
	}
	if c.trackerAllocated && p.tracker != nil {
		p.tracker.Release(tracker.ResourceConnections, 1)
	}
}

func (p *HostConnectionPool) spliceLocked(id string) {
	for i, c := range p.conns {
		if c.ID == id {
			p.conns = append(p.conns[:i], p.conns[i+1:]...)
			return
		}
	}
}

// Len reports the number of connections currently held (of any
// state).
func (p *HostConnectionPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

func (p *HostConnectionPool) cleanupLoop() {
	for {
		select {
		case <-p.cleanupTicker.C:
			p.cleanupOnce()
		case <-p.stopCleanup:
			return
		}
	}
}

func (p *HostConnectionPool) cleanupOnce() {
	now := time.Now()

	p.mu.Lock()
	var stale []*PooledConnection
	kept := p.conns[:0:0]
	for _, c := range p.conns {
		if c.State() != StateInUse && !p.isValidLocked(c, now) {
			stale = append(stale, c)
			continue
		}
		kept = append(kept, c)
	}
	p.conns = kept
	p.mu.Unlock()

	for _, c := range stale {
		c.setState(StateClosed)
		if c.Conn != nil {
			_ = c.Conn.Close()
		}
		if p.registry != nil && c.RegistryID != "" {
			p.registry.Unregister(c.RegistryID)
		}
		if c.trackerAllocated && p.tracker != nil {
			p.tracker.Release(tracker.ResourceConnections, 1)
		}
	}
}

// CloseAll stops the cleanup timer then closes every connection in
// the pool regardless of state, returning every socket-close error
// aggregated via go.uber.org/multierr rather than discarding them.
func (p *HostConnectionPool) CloseAll() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if p.cleanupTicker != nil {
		p.cleanupTicker.Stop()
		close(p.stopCleanup)
	}

	p.mu.Lock()
	conns := p.conns
	p.conns = nil
	p.mu.Unlock()

	var closeErr error
	for _, c := range conns {
		c.setState(StateClosed)
		if c.Conn != nil {
			closeErr = multierr.Append(closeErr, c.Conn.Close())
		}
		if p.registry != nil && c.RegistryID != "" {
			p.registry.Unregister(c.RegistryID)
		}
		if c.trackerAllocated && p.tracker != nil {
			p.tracker.Release(tracker.ResourceConnections, 1)
		}
	}
	return closeErr
}

func (p *HostConnectionPool) emit(eventType netbus.EventType, connID string) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(netbus.NetworkEvent{Type: eventType, ConnectionID: connID})
}
