package pool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/thushan/netlayer/internal/netbus"
	"github.com/thushan/netlayer/pkg/registry"
	"github.com/thushan/netlayer/pkg/tracker"
)

type hostPort struct {
	host string
	port int
}

// ConnectionPoolManager indexes one HostConnectionPool per (host,
// port), constructing pools lazily on first use.
type ConnectionPoolManager struct {
	cfg      Config
	dialer   Dialer
	registry *registry.Registry
	tracker  *tracker.ResourceTracker
	bus      *netbus.Bus

	mu    sync.Mutex
	pools map[hostPort]*HostConnectionPool
}

// NewManager builds a ConnectionPoolManager sharing cfg/dialer and
// the optional registry/tracker/bus across every pool it creates.
func NewManager(cfg Config, dialer Dialer, reg *registry.Registry, trk *tracker.ResourceTracker, bus *netbus.Bus) *ConnectionPoolManager {
	return &ConnectionPoolManager{
		cfg:      cfg,
		dialer:   dialer,
		registry: reg,
		tracker:  trk,
		bus:      bus,
		pools:    make(map[hostPort]*HostConnectionPool),
	}
}

// PoolFor returns the pool for host:port, creating it if absent.
func (m *ConnectionPoolManager) PoolFor(host string, port int) *HostConnectionPool {
	key := hostPort{host, port}

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[key]; ok {
		return p
	}
	p := NewHostPool(host, port, m.cfg, m.dialer, m.registry, m.tracker, m.bus)
	m.pools[key] = p
	return p
}

// Acquire is a convenience wrapper around PoolFor(host,port).Acquire.
func (m *ConnectionPoolManager) Acquire(ctx context.Context, host string, port int, timeout time.Duration) (*PooledConnection, bool) {
	return m.PoolFor(host, port).Acquire(ctx, timeout)
}

// CloseAll tears down every pool the manager has created, aggregating
// every pool's close errors via go.uber.org/multierr into one error.
func (m *ConnectionPoolManager) CloseAll() error {
	m.mu.Lock()
	pools := make([]*HostConnectionPool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.Unlock()

	var err error
	for _, p := range pools {
		err = multierr.Append(err, p.CloseAll())
	}
	return err
}

// PoolCount returns the number of (host,port) pools created so far.
func (m *ConnectionPoolManager) PoolCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pools)
}

// UpstreamServer identifies one upstream target by id plus its
// dial coordinates.
type UpstreamServer struct {
	ID   string
	Host string
	Port int
}

// UpstreamConnectionManager is a thin façade over ConnectionPoolManager
// keyed by UpstreamServer instead of bare host/port pairs.
type UpstreamConnectionManager struct {
	manager *ConnectionPoolManager
}

// NewUpstreamConnectionManager wraps manager for UpstreamServer-keyed
// access.
func NewUpstreamConnectionManager(manager *ConnectionPoolManager) *UpstreamConnectionManager {
	return &UpstreamConnectionManager{manager: manager}
}

// Acquire dials or reuses a connection to server.
func (u *UpstreamConnectionManager) Acquire(ctx context.Context, server UpstreamServer, timeout time.Duration) (*PooledConnection, bool) {
	return u.manager.Acquire(ctx, server.Host, server.Port, timeout)
}

// Release returns a connection to server's pool.
func (u *UpstreamConnectionManager) Release(server UpstreamServer, c *PooledConnection) {
	u.manager.PoolFor(server.Host, server.Port).Release(c)
}

// Remove evicts a connection from server's pool.
func (u *UpstreamConnectionManager) Remove(server UpstreamServer, c *PooledConnection) {
	u.manager.PoolFor(server.Host, server.Port).Remove(c)
}
