// Package registry implements the process-wide Connection Registry
// (spec.md §4.2): a table mapping ConnectionID to RegisteredConnection,
// supporting state/activity/metadata mutation and ANDed filter queries.
//
// The backing map is github.com/puzpuzpuz/xsync/v4's lock-free Map,
// the same structure an event bus would use for its subscriber table,
// generalised here to index connections by id.
package registry

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
)

// Protocol is the wire protocol a registered connection speaks.
type Protocol string

const (
	ProtocolHTTP10     Protocol = "HTTP/1.0"
	ProtocolHTTP11     Protocol = "HTTP/1.1"
	ProtocolHTTP2      Protocol = "HTTP/2"
	ProtocolHTTP3      Protocol = "HTTP/3"
	ProtocolWebSocket  Protocol = "WebSocket"
	ProtocolTLS        Protocol = "TLS"
	ProtocolTCP        Protocol = "TCP"
)

// State is a RegisteredConnection's lifecycle state.
type State string

const (
	StateIdle       State = "IDLE"
	StateConnecting State = "CONNECTING"
	StateConnected  State = "CONNECTED"
	StateInUse      State = "IN_USE"
	StateDraining   State = "DRAINING"
	StateClosing    State = "CLOSING"
	StateClosed     State = "CLOSED"
	StateError      State = "ERROR"
)

// Socket is the minimal transport capability a registered connection may
// (optionally) reference: Close plus local/remote addressing. It has no
// Read or Write methods. Implementations live in higher layers; the
// registry only stores the reference.
type Socket interface {
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	Close() error
}

// Counters tracks per-connection activity.
type Counters struct {
	BytesRead     uint64
	BytesWritten  uint64
	RequestCount  uint64
	ErrorCount    uint64
}

// RegisteredConnection is the registry's record for one connection.
type RegisteredConnection struct {
	ID       string
	Socket   Socket
	Host     string
	Port     int
	Protocol Protocol

	state atomic.Value // State

	CreatedAt      time.Time
	lastActivityAt atomic.Int64 // unix nano

	bytesReadCtr    atomic.Uint64
	bytesWrittenCtr atomic.Uint64
	requestCtr      atomic.Uint64
	errorCtr        atomic.Uint64

	metadata *xsync.Map[string, any]
}

func (c *RegisteredConnection) State() State {
	v, _ := c.state.Load().(State)
	return v
}

func (c *RegisteredConnection) setState(s State) {
	c.state.Store(s)
}

// LastActivityAt returns the last time activity was recorded, monotonic
// with respect to prior calls (spec.md §9 Open Question 2).
func (c *RegisteredConnection) LastActivityAt() time.Time {
	return time.Unix(0, c.lastActivityAt.Load())
}

func (c *RegisteredConnection) touch() {
	now := time.Now().UnixNano()
	for {
		prev := c.lastActivityAt.Load()
		if now <= prev {
			now = prev + 1
		}
		if c.lastActivityAt.CompareAndSwap(prev, now) {
			return
		}
	}
}

// Counters returns a snapshot of this connection's activity counters.
func (c *RegisteredConnection) Counters() Counters {
	return Counters{
		BytesRead:    c.bytesReadCtr.Load(),
		BytesWritten: c.bytesWrittenCtr.Load(),
		RequestCount: c.requestCtr.Load(),
		ErrorCount:   c.errorCtr.Load(),
	}
}

// Metadata returns the value stored under key, if any.
func (c *RegisteredConnection) Metadata(key string) (any, bool) {
	return c.metadata.Load(key)
}

// Registry is the process-wide connection table.
type Registry struct {
	conns *xsync.Map[string, *RegisteredConnection]
	seq   atomic.Uint64

	totalRegistered atomic.Uint64
	totalClosed     atomic.Uint64
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		conns: xsync.NewMap[string, *RegisteredConnection](),
	}
}

// Register adds a new connection in CONNECTING state and returns its id,
// formatted conn_<seq>_<epoch_ms> per spec.md §3. On the vanishingly
// rare chance that composition collides with an id already registered
// (a wrapped sequence counter racing the same millisecond), a uuid
// fragment disambiguates rather than clobbering the existing record.
func (r *Registry) Register(socket Socket, host string, port int, protocol Protocol) *RegisteredConnection {
	seq := r.seq.Add(1)
	id := fmt.Sprintf("conn_%d_%d", seq, time.Now().UnixMilli())
	if _, exists := r.conns.Load(id); exists {
		id = fmt.Sprintf("%s_%s", id, uuid.NewString()[:8])
	}

	conn := &RegisteredConnection{
		ID:        id,
		Socket:    socket,
		Host:      host,
		Port:      port,
		Protocol:  protocol,
		CreatedAt: time.Now(),
		metadata:  xsync.NewMap[string, any](),
	}
	conn.setState(StateConnecting)
	conn.lastActivityAt.Store(time.Now().UnixNano())

	r.conns.Store(id, conn)
	r.totalRegistered.Add(1)
	return conn
}

// Get returns the connection for id, if registered.
func (r *Registry) Get(id string) (*RegisteredConnection, bool) {
	return r.conns.Load(id)
}

// SetState transitions a connection's state. Returns false if id is not
// registered.
func (r *Registry) SetState(id string, state State) bool {
	conn, ok := r.conns.Load(id)
	if !ok {
		return false
	}
	conn.setState(state)
	return true
}

// UpdateActivity records bytes transferred and advances last-activity
// time. Returns false if id is not registered.
func (r *Registry) UpdateActivity(id string, bytesRead, bytesWritten uint64) bool {
	conn, ok := r.conns.Load(id)
	if !ok {
		return false
	}
	if bytesRead > 0 {
		conn.bytesReadCtr.Add(bytesRead)
	}
	if bytesWritten > 0 {
		conn.bytesWrittenCtr.Add(bytesWritten)
	}
	conn.touch()
	return true
}

// IncrementRequests bumps the request counter for id.
func (r *Registry) IncrementRequests(id string) bool {
	conn, ok := r.conns.Load(id)
	if !ok {
		return false
	}
	conn.requestCtr.Add(1)
	return true
}

// IncrementErrors bumps the error counter for id.
func (r *Registry) IncrementErrors(id string) bool {
	conn, ok := r.conns.Load(id)
	if !ok {
		return false
	}
	conn.errorCtr.Add(1)
	return true
}

// UpdateMetadata sets a typed key-value entry on the connection's opaque
// metadata bag.
func (r *Registry) UpdateMetadata(id, key string, value any) bool {
	conn, ok := r.conns.Load(id)
	if !ok {
		return false
	}
	conn.metadata.Store(key, value)
	return true
}

// Unregister removes a connection from the table. Idempotent.
func (r *Registry) Unregister(id string) {
	if _, ok := r.conns.LoadAndDelete(id); ok {
		r.totalClosed.Add(1)
	}
}

// Filter selects connections by ANDed fields, evaluated against now.
type Filter struct {
	Host        string
	Port        int
	HasPort     bool
	Protocol    Protocol
	HasProtocol bool
	State       State
	HasState    bool
	MinAge      time.Duration
	MaxAge      time.Duration
	HasMaxAge   bool
	MinIdleTime time.Duration
}

func (f Filter) matches(c *RegisteredConnection, now time.Time) bool {
	if f.Host != "" && c.Host != f.Host {
		return false
	}
	if f.HasPort && c.Port != f.Port {
		return false
	}
	if f.HasProtocol && c.Protocol != f.Protocol {
		return false
	}
	if f.HasState && c.State() != f.State {
		return false
	}
	age := now.Sub(c.CreatedAt)
	if f.MinAge > 0 && age < f.MinAge {
		return false
	}
	if f.HasMaxAge && age > f.MaxAge {
		return false
	}
	if f.MinIdleTime > 0 && now.Sub(c.LastActivityAt()) < f.MinIdleTime {
		return false
	}
	return true
}

// Query returns every connection matching filter, ANDed across set
// fields.
func (r *Registry) Query(filter Filter) []*RegisteredConnection {
	now := time.Now()
	var out []*RegisteredConnection
	r.conns.Range(func(_ string, c *RegisteredConnection) bool {
		if filter.matches(c, now) {
			out = append(out, c)
		}
		return true
	})
	return out
}

// Stats is aggregate registry statistics.
type Stats struct {
	Total         int
	ByState       map[State]int
	ByProtocol    map[Protocol]int
	TotalRegistered uint64
	TotalClosed     uint64
}

// Statistics computes totals and per-state/per-protocol counts.
func (r *Registry) Statistics() Stats {
	stats := Stats{
		ByState:    make(map[State]int),
		ByProtocol: make(map[Protocol]int),
	}
	r.conns.Range(func(_ string, c *RegisteredConnection) bool {
		stats.Total++
		stats.ByState[c.State()]++
		stats.ByProtocol[c.Protocol]++
		return true
	})
	stats.TotalRegistered = r.totalRegistered.Load()
	stats.TotalClosed = r.totalClosed.Load()
	return stats
}
