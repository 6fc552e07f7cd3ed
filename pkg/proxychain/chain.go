// Package proxychain implements the Proxy Chain (spec.md §4.10, §6):
// an ordered, mutable chain of HTTP/HTTPS/SOCKS4/SOCKS5 hops that
// tunnels a connection through to an origin target, one protocol
// handshake per hop.
//
// TLS termination is delegated to a pluggable TLSUpgrader — the
// spec's "start_tls primitive" — rather than this package driving
// crypto/tls directly, matching spec.md's Non-goals (no
// cryptographically audited TLS stack implemented here) and the
// teacher's convention of keeping protocol handlers thin wrappers
// over explicit net.Conn rather than owning connection setup
// end-to-end (internal/adapter/proxy/core).
//
// ConnectDeduped folds concurrent identical-target dials into one
// in-flight attempt via golang.org/x/net's sibling module
// golang.org/x/sync's singleflight.Group.
package proxychain

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/thushan/netlayer/internal/neterr"
)

// Protocol is the tunneling method one hop speaks.
type Protocol string

const (
	ProtocolHTTP   Protocol = "HTTP"
	ProtocolHTTPS  Protocol = "HTTPS"
	ProtocolSOCKS4 Protocol = "SOCKS4"
	ProtocolSOCKS5 Protocol = "SOCKS5"
)

// Auth is optional per-hop credentials.
type Auth struct {
	User string
	Pass string
}

// Hop is one ordered proxy in the chain.
type Hop struct {
	Protocol Protocol
	Host     string
	Port     int
	Auth     *Auth
}

func (h Hop) addr() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}

// Dialer opens the first hop's transport connection.
type Dialer func(ctx context.Context, network, addr string) (net.Conn, error)

// DefaultDialer dials with net.Dialer.
func DefaultDialer(ctx context.Context, network, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, addr)
}

// TLSUpgrader upgrades a plain connection to TLS for a given hostname
// (the start_tls primitive — delegated, not implemented here).
type TLSUpgrader func(conn net.Conn, hostname string) (net.Conn, error)

// Chain is a mutable, ordered sequence of proxy hops.
type Chain struct {
	dialer     Dialer
	tlsUpgrade TLSUpgrader

	mu   sync.Mutex
	hops []Hop

	dials singleflight.Group
}

// New builds an empty Chain. dialer defaults to DefaultDialer when
// nil; tlsUpgrade may be nil if no hop ever uses ProtocolHTTPS.
func New(dialer Dialer, tlsUpgrade TLSUpgrader) *Chain {
	if dialer == nil {
		dialer = DefaultDialer
	}
	return &Chain{dialer: dialer, tlsUpgrade: tlsUpgrade}
}

// AddProxy appends hop to the end of the chain.
func (c *Chain) AddProxy(hop Hop) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hops = append(c.hops, hop)
}

// RemoveProxy removes the hop at index.
func (c *Chain) RemoveProxy(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.hops) {
		return neterr.NewInternalError("proxychain.RemoveProxy: index out of range", nil)
	}
	c.hops = append(c.hops[:index], c.hops[index+1:]...)
	return nil
}

// Clear removes every hop.
func (c *Chain) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hops = nil
}

// Hops returns a snapshot of the current chain.
func (c *Chain) Hops() []Hop {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Hop, len(c.hops))
	copy(out, c.hops)
	return out
}

// Connect dials chain[0], upgrades to TLS if it is an HTTPS hop, then
// tunnels through every hop in order to targetHost:targetPort. An
// empty chain dials the target directly. On any error the partially
// established socket is closed before the error is returned.
func (c *Chain) Connect(ctx context.Context, targetHost string, targetPort int) (net.Conn, []Hop, time.Duration, error) {
	start := time.Now()
	hops := c.Hops()

	if len(hops) == 0 {
		addr := net.JoinHostPort(targetHost, strconv.Itoa(targetPort))
		conn, err := c.dialer(ctx, "tcp", addr)
		if err != nil {
			return nil, nil, 0, neterr.NewTransportError("dial", targetHost, targetPort, err)
		}
		return conn, hops, time.Since(start), nil
	}

	conn, err := c.dialer(ctx, "tcp", hops[0].addr())
	if err != nil {
		return nil, nil, 0, neterr.NewTransportError("dial", hops[0].Host, hops[0].Port, err)
	}

	if hops[0].Protocol == ProtocolHTTPS {
		if c.tlsUpgrade == nil {
			conn.Close()
			return nil, nil, 0, neterr.NewInternalError("proxychain: HTTPS hop requires a TLSUpgrader", nil)
		}
		upgraded, err := c.tlsUpgrade(conn, hops[0].Host)
		if err != nil {
			conn.Close()
			return nil, nil, 0, neterr.NewTransportError("tls_handshake", hops[0].Host, hops[0].Port, err)
		}
		conn = upgraded
	}

	for i := range hops {
		nextHost, nextPort := targetHost, targetPort
		if i+1 < len(hops) {
			nextHost, nextPort = hops[i+1].Host, hops[i+1].Port
		}
		if err := tunnel(ctx, conn, hops[i], nextHost, nextPort); err != nil {
			conn.Close()
			return nil, nil, 0, err
		}
	}

	return conn, hops, time.Since(start), nil
}

type connectResult struct {
	conn     net.Conn
	hops     []Hop
	duration time.Duration
}

// ConnectDeduped behaves like Connect, except concurrent calls for the
// same targetHost:targetPort fold into a single in-flight Connect:
// only the first caller dials and tunnels, every other caller
// concurrently requesting the same target shares its result. Callers
// that receive a shared net.Conn must coordinate their own use of it;
// this is intended for bursts of identical connection setup (e.g. a
// stampede of callers opening the same upstream at once), not as a
// substitute for pkg/pool's per-caller connection ownership.
func (c *Chain) ConnectDeduped(ctx context.Context, targetHost string, targetPort int) (net.Conn, []Hop, time.Duration, error) {
	key := net.JoinHostPort(targetHost, strconv.Itoa(targetPort))
	v, err, _ := c.dials.Do(key, func() (any, error) {
		conn, hops, dur, err := c.Connect(ctx, targetHost, targetPort)
		if err != nil {
			return nil, err
		}
		return connectResult{conn: conn, hops: hops, duration: dur}, nil
	})
	if err != nil {
		return nil, nil, 0, err
	}
	res := v.(connectResult)
	return res.conn, res.hops, res.duration, nil
}

func tunnel(ctx context.Context, conn net.Conn, hop Hop, nextHost string, nextPort int) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
		defer conn.SetDeadline(time.Time{})
	}

	switch hop.Protocol {
	case ProtocolHTTP, ProtocolHTTPS:
		return httpConnect(conn, hop, nextHost, nextPort)
	case ProtocolSOCKS5:
		return socks5Connect(conn, hop, nextHost, nextPort)
	case ProtocolSOCKS4:
		return socks4Connect(conn, hop, nextHost, nextPort)
	default:
		return neterr.NewProtocolError("tunnel", "unknown proxy protocol: "+string(hop.Protocol), nil)
	}
}
