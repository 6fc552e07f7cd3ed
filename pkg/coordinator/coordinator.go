// Package coordinator implements the Network Coordinator (spec.md
// §4.11): a façade binding the Connection Registry, Resource Tracker,
// Event Bus and Lifecycle Manager into the fixed six-step sequence
// every cross-cutting operation follows — precondition check, beforeX
// lifecycle, registry mutation, tracker allocate/release, event bus
// emit, afterX lifecycle.
//
// Each subsystem stays independently testable; the façade puts their
// sequencing behind one entrypoint per operation rather than leaving
// callers to sequence those calls themselves.
package coordinator

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thushan/netlayer/internal/netbus"
	"github.com/thushan/netlayer/pkg/lifecycle"
	"github.com/thushan/netlayer/pkg/registry"
	"github.com/thushan/netlayer/pkg/tracker"
)

// Coordinator binds the four subsystems spec.md §4.11 names.
type Coordinator struct {
	registry  *registry.Registry
	tracker   *tracker.ResourceTracker
	bus       *netbus.Bus
	lifecycle *lifecycle.Manager
}

// New builds a Coordinator over already-constructed subsystems.
func New(reg *registry.Registry, trk *tracker.ResourceTracker, bus *netbus.Bus, lc *lifecycle.Manager) *Coordinator {
	return &Coordinator{registry: reg, tracker: trk, bus: bus, lifecycle: lc}
}

func (c *Coordinator) emit(eventType netbus.EventType, connectionID string, data map[string]any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(netbus.NetworkEvent{
		Type:         eventType,
		ConnectionID: connectionID,
		Timestamp:    time.Now(),
		Data:         data,
	})
}

// OpenConnection registers socket under the Connection Registry and
// allocates one ResourceConnections unit. If the tracker denies the
// allocation, resource.pressure is emitted and nil is returned with
// nothing else touched — the registry entry is never created.
func (c *Coordinator) OpenConnection(ctx context.Context, socket registry.Socket, host string, port int, protocol registry.Protocol) *registry.RegisteredConnection {
	if c.tracker != nil && !c.tracker.Allocate(tracker.ResourceConnections, 1) {
		c.emit(netbus.EventResourcePressure, "", map[string]any{
			"reason": "connections_exhausted",
			"host":   host,
			"port":   port,
		})
		return nil
	}

	if c.lifecycle != nil {
		c.lifecycle.ExecutePhase(ctx, lifecycle.PhaseBeforeConnect, "", map[string]any{"host": host, "port": port})
	}

	conn := c.registry.Register(socket, host, port, protocol)
	c.registry.SetState(conn.ID, registry.StateConnected)

	c.emit(netbus.EventConnectionOpened, conn.ID, map[string]any{"host": host, "port": port, "protocol": string(protocol)})

	if c.lifecycle != nil {
		c.lifecycle.ExecutePhase(ctx, lifecycle.PhaseAfterConnect, conn.ID, map[string]any{"host": host, "port": port})
	}

	return conn
}

// CloseConnection tears down a previously opened connection. Idempotent:
// a missing id returns immediately with no side effects. Returns the
// underlying socket's Close error, if any.
func (c *Coordinator) CloseConnection(ctx context.Context, connectionID string) error {
	conn, ok := c.registry.Get(connectionID)
	if !ok {
		return nil
	}

	if c.lifecycle != nil {
		c.lifecycle.ExecutePhase(ctx, lifecycle.PhaseBeforeClose, connectionID, nil)
	}

	c.registry.SetState(connectionID, registry.StateClosing)
	var closeErr error
	if conn.Socket != nil {
		closeErr = conn.Socket.Close()
	}
	c.registry.Unregister(connectionID)

	if c.tracker != nil {
		c.tracker.Release(tracker.ResourceConnections, 1)
	}

	c.emit(netbus.EventConnectionClosed, connectionID, nil)

	if c.lifecycle != nil {
		c.lifecycle.ExecutePhase(ctx, lifecycle.PhaseAfterClose, connectionID, nil)
	}
	return closeErr
}

// CloseAll tears down every connection in ids concurrently, fanning
// out via golang.org/x/sync/errgroup the same way a pooled health
// checker would probe every endpoint in parallel. Returns the first
// error encountered, if any, after every close has been attempted.
func (c *Coordinator) CloseAll(ctx context.Context, ids []string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return c.CloseConnection(gctx, id)
		})
	}
	return g.Wait()
}

// HandleRequestStarted marks a request beginning on connectionID.
func (c *Coordinator) HandleRequestStarted(ctx context.Context, connectionID string, metadata map[string]any) {
	if c.lifecycle != nil {
		c.lifecycle.ExecutePhase(ctx, lifecycle.PhaseBeforeRequest, connectionID, metadata)
	}
	c.registry.IncrementRequests(connectionID)
	c.emit(netbus.EventRequestStarted, connectionID, metadata)
	if c.lifecycle != nil {
		c.lifecycle.ExecutePhase(ctx, lifecycle.PhaseAfterRequest, connectionID, metadata)
	}
}

// HandleRequestCompleted marks a request finished on connectionID.
func (c *Coordinator) HandleRequestCompleted(ctx context.Context, connectionID string, metadata map[string]any) {
	c.emit(netbus.EventRequestCompleted, connectionID, metadata)
}

// HandleResponse records a response arriving on connectionID.
func (c *Coordinator) HandleResponse(ctx context.Context, connectionID string, metadata map[string]any) {
	if c.lifecycle != nil {
		c.lifecycle.ExecutePhase(ctx, lifecycle.PhaseBeforeResponse, connectionID, metadata)
	}
	c.emit(netbus.EventResponseReceived, connectionID, metadata)
	if c.lifecycle != nil {
		c.lifecycle.ExecutePhase(ctx, lifecycle.PhaseAfterResponse, connectionID, metadata)
	}
}

// HandleError sets the connection to ERROR, increments its error
// count, emits connection.error and runs the onError lifecycle hook.
func (c *Coordinator) HandleError(ctx context.Context, connectionID string, cause error) {
	c.registry.SetState(connectionID, registry.StateError)
	c.registry.IncrementErrors(connectionID)

	c.emit(netbus.EventConnectionError, connectionID, map[string]any{"error": cause})

	if c.lifecycle != nil {
		c.lifecycle.ExecutePhase(ctx, lifecycle.PhaseOnError, connectionID, map[string]any{"error": cause})
	}
}

// RecordDataRead updates registry activity and tracker bandwidth for
// n bytes read on connectionID, then emits data.read.
func (c *Coordinator) RecordDataRead(connectionID string, n uint64) {
	c.registry.UpdateActivity(connectionID, n, 0)
	if c.tracker != nil {
		c.tracker.RecordBandwidth(int64(n))
	}
	c.emit(netbus.EventDataRead, connectionID, map[string]any{"bytes": n})
}

// RecordDataWritten updates registry activity and tracker bandwidth
// for n bytes written on connectionID, then emits data.written.
func (c *Coordinator) RecordDataWritten(connectionID string, n uint64) {
	c.registry.UpdateActivity(connectionID, 0, n)
	if c.tracker != nil {
		c.tracker.RecordBandwidth(int64(n))
	}
	c.emit(netbus.EventDataWritten, connectionID, map[string]any{"bytes": n})
}

// IsHealthy reports true iff the tracker is not under resource
// pressure. A Coordinator with no tracker is always healthy.
func (c *Coordinator) IsHealthy() bool {
	if c.tracker == nil {
		return true
	}
	return !c.tracker.IsUnderPressure()
}
