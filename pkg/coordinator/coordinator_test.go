package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/thushan/netlayer/internal/netbus"
	"github.com/thushan/netlayer/pkg/lifecycle"
	"github.com/thushan/netlayer/pkg/registry"
	"github.com/thushan/netlayer/pkg/tracker"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *registry.Registry, *tracker.ResourceTracker, *netbus.Bus) {
	t.Helper()
	reg := registry.New()
	trk := tracker.New(map[tracker.ResourceType]int64{tracker.ResourceConnections: 2})
	bus := netbus.New()
	lc := lifecycle.New(nil)
	return New(reg, trk, bus, lc), reg, trk, bus
}

func TestOpenConnectionRegistersAndAllocates(t *testing.T) {
	c, reg, trk, _ := newTestCoordinator(t)

	conn := c.OpenConnection(context.Background(), nil, "example.com", 443, registry.ProtocolTLS)
	if conn == nil {
		t.Fatal("expected a non-nil RegisteredConnection")
	}
	if conn.State() != registry.StateConnected {
		t.Fatalf("state = %v, want CONNECTED", conn.State())
	}
	if _, ok := reg.Get(conn.ID); !ok {
		t.Fatal("expected connection to be registered")
	}
	if trk.Usage(tracker.ResourceConnections).Current != 1 {
		t.Fatalf("tracker connections = %d, want 1", trk.Usage(tracker.ResourceConnections).Current)
	}
}

func TestOpenConnectionDeniesSilentlyWhenTrackerExhausted(t *testing.T) {
	c, reg, _, bus := newTestCoordinator(t)

	sub, unsubscribe := bus.Subscribe(context.Background(), netbus.EventResourcePressure)
	defer unsubscribe()

	c.OpenConnection(context.Background(), nil, "a", 1, registry.ProtocolTCP)
	c.OpenConnection(context.Background(), nil, "b", 2, registry.ProtocolTCP)
	conn := c.OpenConnection(context.Background(), nil, "c", 3, registry.ProtocolTCP)

	if conn != nil {
		t.Fatal("expected nil when tracker denies the connection allocation")
	}

	select {
	case ev := <-sub:
		if ev.Type != netbus.EventResourcePressure {
			t.Fatalf("event type = %v, want resource.pressure", ev.Type)
		}
	default:
		t.Fatal("expected resource.pressure to be emitted")
	}

	if len(reg.Query(registry.Filter{})) != 2 {
		t.Fatalf("expected only 2 registered connections, got %d", len(reg.Query(registry.Filter{})))
	}
}

func TestCloseConnectionIsIdempotent(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)

	c.CloseConnection(context.Background(), "does-not-exist") // must not panic

	conn := c.OpenConnection(context.Background(), nil, "example.com", 80, registry.ProtocolTCP)
	c.CloseConnection(context.Background(), conn.ID)
	c.CloseConnection(context.Background(), conn.ID) // second call is a no-op
}

func TestCloseConnectionReleasesTrackerSlot(t *testing.T) {
	c, _, trk, _ := newTestCoordinator(t)

	conn := c.OpenConnection(context.Background(), nil, "example.com", 80, registry.ProtocolTCP)
	c.CloseConnection(context.Background(), conn.ID)

	if trk.Usage(tracker.ResourceConnections).Current != 0 {
		t.Fatalf("tracker connections = %d, want 0 after close", trk.Usage(tracker.ResourceConnections).Current)
	}
}

func TestCloseAllClosesEveryConnectionConcurrently(t *testing.T) {
	reg := registry.New()
	trk := tracker.New(map[tracker.ResourceType]int64{tracker.ResourceConnections: 10})
	c := New(reg, trk, netbus.New(), lifecycle.New(nil))

	var ids []string
	for i := 0; i < 5; i++ {
		conn := c.OpenConnection(context.Background(), nil, "example.com", 80+i, registry.ProtocolTCP)
		ids = append(ids, conn.ID)
	}

	if err := c.CloseAll(context.Background(), ids); err != nil {
		t.Fatalf("CloseAll: %v", err)
	}

	for _, id := range ids {
		if _, ok := reg.Get(id); ok {
			t.Fatalf("expected %s to be unregistered after CloseAll", id)
		}
	}
	if trk.Usage(tracker.ResourceConnections).Current != 0 {
		t.Fatalf("tracker connections = %d, want 0 after CloseAll", trk.Usage(tracker.ResourceConnections).Current)
	}
}

func TestCloseAllToleratesUnknownIDs(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	if err := c.CloseAll(context.Background(), []string{"missing-1", "missing-2"}); err != nil {
		t.Fatalf("CloseAll with unknown ids: %v", err)
	}
}

func TestHandleErrorSetsErrorStateAndIncrementsCount(t *testing.T) {
	c, reg, _, _ := newTestCoordinator(t)

	conn := c.OpenConnection(context.Background(), nil, "example.com", 80, registry.ProtocolTCP)
	c.HandleError(context.Background(), conn.ID, errors.New("boom"))

	got, _ := reg.Get(conn.ID)
	if got.State() != registry.StateError {
		t.Fatalf("state = %v, want ERROR", got.State())
	}
	if got.Counters().ErrorCount != 1 {
		t.Fatalf("ErrorCount = %d, want 1", got.Counters().ErrorCount)
	}
}

func TestHandleErrorRunsOnErrorLifecycleHook(t *testing.T) {
	reg := registry.New()
	trk := tracker.New(nil)
	bus := netbus.New()
	lc := lifecycle.New(nil)

	fired := false
	lc.Register(lifecycle.PhaseOnError, 0, func(ctx context.Context, connectionID string, metadata map[string]any) error {
		fired = true
		return nil
	})

	c := New(reg, trk, bus, lc)
	conn := c.OpenConnection(context.Background(), nil, "example.com", 80, registry.ProtocolTCP)
	c.HandleError(context.Background(), conn.ID, errors.New("boom"))

	if !fired {
		t.Fatal("expected onError hook to run")
	}
}

func TestRecordDataReadAndWrittenUpdateRegistryAndTracker(t *testing.T) {
	c, reg, trk, _ := newTestCoordinator(t)
	conn := c.OpenConnection(context.Background(), nil, "example.com", 80, registry.ProtocolTCP)

	c.RecordDataRead(conn.ID, 100)
	c.RecordDataWritten(conn.ID, 50)

	got, _ := reg.Get(conn.ID)
	counters := got.Counters()
	if counters.BytesRead != 100 || counters.BytesWritten != 50 {
		t.Fatalf("counters = %+v, want BytesRead=100 BytesWritten=50", counters)
	}
	if trk.CurrentBandwidth() != 150 {
		t.Fatalf("CurrentBandwidth = %d, want 150", trk.CurrentBandwidth())
	}
}

func TestIsHealthyReflectsTrackerPressure(t *testing.T) {
	reg := registry.New()
	trk := tracker.New(map[tracker.ResourceType]int64{tracker.ResourceConnections: 10})
	bus := netbus.New()
	c := New(reg, trk, bus, nil)

	if !c.IsHealthy() {
		t.Fatal("expected healthy with no allocations")
	}

	for i := 0; i < 9; i++ {
		c.OpenConnection(context.Background(), nil, "h", i, registry.ProtocolTCP)
	}

	if c.IsHealthy() {
		t.Fatal("expected unhealthy once utilization exceeds the pressure threshold")
	}
}
