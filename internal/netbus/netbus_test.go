package netbus

import (
	"context"
	"testing"
	"time"
)

func TestPublishDeliversToMatchingTypeSubscriber(t *testing.T) {
	b := New()
	defer b.Shutdown()

	ch, cleanup := b.Subscribe(context.Background(), EventConnectionOpened)
	defer cleanup()

	b.Publish(NetworkEvent{Type: EventConnectionOpened, ConnectionID: "conn_1"})

	select {
	case ev := <-ch:
		if ev.ConnectionID != "conn_1" {
			t.Fatalf("ConnectionID = %q, want conn_1", ev.ConnectionID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishStampsAMissingCorrelationID(t *testing.T) {
	b := New()
	defer b.Shutdown()

	ch, cleanup := b.Subscribe(context.Background(), EventConnectionOpened)
	defer cleanup()

	b.Publish(NetworkEvent{Type: EventConnectionOpened, ConnectionID: "conn_1"})

	select {
	case ev := <-ch:
		if ev.CorrelationID == "" {
			t.Fatal("expected Publish to stamp a non-empty correlation id")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishPreservesAnExplicitCorrelationID(t *testing.T) {
	b := New()
	defer b.Shutdown()

	ch, cleanup := b.Subscribe(context.Background(), EventConnectionOpened)
	defer cleanup()

	b.Publish(NetworkEvent{Type: EventConnectionOpened, CorrelationID: "req-123"})

	select {
	case ev := <-ch:
		if ev.CorrelationID != "req-123" {
			t.Fatalf("CorrelationID = %q, want req-123", ev.CorrelationID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishSkipsNonMatchingTypeSubscriber(t *testing.T) {
	b := New()
	defer b.Shutdown()

	ch, cleanup := b.Subscribe(context.Background(), EventConnectionClosed)
	defer cleanup()

	b.Publish(NetworkEvent{Type: EventConnectionOpened})

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event delivered: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWildcardSubscriberReceivesEveryType(t *testing.T) {
	b := New()
	defer b.Shutdown()

	ch, cleanup := b.SubscribeAll(context.Background())
	defer cleanup()

	b.Publish(NetworkEvent{Type: EventPoolAcquired})
	b.Publish(NetworkEvent{Type: EventCircuitOpened})

	for i := 0; i < 2; i++ {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for wildcard event %d", i)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	defer b.Shutdown()

	ch, cleanup := b.Subscribe(context.Background(), EventDataRead)
	cleanup()

	b.Publish(NetworkEvent{Type: EventDataRead})

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("received event after unsubscribe")
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWaitForResolvesOnMatchingEvent(t *testing.T) {
	b := New()
	defer b.Shutdown()

	done := make(chan NetworkEvent, 1)
	go func() {
		ev, ok := b.WaitFor(context.Background(), EventCircuitHalfOpen, time.Second, nil)
		if ok {
			done <- ev
		}
		close(done)
	}()

	time.Sleep(20 * time.Millisecond) // let WaitFor subscribe first
	b.Publish(NetworkEvent{Type: EventCircuitHalfOpen, ConnectionID: "breaker_a"})

	select {
	case ev := <-done:
		if ev.ConnectionID != "breaker_a" {
			t.Fatalf("ConnectionID = %q, want breaker_a", ev.ConnectionID)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitFor did not resolve")
	}
}

func TestWaitForAppliesPredicate(t *testing.T) {
	b := New()
	defer b.Shutdown()

	done := make(chan bool, 1)
	go func() {
		_, ok := b.WaitFor(context.Background(), EventPoolExhausted, 200*time.Millisecond, func(ev NetworkEvent) bool {
			return ev.ConnectionID == "wanted"
		})
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	b.Publish(NetworkEvent{Type: EventPoolExhausted, ConnectionID: "not-it"})

	if ok := <-done; ok {
		t.Fatal("WaitFor resolved on non-matching event")
	}
}

func TestWaitForTimesOut(t *testing.T) {
	b := New()
	defer b.Shutdown()

	_, ok := b.WaitFor(context.Background(), EventHealthFailed, 30*time.Millisecond, nil)
	if ok {
		t.Fatal("expected timeout, got resolved")
	}
}

func TestStatsCountsActiveSubscribers(t *testing.T) {
	b := New()
	defer b.Shutdown()

	_, cleanup1 := b.Subscribe(context.Background(), EventRequestStarted)
	_, cleanup2 := b.SubscribeAll(context.Background())
	defer cleanup1()
	defer cleanup2()

	stats := b.Stats()
	if stats.TotalSubscribers != 2 || stats.ActiveSubscribers != 2 {
		t.Fatalf("Stats = %+v, want 2 total/active", stats)
	}
}

func TestShutdownClosesNewSubscriptions(t *testing.T) {
	b := New()
	b.Shutdown()

	ch, _ := b.Subscribe(context.Background(), EventConnectionOpened)
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after shutdown")
	}

	if n := b.Publish(NetworkEvent{Type: EventConnectionOpened}); n != 0 {
		t.Fatalf("Publish after shutdown delivered to %d subscribers, want 0", n)
	}
}
