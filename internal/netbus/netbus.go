// Package netbus implements the Event Bus (spec.md §4.4): a typed
// pub/sub fabric for NetworkEvents raised by the registry, tracker,
// pool, breaker and proxy chain.
//
// The subscriber table is github.com/puzpuzpuz/xsync/v4's lock-free
// Map, keyed by event type the same way a generic payload bus would
// be. Async delivery runs through a fixed worker pool. WaitFor is a
// one-shot subscription that resolves on the first matching event or
// times out. Every published
// event is stamped with a github.com/google/uuid correlation id so a
// request traced across registry/tracker/pool/breaker events can be
// joined back together downstream.
package netbus

import (
	"context"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
)

// EventType tags a NetworkEvent by the component and phase that raised
// it, per spec.md §4.4's connection/request/response/data/pool/health/
// circuit/resource taxonomy.
type EventType string

const (
	EventConnectionOpened EventType = "connection.opened"
	EventConnectionClosed EventType = "connection.closed"
	EventConnectionError  EventType = "connection.error"

	EventRequestStarted   EventType = "request.started"
	EventRequestCompleted EventType = "request.completed"

	EventResponseReceived EventType = "response.received"

	EventDataRead    EventType = "data.read"
	EventDataWritten EventType = "data.written"

	EventPoolAcquired  EventType = "pool.acquired"
	EventPoolReleased  EventType = "pool.released"
	EventPoolExhausted EventType = "pool.exhausted"

	EventHealthPassed EventType = "health.passed"
	EventHealthFailed EventType = "health.failed"

	EventCircuitOpened   EventType = "circuit.opened"
	EventCircuitClosed   EventType = "circuit.closed"
	EventCircuitHalfOpen EventType = "circuit.half_open"

	EventResourcePressure EventType = "resource.pressure"

	// wildcard is the internal subscription type matching every event.
	wildcard EventType = ""
)

// NetworkEvent is the payload the bus carries.
type NetworkEvent struct {
	Type          EventType
	ConnectionID  string
	CorrelationID string
	Timestamp     time.Time
	Data          map[string]any
}

type subscriber struct {
	ch         chan NetworkEvent
	id         string
	eventType  EventType // wildcard matches every type
	lastActive atomic.Int64
	dropped    atomic.Uint64
	isActive   atomic.Bool
}

// Config customises buffer sizes and cleanup behaviour.
type Config struct {
	BufferSize      int
	CleanupPeriod   time.Duration
	InactiveTimeout time.Duration
}

var DefaultConfig = Config{
	BufferSize:      100,
	CleanupPeriod:   5 * time.Minute,
	InactiveTimeout: 10 * time.Minute,
}

// Bus is the process-wide NetworkEvent pub/sub fabric.
type Bus struct {
	subscribers   *xsync.Map[string, *subscriber]
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	workerPool    *workerPool
	subscriberSeq atomic.Uint64
	bufferSize    int
	isShutdown    atomic.Bool
}

// New builds a Bus with DefaultConfig.
func New() *Bus {
	return NewWithConfig(DefaultConfig)
}

// NewWithConfig builds a Bus with custom buffer/cleanup settings.
func NewWithConfig(cfg Config) *Bus {
	b := &Bus{
		subscribers: xsync.NewMap[string, *subscriber](),
		bufferSize:  cfg.BufferSize,
		stopCleanup: make(chan struct{}),
	}

	b.workerPool = newWorkerPool(b, 4, 1000)

	if cfg.CleanupPeriod > 0 {
		b.cleanupTicker = time.NewTicker(cfg.CleanupPeriod)
		go b.cleanupLoop(cfg.InactiveTimeout)
	}

	return b
}

// Subscribe returns a channel receiving only events of eventType, plus
// a cleanup function. Cancelling ctx also unsubscribes.
func (b *Bus) Subscribe(ctx context.Context, eventType EventType) (<-chan NetworkEvent, func()) {
	return b.subscribe(ctx, eventType)
}

// SubscribeAll returns a channel receiving every event published,
// regardless of type.
func (b *Bus) SubscribeAll(ctx context.Context) (<-chan NetworkEvent, func()) {
	return b.subscribe(ctx, wildcard)
}

func (b *Bus) subscribe(ctx context.Context, eventType EventType) (<-chan NetworkEvent, func()) {
	if b.isShutdown.Load() {
		ch := make(chan NetworkEvent)
		close(ch)
		return ch, func() {}
	}

	id := b.generateSubscriberID()
	ch := make(chan NetworkEvent, b.bufferSize)

	sub := &subscriber{id: id, ch: ch, eventType: eventType}
	sub.lastActive.Store(time.Now().UnixNano())
	sub.isActive.Store(true)

	b.subscribers.Store(id, sub)

	go func() {
		<-ctx.Done()
		b.unsubscribe(id)
	}()

	return ch, func() { b.unsubscribe(id) }
}

// WaitFor blocks until an event of eventType matching predicate (if
// non-nil) is published, or timeout elapses. Returns ok=false on
// timeout or context cancellation.
func (b *Bus) WaitFor(ctx context.Context, eventType EventType, timeout time.Duration, predicate func(NetworkEvent) bool) (NetworkEvent, bool) {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, unsubscribe := b.subscribe(subCtx, eventType)
	defer unsubscribe()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return NetworkEvent{}, false
			}
			if predicate == nil || predicate(ev) {
				return ev, true
			}
		case <-timer.C:
			return NetworkEvent{}, false
		case <-ctx.Done():
			return NetworkEvent{}, false
		}
	}
}

// Publish delivers event to every subscriber whose eventType matches,
// then to every wildcard subscriber. Returns the number of channels
// the event was actually sent on (full channels count as dropped).
func (b *Bus) Publish(event NetworkEvent) int {
	if b.isShutdown.Load() {
		return 0
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.CorrelationID == "" {
		event.CorrelationID = uuid.NewString()
	}

	delivered := 0
	now := time.Now().UnixNano()

	deliverTo := func(matchWildcard bool) {
		b.subscribers.Range(func(_ string, sub *subscriber) bool {
			if !sub.isActive.Load() {
				return true
			}
			isWildcard := sub.eventType == wildcard
			if isWildcard != matchWildcard {
				return true
			}
			if !isWildcard && sub.eventType != event.Type {
				return true
			}
			if sub.isActive.Load() {
				select {
				case sub.ch <- event:
					sub.lastActive.Store(now)
					delivered++
				default:
					sub.dropped.Add(1)
				}
			}
			return true
		})
	}

	// Type-specific subscribers see the event before wildcard listeners.
	deliverTo(false)
	deliverTo(true)

	return delivered
}

// PublishAsync queues event for delivery without blocking the caller.
func (b *Bus) PublishAsync(event NetworkEvent) {
	if b.isShutdown.Load() {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.CorrelationID == "" {
		event.CorrelationID = uuid.NewString()
	}
	if b.workerPool != nil {
		b.workerPool.publishAsync(event)
	}
}

// Shutdown stops workers and cleanup, then clears all subscribers.
func (b *Bus) Shutdown() {
	if !b.isShutdown.CompareAndSwap(false, true) {
		return
	}

	if b.workerPool != nil {
		b.workerPool.shutdown()
	}

	if b.cleanupTicker != nil {
		b.cleanupTicker.Stop()
		close(b.stopCleanup)
	}

	b.subscribers.Range(func(_ string, sub *subscriber) bool {
		sub.isActive.Store(false)
		return true
	})
	b.subscribers.Clear()
}

// Stats is aggregate bus statistics.
type Stats struct {
	TotalSubscribers  int
	ActiveSubscribers int
	TotalDropped      uint64
	IsShutdown        bool
}

// Stats returns overall bus statistics.
func (b *Bus) Stats() Stats {
	stats := Stats{IsShutdown: b.isShutdown.Load()}
	if stats.IsShutdown {
		return stats
	}

	b.subscribers.Range(func(_ string, sub *subscriber) bool {
		stats.TotalSubscribers++
		if sub.isActive.Load() {
			stats.ActiveSubscribers++
		}
		stats.TotalDropped += sub.dropped.Load()
		return true
	})

	return stats
}

func (b *Bus) generateSubscriberID() string {
	seq := b.subscriberSeq.Add(1)
	return "sub_" + strconv.FormatUint(seq, 10)
}

func (b *Bus) unsubscribe(id string) {
	if sub, ok := b.subscribers.Load(id); ok {
		sub.isActive.Store(false)
		b.subscribers.Delete(id)
	}
}

func (b *Bus) cleanupLoop(inactiveTimeout time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("netbus cleanupLoop panic recovered: %v", r)
		}
	}()

	for {
		select {
		case <-b.stopCleanup:
			return
		case <-b.cleanupTicker.C:
			b.cleanupInactiveSubscribers(inactiveTimeout)
		}
	}
}

func (b *Bus) cleanupInactiveSubscribers(timeout time.Duration) {
	cutoff := time.Now().Add(-timeout).UnixNano()
	var toRemove []string

	b.subscribers.Range(func(id string, sub *subscriber) bool {
		if !sub.isActive.Load() || sub.lastActive.Load() < cutoff {
			toRemove = append(toRemove, id)
		}
		return true
	})

	for _, id := range toRemove {
		b.unsubscribe(id)
	}
}
