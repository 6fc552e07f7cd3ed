// Package statesync implements worker-to-worker state replication of
// pending mutations over a broadcast-channel analogue (spec.md §5
// "BroadcastChannel state sync", §9 Redesign notes): a pluggable
// Transport exposing publish(bytes)/on_message(cb), with an
// in-process default built the same lock-free-subscriber-table way as
// internal/netbus.
package statesync

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// Transport is the pluggable broadcast primitive state sync replicates
// mutations over. A networked implementation (e.g. Redis pub/sub, a
// gossip layer) can satisfy this without touching Synchronizer.
type Transport interface {
	Publish(ctx context.Context, data []byte) error
	OnMessage(cb func(data []byte)) (unsubscribe func())
	Close() error
}

// InProcessTransport is the default Transport: every subscriber in the
// same process receives every published message, fanned out the same
// way internal/netbus dispatches to its subscriber table.
type InProcessTransport struct {
	subscribers *xsync.Map[string, func([]byte)]
	seq         atomic.Uint64
	closed      atomic.Bool
}

// NewInProcessTransport builds an InProcessTransport.
func NewInProcessTransport() *InProcessTransport {
	return &InProcessTransport{subscribers: xsync.NewMap[string, func([]byte)]()}
}

// Publish fans data out to every subscriber synchronously.
func (t *InProcessTransport) Publish(_ context.Context, data []byte) error {
	if t.closed.Load() {
		return nil
	}
	t.subscribers.Range(func(_ string, cb func([]byte)) bool {
		cb(data)
		return true
	})
	return nil
}

// OnMessage registers cb for every future Publish call.
func (t *InProcessTransport) OnMessage(cb func([]byte)) func() {
	id := "sub_" + strconv.FormatUint(t.seq.Add(1), 10)
	t.subscribers.Store(id, cb)
	return func() { t.subscribers.Delete(id) }
}

// Close marks the transport closed; further Publish calls are no-ops.
func (t *InProcessTransport) Close() error {
	t.closed.Store(true)
	t.subscribers.Clear()
	return nil
}

// Mutation is one pending state change staged for replication.
type Mutation struct {
	WorkerID  string    `json:"worker_id"`
	Key       string    `json:"key"`
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Synchronizer batches staged mutations and periodically flushes them
// to every other worker via Transport, and applies mutations received
// from peers through the onRemote callback given to New.
type Synchronizer struct {
	workerID  string
	transport Transport

	mu      sync.Mutex
	pending []Mutation

	onRemote func(Mutation)
	unsub    func()

	flushInterval time.Duration
	stopCh        chan struct{}
	stopped       atomic.Bool
}

// New builds a Synchronizer for workerID over transport, flushing
// staged mutations every flushInterval. onRemote (may be nil) is
// invoked for every mutation originating from a different worker.
func New(workerID string, transport Transport, flushInterval time.Duration, onRemote func(Mutation)) *Synchronizer {
	s := &Synchronizer{
		workerID:      workerID,
		transport:     transport,
		onRemote:      onRemote,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
	}
	s.unsub = transport.OnMessage(s.handleMessage)

	if flushInterval > 0 {
		go s.flushLoop()
	}

	return s
}

func (s *Synchronizer) handleMessage(data []byte) {
	var m Mutation
	if err := json.Unmarshal(data, &m); err != nil {
		return
	}
	if m.WorkerID == s.workerID {
		return // our own flush, echoed back by a shared transport
	}
	if s.onRemote != nil {
		s.onRemote(m)
	}
}

// Stage queues a mutation for the next Flush.
func (s *Synchronizer) Stage(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, Mutation{
		WorkerID:  s.workerID,
		Key:       key,
		Value:     value,
		Timestamp: time.Now(),
	})
}

// Pending returns a snapshot of the currently staged mutations.
func (s *Synchronizer) Pending() []Mutation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Mutation, len(s.pending))
	copy(out, s.pending)
	return out
}

// Flush publishes and clears every staged mutation.
func (s *Synchronizer) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, m := range batch {
		data, err := json.Marshal(m)
		if err != nil {
			continue
		}
		if err := s.transport.Publish(ctx, data); err != nil {
			return err
		}
	}
	return nil
}

func (s *Synchronizer) flushLoop() {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Flush(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Close stops the flush loop and unsubscribes from the transport.
func (s *Synchronizer) Close() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	close(s.stopCh)
	if s.unsub != nil {
		s.unsub()
	}
}
