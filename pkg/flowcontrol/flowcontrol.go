// Package flowcontrol implements per-stream and per-connection flow
// control (spec.md §4.6): fixed send/receive windows with
// suspend-until-available semantics on the send side and
// pause/resume signalling on the receive side.
//
// Waiters block on a generation channel that is closed and replaced
// every time window space is released, a broadcast-without-
// losing-wakeups pattern around a bounded event channel, so a
// context-aware waiter can select on cancellation instead of blocking
// forever.
//
// The receive side's paused flag is a go.uber.org/atomic.Bool rather
// than a mutex-guarded bool, so IsReceivePaused never contends the
// window mutex.
package flowcontrol

import (
	"context"
	"sync"

	"go.uber.org/atomic"
)

// FlowWindow is a read-only snapshot of one direction's window state.
type FlowWindow struct {
	Size      uint64
	Used      uint64
	Available uint64
}

// FlowController tracks independent send and receive windows for one
// logical channel (a connection or a stream within one).
type FlowController struct {
	mu sync.Mutex

	sendSize uint64
	sendUsed uint64
	sendWake chan struct{}

	recvSize   uint64
	recvUsed   uint64
	recvPaused *atomic.Bool

	onPause  func()
	onResume func()
}

// New builds a FlowController with the given initial send/receive
// window sizes.
func New(sendSize, recvSize uint64) *FlowController {
	return &FlowController{
		sendSize:   sendSize,
		recvSize:   recvSize,
		sendWake:   make(chan struct{}),
		recvPaused: atomic.NewBool(false),
	}
}

// OnPause registers the callback invoked when the receive window
// crosses its size (replaces any previous callback).
func (fc *FlowController) OnPause(cb func()) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.onPause = cb
}

// OnResume registers the callback invoked when the receive window
// drops back below its size after having paused.
func (fc *FlowController) OnResume(cb func()) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.onResume = cb
}

// ConsumeSend atomically reserves n bytes of send window. Fails
// without mutation if send_used+n would exceed send_size.
func (fc *FlowController) ConsumeSend(n uint64) bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.sendUsed+n > fc.sendSize {
		return false
	}
	fc.sendUsed += n
	return true
}

// WaitForSendWindow blocks until ConsumeSend(n) succeeds or ctx is
// done.
func (fc *FlowController) WaitForSendWindow(ctx context.Context, n uint64) error {
	for {
		fc.mu.Lock()
		if fc.sendUsed+n <= fc.sendSize {
			fc.sendUsed += n
			fc.mu.Unlock()
			return nil
		}
		wake := fc.sendWake
		fc.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ReleaseSend frees n bytes of send window, flooring at 0, and wakes
// every waiter.
func (fc *FlowController) ReleaseSend(n uint64) {
	fc.mu.Lock()
	if n > fc.sendUsed {
		fc.sendUsed = 0
	} else {
		fc.sendUsed -= n
	}
	old := fc.sendWake
	fc.sendWake = make(chan struct{})
	fc.mu.Unlock()
	close(old)
}

// ConsumeReceive records n bytes received. When recv_used crosses
// recv_size, onPause fires (once, until ReleaseReceive drops it back
// below the window).
func (fc *FlowController) ConsumeReceive(n uint64) {
	fc.mu.Lock()
	fc.recvUsed += n
	crossed := !fc.recvPaused.Load() && fc.recvUsed >= fc.recvSize
	if crossed {
		fc.recvPaused.Store(true)
	}
	cb := fc.onPause
	fc.mu.Unlock()

	if crossed && cb != nil {
		cb()
	}
}

// ReleaseReceive frees n bytes of receive window, flooring at 0, and
// fires onResume once usage drops back below the window.
func (fc *FlowController) ReleaseReceive(n uint64) {
	fc.mu.Lock()
	if n > fc.recvUsed {
		fc.recvUsed = 0
	} else {
		fc.recvUsed -= n
	}
	resumed := fc.recvPaused.Load() && fc.recvUsed < fc.recvSize
	if resumed {
		fc.recvPaused.Store(false)
	}
	cb := fc.onResume
	fc.mu.Unlock()

	if resumed && cb != nil {
		cb()
	}
}

// UpdateSendWindow resizes the send window, waking waiters that may
// now fit.
func (fc *FlowController) UpdateSendWindow(newSize uint64) {
	fc.mu.Lock()
	fc.sendSize = newSize
	old := fc.sendWake
	fc.sendWake = make(chan struct{})
	fc.mu.Unlock()
	close(old)
}

// UpdateReceiveWindow resizes the receive window, resuming if usage
// now sits below the new size.
func (fc *FlowController) UpdateReceiveWindow(newSize uint64) {
	fc.mu.Lock()
	fc.recvSize = newSize
	resumed := fc.recvPaused.Load() && fc.recvUsed < fc.recvSize
	if resumed {
		fc.recvPaused.Store(false)
	}
	cb := fc.onResume
	fc.mu.Unlock()

	if resumed && cb != nil {
		cb()
	}
}

// SendWindow returns a snapshot of the send side.
func (fc *FlowController) SendWindow() FlowWindow {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return FlowWindow{Size: fc.sendSize, Used: fc.sendUsed, Available: fc.sendSize - fc.sendUsed}
}

// ReceiveWindow returns a snapshot of the receive side.
func (fc *FlowController) ReceiveWindow() FlowWindow {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	avail := uint64(0)
	if fc.recvSize > fc.recvUsed {
		avail = fc.recvSize - fc.recvUsed
	}
	return FlowWindow{Size: fc.recvSize, Used: fc.recvUsed, Available: avail}
}

// IsReceivePaused reports whether the receive side has crossed its
// window and not yet resumed. Lock-free: recvPaused is an atomic.Bool
// independent of the window mutex.
func (fc *FlowController) IsReceivePaused() bool {
	return fc.recvPaused.Load()
}

// StreamFlowController wraps a FlowController for one logical stream
// within a connection.
type StreamFlowController struct {
	StreamID string
	*FlowController
}

// NewStream builds a StreamFlowController with its own windows.
func NewStream(streamID string, sendSize, recvSize uint64) *StreamFlowController {
	return &StreamFlowController{StreamID: streamID, FlowController: New(sendSize, recvSize)}
}

// ConnectionFlowController owns a connection-scope controller plus a
// map of per-stream controllers, matching spec.md §4.6's
// connection/stream nesting (mirrors HTTP/2-style flow control).
type ConnectionFlowController struct {
	*FlowController

	mu      sync.Mutex
	streams map[string]*StreamFlowController
}

// NewConnection builds a ConnectionFlowController with the given
// connection-scope windows; streams are added via Stream.
func NewConnection(sendSize, recvSize uint64) *ConnectionFlowController {
	return &ConnectionFlowController{
		FlowController: New(sendSize, recvSize),
		streams:        make(map[string]*StreamFlowController),
	}
}

// Stream returns the named stream's controller, creating it with
// defaultSendSize/defaultRecvSize if absent.
func (cfc *ConnectionFlowController) Stream(streamID string, defaultSendSize, defaultRecvSize uint64) *StreamFlowController {
	cfc.mu.Lock()
	defer cfc.mu.Unlock()
	if s, ok := cfc.streams[streamID]; ok {
		return s
	}
	s := NewStream(streamID, defaultSendSize, defaultRecvSize)
	cfc.streams[streamID] = s
	return s
}

// RemoveStream drops a stream's controller once it is done.
func (cfc *ConnectionFlowController) RemoveStream(streamID string) {
	cfc.mu.Lock()
	defer cfc.mu.Unlock()
	delete(cfc.streams, streamID)
}

// StreamCount returns the number of live streams.
func (cfc *ConnectionFlowController) StreamCount() int {
	cfc.mu.Lock()
	defer cfc.mu.Unlock()
	return len(cfc.streams)
}
