package backpressure

import (
	"context"
	"testing"
	"time"
)

func TestDropRejectsAbovePauseThreshold(t *testing.T) {
	c := New[int](Config{Strategy: StrategyDrop, PauseThreshold: 0.8})
	c.SetPressure(0.9)

	sig, err := c.Offer(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig != SignalDropped {
		t.Fatalf("signal = %v, want dropped", sig)
	}
}

func TestDropAcceptsBelowThreshold(t *testing.T) {
	c := New[int](Config{Strategy: StrategyDrop, PauseThreshold: 0.8})
	c.SetPressure(0.1)

	sig, _ := c.Offer(context.Background(), 1)
	if sig != SignalAccepted {
		t.Fatalf("signal = %v, want accepted", sig)
	}
}

func TestRejectStrategyReturnsDistinctSignal(t *testing.T) {
	c := New[int](Config{Strategy: StrategyReject, PauseThreshold: 0.5})
	c.SetPressure(0.6)

	sig, _ := c.Offer(context.Background(), 1)
	if sig != SignalRejected {
		t.Fatalf("signal = %v, want rejected", sig)
	}
}

func TestBufferEnqueuesUntilFullThenRejects(t *testing.T) {
	c := New[int](Config{Strategy: StrategyBuffer, BufferSize: 2})

	if sig, _ := c.Offer(context.Background(), 1); sig != SignalAccepted {
		t.Fatal("expected first enqueue accepted")
	}
	if sig, _ := c.Offer(context.Background(), 2); sig != SignalAccepted {
		t.Fatal("expected second enqueue accepted")
	}
	if sig, _ := c.Offer(context.Background(), 3); sig != SignalRejected {
		t.Fatal("expected third enqueue rejected, buffer full")
	}
}

func TestBufferPressureCrossingTriggersPauseAndResume(t *testing.T) {
	c := New[int](Config{Strategy: StrategyBuffer, BufferSize: 10, PauseThreshold: 0.8, ResumeThreshold: 0.5})

	var signals []Signal
	c.OnSignal(func(s Signal) { signals = append(signals, s) })

	for i := 0; i < 9; i++ { // pressure = 0.9 > 0.8
		c.Offer(context.Background(), i)
	}
	if !c.IsPaused() {
		t.Fatal("expected pause after crossing pause_threshold")
	}

	for i := 0; i < 5; i++ { // drains to pressure 0.4 < 0.5
		c.Next()
	}
	if c.IsPaused() {
		t.Fatal("expected resume after dropping below resume_threshold")
	}

	sawPaused, sawResumed := false, false
	for _, s := range signals {
		if s == SignalPaused {
			sawPaused = true
		}
		if s == SignalResumed {
			sawResumed = true
		}
	}
	if !sawPaused || !sawResumed {
		t.Fatalf("expected both paused and resumed signals, got %v", signals)
	}
}

func TestBufferPausesExactlyAtPauseThresholdBoundary(t *testing.T) {
	// spec.md §8 scenario 6: buffer_size=10, pause_threshold=0.8 — after
	// 8 accepted pushes pressure is exactly 0.8 and a pause signal must
	// fire at that boundary, not only once pressure exceeds it.
	c := New[int](Config{Strategy: StrategyBuffer, BufferSize: 10, PauseThreshold: 0.8, ResumeThreshold: 0.5})

	var signals []Signal
	c.OnSignal(func(s Signal) { signals = append(signals, s) })

	for i := 0; i < 8; i++ {
		if sig, _ := c.Offer(context.Background(), i); sig != SignalAccepted {
			t.Fatalf("push %d: signal = %v, want accepted", i, sig)
		}
	}

	if got := c.Pressure(); got != 0.8 {
		t.Fatalf("pressure after 8 pushes = %v, want 0.8", got)
	}
	if !c.IsPaused() {
		t.Fatal("expected pause at pressure == pause_threshold exactly")
	}

	sawPaused := false
	for _, s := range signals {
		if s == SignalPaused {
			sawPaused = true
		}
	}
	if !sawPaused {
		t.Fatalf("expected a paused signal at the 8th push, got %v", signals)
	}
}

func TestDrainEmptiesBuffer(t *testing.T) {
	c := New[int](Config{Strategy: StrategyBuffer, BufferSize: 5})
	c.Offer(context.Background(), 1)
	c.Offer(context.Background(), 2)

	drained := c.Drain()
	if len(drained) != 2 {
		t.Fatalf("Drain returned %v, want 2 items", drained)
	}
	if c.Len() != 0 {
		t.Fatalf("Len after drain = %d, want 0", c.Len())
	}
}

func TestThrottleDelaysWhenOverThreshold(t *testing.T) {
	c := New[int](Config{Strategy: StrategyThrottle, PauseThreshold: 0.5, ThrottleRate: 50 * time.Millisecond})
	c.SetPressure(1.0)

	start := time.Now()
	sig, err := c.Offer(context.Background(), 1)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig != SignalThrottled {
		t.Fatalf("signal = %v, want throttled", sig)
	}
	if elapsed < 40*time.Millisecond {
		t.Fatalf("expected throttle delay of ~50ms, took %v", elapsed)
	}
}

func TestPauseStrategyBlocksUntilResume(t *testing.T) {
	c := New[int](Config{Strategy: StrategyPause, PauseThreshold: 0.5, ResumeThreshold: 0.3})
	c.SetPressure(0.9) // triggers pause

	done := make(chan Signal, 1)
	go func() {
		sig, _ := c.Offer(context.Background(), 1)
		done <- sig
	}()

	select {
	case <-done:
		t.Fatal("Offer should block while paused")
	case <-time.After(30 * time.Millisecond):
	}

	c.SetPressure(0.1) // drops below resume_threshold

	select {
	case sig := <-done:
		if sig != SignalAccepted {
			t.Fatalf("signal = %v, want accepted after resume", sig)
		}
	case <-time.After(time.Second):
		t.Fatal("Offer did not unblock after resume")
	}
}
