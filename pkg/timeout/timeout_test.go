package timeout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/thushan/netlayer/internal/neterr"
)

func TestWithTimeoutReturnsOpResultWhenItFinishesFirst(t *testing.T) {
	err := WithTimeout(context.Background(), "quick_op", 100*time.Millisecond, func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("WithTimeout = %v, want nil", err)
	}
}

func TestWithTimeoutReturnsTimingErrorWhenTimerFiresFirst(t *testing.T) {
	err := WithTimeout(context.Background(), "slow_op", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	var timingErr *neterr.TimingError
	if !errors.As(err, &timingErr) {
		t.Fatalf("WithTimeout = %v, want *TimingError", err)
	}
}

func TestWithTimeoutPropagatesParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithTimeout(ctx, "op", time.Second, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("WithTimeout = %v, want context.Canceled", err)
	}
}

func TestTimeoutManagerSetFiresOnExpire(t *testing.T) {
	m := NewManager()
	fired := make(chan struct{})

	m.Set("t1", 10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("expected onExpire to fire")
	}
	if m.Count() != 0 {
		t.Fatalf("Count = %d, want 0 after firing", m.Count())
	}
}

func TestTimeoutManagerClearPreventsExpiry(t *testing.T) {
	m := NewManager()
	fired := false
	m.Set("t1", 20*time.Millisecond, func() { fired = true })

	if !m.Clear("t1") {
		t.Fatal("expected Clear to find the timer")
	}
	time.Sleep(40 * time.Millisecond)
	if fired {
		t.Fatal("expected cleared timer to not fire")
	}
}

func TestTimeoutManagerClearReturnsFalseForUnknownID(t *testing.T) {
	m := NewManager()
	if m.Clear("never-set") {
		t.Fatal("expected Clear to return false for an unknown id")
	}
}

func TestTimeoutManagerReusingIDReplacesPriorTimer(t *testing.T) {
	m := NewManager()
	firstFired := false
	m.Set("t1", 20*time.Millisecond, func() { firstFired = true })
	m.Set("t1", time.Hour, func() {}) // replaces before the first fires

	time.Sleep(40 * time.Millisecond)
	if firstFired {
		t.Fatal("expected the first timer to have been replaced, not fired")
	}
}

func TestDeadlineExpiredAndRemaining(t *testing.T) {
	d := NewDeadline(20 * time.Millisecond)
	if d.Expired() {
		t.Fatal("expected deadline to not be expired immediately")
	}
	if d.Remaining() <= 0 {
		t.Fatal("expected positive remaining time")
	}

	time.Sleep(30 * time.Millisecond)
	if !d.Expired() {
		t.Fatal("expected deadline to be expired after its budget elapses")
	}
	if d.Remaining() != 0 {
		t.Fatalf("Remaining() = %v, want 0 once expired", d.Remaining())
	}
}

func TestDeadlineCheckReturnsTimingErrorOnceExpired(t *testing.T) {
	d := NewDeadline(10 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	err := d.Check("sub_op", 10*time.Millisecond)
	var timingErr *neterr.TimingError
	if !errors.As(err, &timingErr) {
		t.Fatalf("Check = %v, want *TimingError", err)
	}
}

func TestDeadlineContextCancelsAtDeadline(t *testing.T) {
	d := NewDeadline(20 * time.Millisecond)
	ctx, cancel := d.Context(context.Background())
	defer cancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("expected derived context to be cancelled at the deadline")
	}
}
