package recovery

import (
	"context"
	"testing"
	"time"
)

func TestBackoffSchedule(t *testing.T) {
	e := NewEngine(nil)

	// connection_failed: max 3 retries, base 1s. Expect exactly 3 delayed
	// attempts with doubling delays, then GiveUp.
	wantDelays := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
	for i, want := range wantDelays {
		d := e.Decide(ConnectionFailed)
		if d.Strategy != Retry {
			t.Fatalf("attempt %d: strategy %v, want Retry", i, d.Strategy)
		}
		if d.Attempt != i {
			t.Errorf("attempt index %d, want %d", d.Attempt, i)
		}
		if d.Delay != want {
			t.Errorf("attempt %d: delay %v, want %v", i, d.Delay, want)
		}
	}

	d := e.Decide(ConnectionFailed)
	if d.Strategy != GiveUp {
		t.Fatalf("after budget: strategy %v, want GiveUp", d.Strategy)
	}

	// Counter reset on exhaustion: next failure starts a fresh cycle.
	d = e.Decide(ConnectionFailed)
	if d.Strategy != Retry || d.Delay != 1*time.Second {
		t.Errorf("fresh cycle: got %v delay %v, want Retry 1s", d.Strategy, d.Delay)
	}
}

func TestConnectionLostBudget(t *testing.T) {
	e := NewEngine(nil)

	retries := 0
	for {
		d := e.Decide(ConnectionLost)
		if d.Strategy != Retry {
			break
		}
		if want := 500 * time.Millisecond << d.Attempt; d.Delay != want {
			t.Errorf("attempt %d: delay %v, want %v", d.Attempt, d.Delay, want)
		}
		retries++
	}
	if retries != 5 {
		t.Errorf("got %d retries, want 5", retries)
	}
}

func TestSuccessResetsCounter(t *testing.T) {
	e := NewEngine(nil)

	e.Decide(ConnectionLost)
	e.Decide(ConnectionLost)
	if e.Attempts(ConnectionLost) != 2 {
		t.Fatalf("attempts = %d, want 2", e.Attempts(ConnectionLost))
	}

	e.Succeeded(ConnectionLost)
	if e.Attempts(ConnectionLost) != 0 {
		t.Fatalf("attempts after success = %d, want 0", e.Attempts(ConnectionLost))
	}

	d := e.Decide(ConnectionLost)
	if d.Delay != 500*time.Millisecond {
		t.Errorf("delay after reset = %v, want 500ms", d.Delay)
	}
}

func TestUserActionKinds(t *testing.T) {
	e := NewEngine(nil)

	for _, kind := range []Kind{AuthFailed, PermissionDenied} {
		d := e.Decide(kind)
		if d.Strategy != UserAction {
			t.Errorf("%s: strategy %v, want UserAction", kind, d.Strategy)
		}
		if d.Message == "" {
			t.Errorf("%s: empty user message", kind)
		}
	}
}

func TestFatalSticks(t *testing.T) {
	e := NewEngine(nil)

	if d := e.Decide(NoDevice); d.Strategy != Fatal {
		t.Fatalf("strategy %v, want Fatal", d.Strategy)
	}
	// A fatal kind never becomes retryable again within the session.
	if d := e.Decide(NoDevice); d.Strategy != Fatal {
		t.Fatalf("second decide: strategy %v, want Fatal", d.Strategy)
	}
}

func TestUnknownKindIsFatal(t *testing.T) {
	e := NewEngine(nil)
	if d := e.Decide(Kind("mystery")); d.Strategy != Fatal {
		t.Errorf("strategy %v, want Fatal for unknown kind", d.Strategy)
	}
}

func TestRetryImmediateHasNoDelay(t *testing.T) {
	e := NewEngine(nil)
	d := e.Decide(SendFailed)
	if d.Strategy != Retry || d.Delay != 0 {
		t.Errorf("got %v delay %v, want Retry with zero delay", d.Strategy, d.Delay)
	}
}

func TestSleepCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		done <- Sleep(ctx, Decision{Delay: 10 * time.Second})
	}()

	cancel()
	select {
	case ok := <-done:
		if ok {
			t.Error("Sleep returned true after cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Sleep did not return promptly on cancellation")
	}
}

func TestSleepZeroDelay(t *testing.T) {
	if !Sleep(context.Background(), Decision{}) {
		t.Error("zero-delay Sleep on live context should return true")
	}
}
