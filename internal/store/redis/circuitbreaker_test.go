package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errRefused = errors.New("connection refused")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(maxFailures int, cooldown time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(maxFailures, cooldown)
	cb.now = clock.Now
	return cb, clock
}

func fail(ctx context.Context) error { return errRefused }
func ok(ctx context.Context) error   { return nil }

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)
	ctx := context.Background()
	if cb.CurrentState() != StateClosed {
		t.Fatalf("new breaker is %v", cb.CurrentState())
	}

	for i := 0; i < 3; i++ {
		if err := cb.Do(ctx, fail); !errors.Is(err, errRefused) {
			t.Fatalf("call %d: got %v", i, err)
		}
	}
	if cb.CurrentState() != StateOpen {
		t.Fatalf("state = %v after 3 failures", cb.CurrentState())
	}

	called := false
	err := cb.Do(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("open breaker: err=%v called=%v", err, called)
	}
}

func TestCircuitBreaker_SingleProbe(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Second)
	ctx := context.Background()
	cb.Do(ctx, fail)
	clock.Advance(2 * time.Second)

	var nested error
	err := cb.Do(ctx, func(ctx context.Context) error {
		if cb.CurrentState() != StateHalfOpen {
			t.Errorf("probe runs in %v", cb.CurrentState())
		}
		nested = cb.Do(ctx, ok)
		return nil
	})
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !errors.Is(nested, ErrCircuitOpen) {
		t.Errorf("second call during probe = %v, want ErrCircuitOpen", nested)
	}
	if cb.CurrentState() != StateClosed {
		t.Errorf("state = %v after successful probe", cb.CurrentState())
	}
}

func TestCircuitBreaker_FailedProbeRestartsCooldown(t *testing.T) {
	cb, clock := newTestBreaker(2, time.Second)
	ctx := context.Background()
	cb.Do(ctx, fail)
	cb.Do(ctx, fail)

	clock.Advance(500 * time.Millisecond)
	if err := cb.Do(ctx, ok); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("before cooldown: %v", err)
	}

	clock.Advance(time.Second)
	cb.Do(ctx, fail)
	if cb.CurrentState() != StateOpen {
		t.Fatalf("state = %v after failed probe", cb.CurrentState())
	}
	clock.Advance(500 * time.Millisecond)
	if err := cb.Do(ctx, ok); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("cooldown should restart at the failed probe, got %v", err)
	}
}

func TestCircuitBreaker_CancelledCallsNotCounted(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Do(ctx, func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if cb.CurrentState() != StateClosed || cb.Failures() != 0 {
		t.Fatalf("cancelled call tripped the breaker: %v, %d failures", cb.CurrentState(), cb.Failures())
	}

	// A cancelled probe leaves the breaker half-open for the next caller.
	cb.Do(context.Background(), fail)
	clock.Advance(2 * time.Second)
	cb.Do(ctx, func(ctx context.Context) error { return ctx.Err() })
	if cb.CurrentState() != StateHalfOpen {
		t.Fatalf("state = %v after cancelled probe", cb.CurrentState())
	}
	if err := cb.Do(context.Background(), ok); err != nil || cb.CurrentState() != StateClosed {
		t.Errorf("next probe: err=%v state=%v", err, cb.CurrentState())
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)
	ctx := context.Background()

	cb.Do(ctx, fail)
	cb.Do(ctx, fail)
	cb.Do(ctx, ok)
	if cb.Failures() != 0 {
		t.Fatalf("failures = %d after success", cb.Failures())
	}
	cb.Do(ctx, fail)
	cb.Do(ctx, fail)
	if cb.CurrentState() != StateClosed {
		t.Errorf("state = %v, counter should have reset", cb.CurrentState())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Second)
	var got []State
	cb.OnStateChange = func(from, to State) { got = append(got, to) }

	cb.Do(context.Background(), fail)
	clock.Advance(2 * time.Second)
	cb.Do(context.Background(), ok)

	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, got[i], want[i])
		}
	}
}
