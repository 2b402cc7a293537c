package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var errBackend = errors.New("backend exploded")

func failingOp(ctx context.Context) (interface{}, error) { return nil, errBackend }
func okOp(ctx context.Context) (interface{}, error)      { return "ok", nil }

// fakeClock lets tests drive the breaker's view of time.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	b := New("test", cfg)
	clock := newFakeClock()
	b.now = clock.Now
	return b, clock
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(Config{Threshold: 3, ResetTimeout: 10 * time.Second, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := b.Execute(ctx, failingOp); !errors.Is(err, errBackend) {
			t.Fatalf("failure %d: got %v, want backend error", i, err)
		}
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("after threshold-1 failures state = %s, want closed", got)
	}

	if _, err := b.Execute(ctx, failingOp); !errors.Is(err, errBackend) {
		t.Fatalf("third failure: got %v", err)
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("after threshold failures state = %s, want open", got)
	}
}

func TestBreakerRejectsWhileOpen(t *testing.T) {
	b, clock := newTestBreaker(Config{Threshold: 1, ResetTimeout: 10 * time.Second})
	ctx := context.Background()

	b.Execute(ctx, failingOp)

	calls := 0
	_, err := b.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, nil
	})
	var openErr *CircuitOpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("got %v, want CircuitOpenError", err)
	}
	if calls != 0 {
		t.Fatalf("operation invoked %d times while open, want 0", calls)
	}
	if openErr.Stats.State != "open" {
		t.Errorf("rejection stats state = %q, want open", openErr.Stats.State)
	}

	// Just before the reset timeout the breaker still rejects.
	clock.Advance(10*time.Second - time.Millisecond)
	if _, err := b.Execute(ctx, okOp); !errors.As(err, &openErr) {
		t.Fatalf("before reset timeout: got %v, want CircuitOpenError", err)
	}
}

func TestBreakerHalfOpenSuccessCloses(t *testing.T) {
	b, clock := newTestBreaker(Config{Threshold: 1, ResetTimeout: 10 * time.Second})
	ctx := context.Background()

	b.Execute(ctx, failingOp)
	clock.Advance(10 * time.Second)

	result, err := b.Execute(ctx, okOp)
	if err != nil {
		t.Fatalf("half-open probe: %v", err)
	}
	if result != "ok" {
		t.Fatalf("probe result = %v, want ok", result)
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("after successful probe state = %s, want closed", got)
	}
	if stats := b.Stats(); stats.RecentFailures != 0 {
		t.Errorf("recent failures after recovery = %d, want 0", stats.RecentFailures)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(Config{Threshold: 1, ResetTimeout: 10 * time.Second})
	ctx := context.Background()

	b.Execute(ctx, failingOp)
	clock.Advance(10 * time.Second)

	if _, err := b.Execute(ctx, failingOp); !errors.Is(err, errBackend) {
		t.Fatalf("failing probe: got %v", err)
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("after failed probe state = %s, want open", got)
	}

	// The reset clock restarts from the probe failure.
	clock.Advance(9 * time.Second)
	var openErr *CircuitOpenError
	if _, err := b.Execute(ctx, okOp); !errors.As(err, &openErr) {
		t.Fatalf("9s after failed probe: got %v, want CircuitOpenError", err)
	}
	clock.Advance(time.Second)
	if _, err := b.Execute(ctx, okOp); err != nil {
		t.Fatalf("10s after failed probe: %v", err)
	}
}

func TestBreakerHalfOpenAdmitsSingleProbe(t *testing.T) {
	b, clock := newTestBreaker(Config{Threshold: 1, ResetTimeout: 10 * time.Second})
	ctx := context.Background()

	b.Execute(ctx, failingOp)
	clock.Advance(10 * time.Second)

	release := make(chan struct{})
	probeStarted := make(chan struct{})
	go b.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		close(probeStarted)
		<-release
		return "ok", nil
	})
	<-probeStarted

	// A second caller arriving while the probe is outstanding is
	// rejected, not admitted as a second probe.
	var openErr *CircuitOpenError
	if _, err := b.Execute(ctx, okOp); !errors.As(err, &openErr) {
		t.Fatalf("concurrent half-open call: got %v, want CircuitOpenError", err)
	}
	close(release)
}

func TestBreakerSlidingWindowForgetsOldFailures(t *testing.T) {
	b, clock := newTestBreaker(Config{Threshold: 3, ResetTimeout: 10 * time.Second, Window: time.Minute})
	ctx := context.Background()

	// Two failures, then enough time for them to age out.
	b.Execute(ctx, failingOp)
	b.Execute(ctx, failingOp)
	clock.Advance(61 * time.Second)

	// A third failure alone must not trip the breaker.
	b.Execute(ctx, failingOp)
	if got := b.State(); got != StateClosed {
		t.Fatalf("state after trickle failures = %s, want closed", got)
	}
	if stats := b.Stats(); stats.RecentFailures != 1 {
		t.Errorf("recent failures = %d, want 1", stats.RecentFailures)
	}
}

func TestBreakerConsecutiveModeWithoutWindow(t *testing.T) {
	b, _ := newTestBreaker(Config{Threshold: 3, ResetTimeout: 10 * time.Second})
	ctx := context.Background()

	b.Execute(ctx, failingOp)
	b.Execute(ctx, failingOp)
	// A success resets the consecutive count.
	b.Execute(ctx, okOp)
	b.Execute(ctx, failingOp)
	b.Execute(ctx, failingOp)
	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %s, want closed", got)
	}
	b.Execute(ctx, failingOp)
	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %s, want open", got)
	}
}

func TestExecuteWithFallbackNeverReturnsError(t *testing.T) {
	b, _ := newTestBreaker(Config{Threshold: 1, ResetTimeout: time.Minute})
	ctx := context.Background()

	fallback := func(ctx context.Context, cause error) (interface{}, error) {
		return fmt.Sprintf("fallback(%v)", cause), nil
	}

	// Backend failure routes to fallback.
	result, err := b.ExecuteWithFallback(ctx, failingOp, fallback)
	if err != nil {
		t.Fatalf("fallback path returned error: %v", err)
	}
	if result != "fallback(backend exploded)" {
		t.Fatalf("fallback result = %v", result)
	}

	// Circuit rejection also routes to fallback.
	result, err = b.ExecuteWithFallback(ctx, okOp, func(ctx context.Context, cause error) (interface{}, error) {
		var openErr *CircuitOpenError
		if !errors.As(cause, &openErr) {
			t.Errorf("fallback cause = %v, want CircuitOpenError", cause)
		}
		return "degraded", nil
	})
	if err != nil || result != "degraded" {
		t.Fatalf("rejection fallback = %v, %v", result, err)
	}
}

func TestBreakerListenerReceivesTransitions(t *testing.T) {
	b, clock := newTestBreaker(Config{Threshold: 1, ResetTimeout: 10 * time.Second})
	ctx := context.Background()

	var mu sync.Mutex
	var transitions []Transition
	b.Subscribe(func(tr Transition) {
		mu.Lock()
		transitions = append(transitions, tr)
		mu.Unlock()
	})
	// A panicking listener must not affect breaker behavior.
	b.Subscribe(func(Transition) { panic("bad listener") })

	b.Execute(ctx, failingOp)
	clock.Advance(10 * time.Second)
	b.Execute(ctx, okOp)

	mu.Lock()
	defer mu.Unlock()
	want := []struct{ from, to State }{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}
	if len(transitions) != len(want) {
		t.Fatalf("got %d transitions, want %d", len(transitions), len(want))
	}
	for i, w := range want {
		if transitions[i].From != w.from || transitions[i].To != w.to {
			t.Errorf("transition %d = %s->%s, want %s->%s",
				i, transitions[i].From, transitions[i].To, w.from, w.to)
		}
	}
	if transitions[0].Cause == nil {
		t.Error("open transition should carry the triggering error")
	}
	if transitions[0].Stats.OpenTransitions != 1 {
		t.Errorf("open transitions = %d, want 1", transitions[0].Stats.OpenTransitions)
	}
}

func TestBreakerReset(t *testing.T) {
	b, _ := newTestBreaker(Config{Threshold: 1, ResetTimeout: time.Hour})
	ctx := context.Background()

	b.Execute(ctx, failingOp)
	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %s, want open", got)
	}

	b.Reset()
	if got := b.State(); got != StateClosed {
		t.Fatalf("state after reset = %s, want closed", got)
	}
	if _, err := b.Execute(ctx, okOp); err != nil {
		t.Fatalf("call after reset: %v", err)
	}
}

func TestBreakerStatsCounters(t *testing.T) {
	b, _ := newTestBreaker(Config{Threshold: 5, ResetTimeout: time.Minute, Window: time.Minute})
	ctx := context.Background()

	b.Execute(ctx, okOp)
	b.Execute(ctx, okOp)
	b.Execute(ctx, failingOp)

	stats := b.Stats()
	if stats.TotalRequests != 3 {
		t.Errorf("total requests = %d, want 3", stats.TotalRequests)
	}
	if stats.TotalSuccesses != 2 {
		t.Errorf("total successes = %d, want 2", stats.TotalSuccesses)
	}
	if stats.TotalFailures != 1 {
		t.Errorf("total failures = %d, want 1", stats.TotalFailures)
	}
	if stats.LastFailureTime == nil {
		t.Error("last failure time should be set")
	}
}
