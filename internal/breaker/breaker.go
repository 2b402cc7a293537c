// Package breaker implements the per-backend circuit breaker that
// isolates failing upstream dependencies from the inference path.
//
// The breaker follows the standard three-state model:
//
//	closed ──(failures in window ≥ threshold)──► open
//	open ──(reset timeout elapsed)──► half_open
//	half_open ──(probe succeeds)──► closed
//	half_open ──(probe fails)──► open
//
// Failure counting uses a time-sliding window: timestamps older than
// now-Window are discarded on every write and on every trip check, so
// a slow trickle of isolated failures never accumulates to a trip.
// With a zero Window the breaker counts consecutive failures instead.
//
// Half-open admits exactly one in-flight probe. The probe slot is
// claimed under the same mutex that performs the open→half_open
// transition, so concurrent callers racing the reset deadline cannot
// both get through.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is the breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds the immutable breaker configuration.
type Config struct {
	// Threshold is the number of failures that trips the breaker.
	Threshold int
	// ResetTimeout is how long the breaker stays open before allowing
	// a half-open probe.
	ResetTimeout time.Duration
	// Window is the sliding window for failure counting. Zero means
	// consecutive-failure counting with no window.
	Window time.Duration
}

// Stats is a point-in-time snapshot of breaker state and counters.
type Stats struct {
	Name            string     `json:"name"`
	State           string     `json:"state"`
	RecentFailures  int        `json:"recent_failures"`
	TotalRequests   uint64     `json:"total_requests"`
	TotalFailures   uint64     `json:"total_failures"`
	TotalSuccesses  uint64     `json:"total_successes"`
	OpenTransitions uint64     `json:"open_transitions"`
	LastFailureTime *time.Time `json:"last_failure_time,omitempty"`
	LastSuccessTime *time.Time `json:"last_success_time,omitempty"`
}

// Transition describes a state change delivered to listeners.
type Transition struct {
	Name  string
	From  State
	To    State
	Cause error // failure that triggered the change, nil on recovery/reset
	Stats Stats
}

// Listener receives state transitions. Listeners must not block;
// panics are swallowed so a broken listener cannot wedge the breaker.
type Listener func(Transition)

// CircuitOpenError is returned when the breaker rejects a call without
// invoking the operation. It carries the stats snapshot taken at
// rejection time so callers can attach diagnostics.
type CircuitOpenError struct {
	Name  string
	Stats Stats
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open", e.Name)
}

// Operation is a guarded call. The context carries the caller timeout.
type Operation func(ctx context.Context) (interface{}, error)

// Fallback handles the error from a failed or rejected operation.
type Fallback func(ctx context.Context, cause error) (interface{}, error)

// Breaker guards calls to one named backend. Safe for concurrent use.
// Breakers live for the process lifetime; Reset is the only way back
// to a clean closed state outside of normal recovery.
type Breaker struct {
	name string
	cfg  Config

	mu                sync.Mutex
	state             State
	failureTimes      []time.Time // sliding window, trimmed on every write
	consecutiveFails  int         // used when cfg.Window == 0
	probeInFlight     bool        // half-open probe slot
	lastFailureTime   time.Time
	lastSuccessTime   time.Time
	totalRequests     uint64
	totalFailures     uint64
	totalSuccesses    uint64
	openTransitions   uint64
	listeners         []Listener
	now               func() time.Time // injectable for tests
}

// New creates a breaker for the named backend.
func New(name string, cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 1
	}
	return &Breaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// Name returns the backend name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// Subscribe registers a transition listener.
func (b *Breaker) Subscribe(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// Execute runs op through the breaker. When the breaker is open and
// the reset timeout has not elapsed it returns *CircuitOpenError
// without invoking op.
func (b *Breaker) Execute(ctx context.Context, op Operation) (interface{}, error) {
	if err := b.admit(); err != nil {
		return nil, err
	}

	result, err := op(ctx)
	if err != nil {
		b.recordFailure(err)
		return nil, err
	}
	b.recordSuccess()
	return result, nil
}

// ExecuteWithFallback runs op through the breaker and routes both
// rejections and operation failures to fallback. The fallback result
// becomes the overall result.
func (b *Breaker) ExecuteWithFallback(ctx context.Context, op Operation, fallback Fallback) (interface{}, error) {
	result, err := b.Execute(ctx, op)
	if err != nil {
		return fallback(ctx, err)
	}
	return result, nil
}

// admit decides whether a call may proceed, performing the
// open→half_open transition and claiming the single probe slot under
// one lock acquisition.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if b.now().Sub(b.lastFailureTime) >= b.cfg.ResetTimeout {
			b.transition(StateHalfOpen, nil)
			b.probeInFlight = true
			return nil
		}
		return &CircuitOpenError{Name: b.name, Stats: b.statsLocked()}

	case StateHalfOpen:
		if b.probeInFlight {
			return &CircuitOpenError{Name: b.name, Stats: b.statsLocked()}
		}
		b.probeInFlight = true
		return nil
	}
	return nil
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalSuccesses++
	b.lastSuccessTime = b.now()

	switch b.state {
	case StateHalfOpen:
		b.probeInFlight = false
		b.clearFailuresLocked()
		b.transition(StateClosed, nil)
	case StateClosed:
		b.clearFailuresLocked()
	}
}

func (b *Breaker) recordFailure(cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.totalFailures++
	b.lastFailureTime = now

	switch b.state {
	case StateHalfOpen:
		// Failed probe: back to open, reset clock restarts from now.
		b.probeInFlight = false
		b.transition(StateOpen, cause)

	case StateClosed:
		if b.cfg.Window > 0 {
			b.failureTimes = append(b.failureTimes, now)
			b.trimWindowLocked(now)
			if len(b.failureTimes) >= b.cfg.Threshold {
				b.transition(StateOpen, cause)
			}
		} else {
			b.consecutiveFails++
			if b.consecutiveFails >= b.cfg.Threshold {
				b.transition(StateOpen, cause)
			}
		}
	}
}

// trimWindowLocked discards failure timestamps older than now-Window.
func (b *Breaker) trimWindowLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for i < len(b.failureTimes) && b.failureTimes[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.failureTimes = append(b.failureTimes[:0], b.failureTimes[i:]...)
	}
}

func (b *Breaker) clearFailuresLocked() {
	b.failureTimes = b.failureTimes[:0]
	b.consecutiveFails = 0
}

// transition moves to the target state and notifies listeners.
// Caller holds b.mu.
func (b *Breaker) transition(to State, cause error) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == StateOpen {
		b.openTransitions++
	}

	evt := Transition{Name: b.name, From: from, To: to, Cause: cause, Stats: b.statsLocked()}
	for _, l := range b.listeners {
		notify(l, evt)
	}
}

func notify(l Listener, evt Transition) {
	defer func() { _ = recover() }()
	l(evt)
}

// State returns the current state without side effects.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot of the breaker counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statsLocked()
}

func (b *Breaker) statsLocked() Stats {
	recent := b.consecutiveFails
	if b.cfg.Window > 0 {
		b.trimWindowLocked(b.now())
		recent = len(b.failureTimes)
	}
	s := Stats{
		Name:            b.name,
		State:           b.state.String(),
		RecentFailures:  recent,
		TotalRequests:   b.totalRequests,
		TotalFailures:   b.totalFailures,
		TotalSuccesses:  b.totalSuccesses,
		OpenTransitions: b.openTransitions,
	}
	if !b.lastFailureTime.IsZero() {
		t := b.lastFailureTime
		s.LastFailureTime = &t
	}
	if !b.lastSuccessTime.IsZero() {
		t := b.lastSuccessTime
		s.LastSuccessTime = &t
	}
	return s
}

// Reset returns the breaker to closed with cleared failure state.
// Lifetime totals are preserved; recent failure accounting is not.
// Intended for explicit admin action.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clearFailuresLocked()
	b.probeInFlight = false
	b.transition(StateClosed, nil)
}
