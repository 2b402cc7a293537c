// Package backend defines the shared error surface for upstream
// inference backends. Both timeouts and transport failures count
// identically toward the owning circuit breaker.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// CallError wraps any failure from an actual call to an upstream
// backend (primary, secondary, health, wake). It is distinct from a
// circuit rejection: a CallError means the backend was attempted.
type CallError struct {
	Backend string // backend name, e.g. "primary", "secondary"
	Op      string // operation, e.g. "chat", "classify", "health", "wake"
	Err     error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s backend %s: %v", e.Backend, e.Op, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Timeout reports whether the wrapped failure was a deadline or
// network timeout rather than a hard error.
func (e *CallError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}
