package request

import (
	"errors"
	"fmt"
)

var (
	// ErrResolutionPending is returned when a private target is built before the
	// private host is known.
	ErrResolutionPending = errors.New("private host not resolved yet")
	// ErrTimeout is the error carried by an outcome whose deadline fired first.
	ErrTimeout = errors.New("request deadline exceeded")
)

// TransportError wraps a network-level failure: refused, reset, DNS, TLS.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
