package transport

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotConnected is returned by operations that need an open connection.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrUnsupported is returned for operations a protocol cannot carry.
	ErrUnsupported = errors.New("transport: operation not supported")

	// ErrUnknownProtocol is returned for unrecognised protocol names.
	ErrUnknownProtocol = errors.New("transport: unknown protocol")

	// ErrTimeout is returned when an action or service call runs out of time.
	ErrTimeout = errors.New("transport: timed out")

	// ErrClosed is returned when the connection dropped mid-call.
	ErrClosed = errors.New("transport: connection closed")
)

// DetectError aggregates the failures of every protocol tried by auto-detection.
type DetectError struct {
	Attempts []ProtocolError
}

// ProtocolError is one failed connection attempt.
type ProtocolError struct {
	Protocol Protocol
	Err      error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("transport [%s]: %v", e.Protocol, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Error implements the error interface.
func (e *DetectError) Error() string {
	if len(e.Attempts) == 0 {
		return "transport: auto-detect found no protocol to try"
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %v", a.Protocol, a.Err)
	}
	return "transport: no protocol could connect (" + strings.Join(parts, "; ") + ")"
}

// Unwrap exposes every attempt's error to errors.Is and errors.As.
func (e *DetectError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i := range e.Attempts {
		errs[i] = &e.Attempts[i]
	}
	return errs
}
