package model

import (
	"fmt"
)

// AuthenticationError means no usable credential was available; the
// connection attempt is aborted before any network call.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication: %s", e.Reason)
}

// ValidationError means a command was invoked with insufficient data and was
// rejected before emitting anything.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// ConnectionError wraps a transport-level failure. Non-fatal: the connection
// state flips to disconnected and the transport's own policy retries.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ProtocolError means an inbound payload did not match the expected shape for
// its event. The event is dropped; local state is left unchanged.
type ProtocolError struct {
	Event EventKind
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: %s: %v", e.Event, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
