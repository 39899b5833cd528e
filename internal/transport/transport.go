// Package transport abstracts the event-stream connection: emit a named
// event with a payload, receive named events, observe connection state.
package transport

import (
	"context"
	"encoding/json"

	"github.com/fanloop/chatsync/internal/model"
)

// Status is the connection state of a transport.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Event is an inbound named event with its raw payload. Decoding is the
// consumer's concern so one malformed push cannot take down the reader.
type Event struct {
	Name model.EventKind
	Data json.RawMessage
}

// AckFunc receives the server's reply to an acked emit.
type AckFunc func(model.AckPayload)

// Transport is a single long-lived event-stream connection. Implementations
// own their reconnect policy; consumers observe it through Statuses.
type Transport interface {
	// Connect establishes the connection and starts delivering events.
	Connect(ctx context.Context) error

	// Emit sends a named event. It returns once the event is queued for
	// writing; delivery is not confirmed.
	Emit(ctx context.Context, event model.EventKind, payload any) error

	// EmitWithAck sends a named event and invokes ack with the server's
	// reply. If the connection drops before a reply arrives, ack is invoked
	// with an error payload.
	EmitWithAck(ctx context.Context, event model.EventKind, payload any, ack AckFunc) error

	// Events returns the inbound event channel. Closed when the transport
	// closes.
	Events() <-chan Event

	// Statuses returns the connection state change channel.
	Statuses() <-chan Status

	// Close tears the connection down. Safe to call more than once.
	Close() error
}
