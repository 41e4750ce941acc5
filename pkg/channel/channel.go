// Package channel abstracts the persistent, reconnecting event channel
// that delivers execution updates from the backend and carries
// subscription intents back to it.
package channel

import (
	"context"
	"errors"

	"github.com/flowwatch/flowwatch/pkg/events"
)

// State is the connection state of an update channel.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateErrored      State = "errored"
)

// ErrNoCredential indicates Connect was called without a bearer credential.
var ErrNoCredential = errors.New("no authentication credential supplied")

// ErrClosed indicates the channel was already closed.
var ErrClosed = errors.New("update channel is closed")

// Event is anything publishable over the channel.
type Event interface {
	GetType() events.EventType
}

// Handler consumes one decoded inbound event. Handler errors are logged
// and swallowed; a single bad event must never stop the stream.
type Handler func(ctx context.Context, event any) error

// UpdateChannel is the bidirectional subscription protocol between the
// client and the execution backend. Inbound events are delivered to the
// registered handlers by a single consumer goroutine, in the order they
// were emitted over one connection. No ordering is guaranteed across a
// reconnect boundary.
type UpdateChannel interface {
	// Connect establishes the connection using the bearer credential.
	// On failure the channel transitions to StateErrored and the error
	// is also retained for Err().
	Connect(ctx context.Context, credential string) error

	// Reconnect retries a failed or dropped connection. No-op when
	// already connected.
	Reconnect(ctx context.Context) error

	State() State

	// Err returns the most recent connection-level error, if any.
	Err() error

	// Subscribe sends a subscription intent for the execution. Returns
	// false when the channel is not connected or the intent could not be
	// sent; pending subscriptions are not queued.
	Subscribe(executionID string) bool

	// Unsubscribe sends the inverse intent. Safe to call for an
	// execution that was never subscribed.
	Unsubscribe(executionID string)

	// Handle registers the handler for an inbound event type, replacing
	// any previous one. Unhandle removes it.
	Handle(eventType events.EventType, handler Handler)
	Unhandle(eventType events.EventType)

	// OnConnect registers a hook invoked after every successful
	// (re)connection, after existing subscriptions were re-issued.
	OnConnect(hook func(ctx context.Context))

	// Close tears the connection down exactly once and cancels any
	// pending reconnection timers.
	Close() error
}
