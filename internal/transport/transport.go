// Package transport defines the persistent connection the chat session runs on.
package transport

import (
	"fmt"

	"github.com/pkg/errors"
)

// WebSocket close codes the session distinguishes.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	CloseAbnormal        = 1006
	ClosePolicyViolation = 1008
)

var (
	// ErrNotOpen is returned when no connection is open.
	ErrNotOpen = errors.New("transport: connection not open")
	// ErrBusy is returned by Open while a previous connection is still alive.
	ErrBusy = errors.New("transport: connection already in use")
	// ErrQueueFull is returned by Send when the outgoing queue is full.
	ErrQueueFull = errors.New("transport: outgoing queue full")
	// ErrConnectTimeout is carried by the Closed event of a dial that timed out.
	ErrConnectTimeout = errors.New("transport: connect timed out")
)

// Transport abstracts the socket used by the session.
// None of its methods block on the network: results arrive later as Events.
type Transport interface {
	// Open starts connecting to url. Opened or Closed follows.
	Open(url string) error

	// Send queues one text frame.
	Send(frame []byte) error

	// Close asks for a close handshake with the given code. Closed follows.
	Close(code int, reason string) error

	// Events delivers lifecycle events and inbound payloads in order.
	Events() <-chan Event
}

// EventKind identifies a transport event.
type EventKind int

const (
	EventOpened EventKind = iota
	EventMessage
	EventError
	EventClosed
)

// String returns the string representation of EventKind
func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is emitted by a Transport.
type Event struct {
	Kind EventKind

	// Payload is set for EventMessage.
	Payload []byte

	// Code and Reason are set for EventClosed.
	Code   int
	Reason string

	// Err is set for EventError, and for EventClosed when the connection
	// ended without a close handshake.
	Err error
}

func (e Event) String() string {
	switch e.Kind {
	case EventMessage:
		return fmt.Sprintf("message(%d bytes)", len(e.Payload))
	case EventClosed:
		return fmt.Sprintf("closed(%d %q)", e.Code, e.Reason)
	case EventError:
		return fmt.Sprintf("error(%v)", e.Err)
	default:
		return e.Kind.String()
	}
}
