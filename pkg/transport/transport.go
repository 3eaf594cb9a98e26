// Package transport owns a single duplex WebSocket connection: dial and handshake,
// blocking frame send, blocking frame receive and close. It knows nothing about the
// meaning of the frames it moves.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrInvalidURL is returned for URLs that are not ws:// or wss:// with a host.
	ErrInvalidURL = errors.New("transport: invalid websocket url")
	// ErrAlreadyOpen is returned by Connect when the transport already holds a connection.
	ErrAlreadyOpen = errors.New("transport: connection already open")
	// ErrClosed is returned by Send and Receive when no connection is open.
	ErrClosed = errors.New("transport: connection closed")
)

// MessageKind tells whether a frame carries text or binary data.
type MessageKind int

const (
	KindText MessageKind = iota
	KindBinary
)

func (k MessageKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Frame is one complete message as it travels on the wire.
type Frame struct {
	Kind    MessageKind
	Payload []byte
}

// Transport is a duplex frame channel to one URL.
//
// Send may only be called from a single goroutine at a time, and the same holds for
// Receive. Close may be called from any goroutine and unblocks a pending Receive.
type Transport interface {
	// Connect dials rawURL and performs the handshake. It never retries; the deadline
	// of ctx bounds the whole attempt.
	Connect(ctx context.Context, rawURL string) error
	// Send writes one complete frame.
	Send(ctx context.Context, f Frame) error
	// Receive blocks until a complete frame arrives or the connection fails.
	Receive(ctx context.Context) (Frame, error)
	// Close sends a normal-closure frame if the connection is open. Idempotent.
	Close() error
}

// ParseURL validates a WebSocket URL of the form ws://host:port/path.
func ParseURL(rawURL string) (*url.URL, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("%w: empty url", ErrInvalidURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q in %s", ErrInvalidURL, u.Scheme, rawURL)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host in %s", ErrInvalidURL, rawURL)
	}
	return u, nil
}
