// pkg/transport/websocket.go
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

const defaultReadLimit = 1024 * 1024 // 1MB

type wsConfig struct {
	logger      *slog.Logger
	dialOptions *websocket.DialOptions
	readLimit   int64
}

// Option configures a WebSocket transport.
type Option func(*wsConfig)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *wsConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDialOptions sets custom websocket.DialOptions (headers, HTTP client, subprotocols).
func WithDialOptions(opts *websocket.DialOptions) Option {
	return func(c *wsConfig) {
		if opts != nil {
			c.dialOptions = opts
		}
	}
}

// WithReadLimit sets the maximum size in bytes of a single inbound frame.
func WithReadLimit(n int64) Option {
	return func(c *wsConfig) {
		if n > 0 {
			c.readLimit = n
		}
	}
}

// WebSocket is a Transport backed by github.com/coder/websocket.
type WebSocket struct {
	cfg wsConfig

	mu         sync.Mutex
	conn       *websocket.Conn
	connecting bool
}

var _ Transport = (*WebSocket)(nil)

// NewWebSocket returns an unconnected WebSocket transport.
func NewWebSocket(opts ...Option) *WebSocket {
	cfg := wsConfig{
		logger:      slog.Default(),
		dialOptions: &websocket.DialOptions{HTTPClient: http.DefaultClient},
		readLimit:   defaultReadLimit,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &WebSocket{cfg: cfg}
}

// Connect validates rawURL, dials it and performs the WebSocket handshake.
func (w *WebSocket) Connect(ctx context.Context, rawURL string) error {
	u, err := ParseURL(rawURL)
	if err != nil {
		return err
	}

	w.mu.Lock()
	if w.conn != nil || w.connecting {
		w.mu.Unlock()
		return ErrAlreadyOpen
	}
	w.connecting = true
	w.mu.Unlock()

	conn, httpResp, err := websocket.Dial(ctx, u.String(), w.cfg.dialOptions)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.connecting = false
	if err != nil {
		if httpResp != nil {
			return fmt.Errorf("transport: dial %s failed (status: %s): %w", u.Redacted(), httpResp.Status, err)
		}
		return fmt.Errorf("transport: dial %s failed: %w", u.Redacted(), err)
	}
	conn.SetReadLimit(w.cfg.readLimit)
	w.conn = conn
	w.cfg.logger.Debug("Transport connected", "url", u.Redacted())
	return nil
}

func (w *WebSocket) current() *websocket.Conn {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn
}

// Send writes one frame. Only the writer goroutine may call it.
func (w *WebSocket) Send(ctx context.Context, f Frame) error {
	conn := w.current()
	if conn == nil {
		return ErrClosed
	}
	typ := websocket.MessageText
	if f.Kind == KindBinary {
		typ = websocket.MessageBinary
	}
	if err := conn.Write(ctx, typ, f.Payload); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// Receive blocks for the next frame. Only the reader goroutine may call it.
func (w *WebSocket) Receive(ctx context.Context) (Frame, error) {
	conn := w.current()
	if conn == nil {
		return Frame{}, ErrClosed
	}
	typ, data, err := conn.Read(ctx)
	if err != nil {
		return Frame{}, fmt.Errorf("transport: read: %w", err)
	}
	kind := KindText
	if typ == websocket.MessageBinary {
		kind = KindBinary
	}
	return Frame{Kind: kind, Payload: data}, nil
}

// Close performs the closing handshake with a normal-closure status. If the handshake
// fails the connection is torn down immediately. Calling Close on a closed transport is a no-op.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()
	if conn == nil {
		return nil
	}

	err := conn.Close(websocket.StatusNormalClosure, "client disconnect")
	if err != nil {
		// The peer may already be gone; make sure the socket is released anyway.
		_ = conn.CloseNow()
		if IsNormalClosure(err) {
			return nil
		}
		return fmt.Errorf("transport: close: %w", err)
	}
	return nil
}

// IsNormalClosure reports whether err carries a normal or going-away close status.
func IsNormalClosure(err error) bool {
	if err == nil {
		return false
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, ErrClosed)
}
