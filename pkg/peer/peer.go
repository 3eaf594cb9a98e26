// Package peer is a reference server for the envelope protocol. It accepts WebSocket
// connections, answers each request through a Responder and can push reports or
// arbitrary frames to every connected client. Tests and cmd/mockpeer use it to stand
// in for a printer.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/lightforgemedia/go-wsrpc/pkg/envelope"
)

const defaultWriteTimeout = 5 * time.Second

// ErrNoConnections is returned by Push and SendRaw when no client is connected.
var ErrNoConnections = errors.New("peer: no connected clients")

// Responder answers one request. Returning a nil envelope sends nothing.
type Responder func(req *envelope.Envelope) (*envelope.Envelope, error)

// EchoResponder answers every request with {"code":0} under the request id.
func EchoResponder(req *envelope.Envelope) (*envelope.Envelope, error) {
	return envelope.NewResponse(req, map[string]int{"code": 0})
}

// SilentResponder never answers.
func SilentResponder(*envelope.Envelope) (*envelope.Envelope, error) {
	return nil, nil
}

type peerConfig struct {
	logger        *slog.Logger
	acceptOptions *websocket.AcceptOptions
	responder     Responder
	writeTimeout  time.Duration
}

// Option configures a Peer.
type Option func(*peerConfig)

// WithLogger sets a custom logging implementation.
func WithLogger(logger *slog.Logger) Option {
	return func(c *peerConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithResponder sets the function that answers requests.
func WithResponder(r Responder) Option {
	return func(c *peerConfig) {
		if r != nil {
			c.responder = r
		}
	}
}

// WithAcceptOptions provides custom websocket.AcceptOptions.
func WithAcceptOptions(opts *websocket.AcceptOptions) Option {
	return func(c *peerConfig) {
		c.acceptOptions = opts
	}
}

type peerConn struct {
	ws     *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// Peer is the server side of the protocol.
type Peer struct {
	config peerConfig

	mu       sync.Mutex
	conns    map[*peerConn]struct{}
	requests int
	shutdown bool

	mainCtx    context.Context
	mainCancel context.CancelFunc
}

// New creates a Peer. Mount Handler on an HTTP server to use it.
func New(opts ...Option) *Peer {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	p := &Peer{
		config: peerConfig{
			logger:        slog.Default(),
			acceptOptions: &websocket.AcceptOptions{},
			responder:     EchoResponder,
			writeTimeout:  defaultWriteTimeout,
		},
		conns:      make(map[*peerConn]struct{}),
		mainCtx:    mainCtx,
		mainCancel: mainCancel,
	}
	for _, opt := range opts {
		opt(&p.config)
	}
	return p
}

// Handler returns an http.HandlerFunc that upgrades requests to WebSocket connections.
func (p *Peer) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		closed := p.shutdown
		p.mu.Unlock()
		if closed {
			http.Error(w, "peer is shutting down", http.StatusServiceUnavailable)
			return
		}

		ws, err := websocket.Accept(w, r, p.config.acceptOptions)
		if err != nil {
			p.config.logger.Info("Peer: failed to accept websocket connection", "error", err)
			return
		}
		ctx, cancel := context.WithCancel(p.mainCtx)
		pc := &peerConn{ws: ws, ctx: ctx, cancel: cancel}

		p.mu.Lock()
		p.conns[pc] = struct{}{}
		p.mu.Unlock()
		p.config.logger.Info("Peer: client connected", "remote", r.RemoteAddr)

		p.readLoop(pc)
	}
}

func (p *Peer) readLoop(pc *peerConn) {
	defer func() {
		p.mu.Lock()
		delete(p.conns, pc)
		p.mu.Unlock()
		pc.cancel()
		_ = pc.ws.CloseNow()
		p.config.logger.Info("Peer: client disconnected")
	}()

	for {
		typ, data, err := pc.ws.Read(pc.ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		p.mu.Lock()
		p.requests++
		p.mu.Unlock()

		req, err := envelope.Parse(data)
		if err != nil {
			p.config.logger.Debug("Peer: ignoring malformed frame", "error", err)
			continue
		}
		resp, err := p.config.responder(req)
		if err != nil {
			p.config.logger.Warn("Peer: responder failed", "id", req.ID, "error", err)
			continue
		}
		if resp == nil {
			continue
		}
		raw, err := resp.Marshal()
		if err != nil {
			p.config.logger.Warn("Peer: failed to marshal response", "id", req.ID, "error", err)
			continue
		}
		if err := p.write(pc, raw); err != nil {
			return
		}
	}
}

func (p *Peer) write(pc *peerConn, raw []byte) error {
	ctx, cancel := context.WithTimeout(pc.ctx, p.config.writeTimeout)
	defer cancel()
	return pc.ws.Write(ctx, websocket.MessageText, raw)
}

func (p *Peer) snapshot() []*peerConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	conns := make([]*peerConn, 0, len(p.conns))
	for pc := range p.conns {
		conns = append(conns, pc)
	}
	return conns
}

// SendRaw writes raw as a text frame to every connected client.
func (p *Peer) SendRaw(raw []byte) error {
	conns := p.snapshot()
	if len(conns) == 0 {
		return ErrNoConnections
	}
	var errs []error
	for _, pc := range conns {
		if err := p.write(pc, raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Send marshals env and writes it to every connected client.
func (p *Peer) Send(env *envelope.Envelope) error {
	raw, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("peer: marshal: %w", err)
	}
	return p.SendRaw(raw)
}

// Push sends a notification report with the given method and data.
func (p *Peer) Push(method int, data any) error {
	env, err := envelope.NewReport(method, data)
	if err != nil {
		return err
	}
	return p.Send(env)
}

// CloseConnections closes every client connection with a normal closure.
func (p *Peer) CloseConnections() {
	for _, pc := range p.snapshot() {
		_ = pc.ws.Close(websocket.StatusNormalClosure, "peer closing connection")
		pc.cancel()
	}
}

// Connections returns the number of connected clients.
func (p *Peer) Connections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// Requests returns how many text frames the peer has received.
func (p *Peer) Requests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests
}

// Shutdown rejects new connections and drops the existing ones.
func (p *Peer) Shutdown() {
	p.mu.Lock()
	p.shutdown = true
	p.mu.Unlock()
	p.mainCancel()
	for _, pc := range p.snapshot() {
		_ = pc.ws.CloseNow()
	}
}
