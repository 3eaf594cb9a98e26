// pkg/client/client.go
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightforgemedia/go-wsrpc/pkg/transport"
)

// Stats is a snapshot of a client's counters.
type Stats struct {
	Pending        int    // calls currently waiting for a response
	Orphans        uint64 // responses with no waiting call (late or duplicate)
	Discarded      uint64 // frames that were neither report nor response
	Reports        uint64 // reports handed to the handler
	ReportFailures uint64 // reports whose handler returned an error or panicked
	Dropped        uint64 // queued frames and reports thrown away on disconnect
}

type statusChange struct {
	state   State
	errText string
}

// Client multiplexes correlated calls and pushed reports over one WebSocket
// connection. A connected Client runs three goroutines: a reader that routes
// inbound frames, a writer that drains the outbound queue and a dispatcher that
// feeds reports to the MessageHandler in wire order.
type Client struct {
	id      string
	url     string
	config  clientConfig
	handler MessageHandler
	status  StatusHandler

	stateMu    sync.Mutex
	state      State
	gen        uint64 // incremented by every Connect; stale workers compare against it
	stopping   bool   // a Disconnect is in progress
	tr         transport.Transport
	dialCancel context.CancelFunc
	cancel     context.CancelFunc
	workers    sync.WaitGroup
	changes    []statusChange // transitions not yet handed to the StatusHandler
	delivering bool           // a goroutine is draining changes

	pending  *pendingTable
	outbound *queue[transport.Frame]
	reports  *queue[[]byte]

	orphans        atomic.Uint64
	discarded      atomic.Uint64
	dispatched     atomic.Uint64
	reportFailures atomic.Uint64
	dropped        atomic.Uint64
}

// New creates a disconnected client for rawURL. The URL is validated here so a
// malformed address never reaches the network.
func New(id, rawURL string, h MessageHandler, sh StatusHandler, opts ...Option) (*Client, error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	if _, err := transport.ParseURL(rawURL); err != nil {
		return nil, err
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.finalize()

	return &Client{
		id:       id,
		url:      rawURL,
		config:   cfg,
		handler:  h,
		status:   sh,
		state:    StateDisconnected,
		pending:  newPendingTable(),
		outbound: newQueue[transport.Frame](),
		reports:  newQueue[[]byte](),
	}, nil
}

// NewWithOptions creates a client from an Options struct.
func NewWithOptions(id, rawURL string, h MessageHandler, sh StatusHandler, opts Options) (*Client, error) {
	return New(id, rawURL, h, sh, opts.asOptions()...)
}

// ID returns the identifier the client reports to its StatusHandler.
func (c *Client) ID() string { return c.id }

// URL returns the peer address.
func (c *Client) URL() string { return c.url }

// State returns the current connection state.
func (c *Client) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Stats returns a snapshot of the client's counters.
func (c *Client) Stats() Stats {
	return Stats{
		Pending:        c.pending.len(),
		Orphans:        c.orphans.Load(),
		Discarded:      c.discarded.Load(),
		Reports:        c.dispatched.Load(),
		ReportFailures: c.reportFailures.Load(),
		Dropped:        c.dropped.Load(),
	}
}

// Connect dials the peer and starts the workers. It fails with ErrInvalidState
// unless the client is disconnected, so a client never has two connection attempts
// in flight. There is no retry; a failed attempt leaves the client in StateError
// until Disconnect is called.
func (c *Client) Connect(ctx context.Context) error {
	c.stateMu.Lock()
	if c.state != StateDisconnected || c.stopping {
		st := c.state
		c.stateMu.Unlock()
		return fmt.Errorf("%w: cannot connect while %s", ErrInvalidState, st)
	}
	c.gen++
	gen := c.gen
	tr := c.config.newTransport()
	c.tr = tr
	dialCtx, dialCancel := context.WithTimeout(ctx, c.config.connectTimeout)
	c.dialCancel = dialCancel
	c.setState(StateConnecting, "")
	c.stateMu.Unlock()

	c.flushStatus()
	c.config.logger.Info(fmt.Sprintf("Client %s: Connecting to %s", c.id, c.url))

	err := tr.Connect(dialCtx, c.url)
	dialCancel()

	c.stateMu.Lock()
	if c.gen != gen || c.state != StateConnecting {
		// Disconnect ran while we were dialing.
		c.stateMu.Unlock()
		_ = tr.Close()
		return ErrClientDisconnected
	}
	c.dialCancel = nil
	if err != nil {
		c.setState(StateError, err.Error())
		c.stateMu.Unlock()
		c.config.logger.Warn(fmt.Sprintf("Client %s: Connect to %s failed: %v", c.id, c.url, err))
		c.flushStatus()
		return fmt.Errorf("client %s: connect: %w", c.id, err)
	}

	c.outbound.reset()
	c.reports.reset()
	c.pending.open()
	workerCtx, workerCancel := context.WithCancel(context.Background())
	c.cancel = workerCancel
	c.setState(StateConnected, "")
	c.spawn(gen, "reader", func() error { return c.readLoop(workerCtx, tr) })
	c.spawn(gen, "writer", func() error { return c.writeLoop(workerCtx, tr) })
	c.spawn(gen, "dispatcher", func() error { return c.dispatchLoop(workerCtx) })
	c.stateMu.Unlock()

	c.config.logger.Info(fmt.Sprintf("Client %s: Connected to %s", c.id, c.url))
	c.flushStatus()
	return nil
}

// Disconnect cancels a dial in progress, stops the workers, closes the connection
// and fails every pending call with ErrClientDisconnected. It is idempotent: a call
// on a disconnected client, or a call that overlaps another Disconnect, returns
// immediately.
func (c *Client) Disconnect() {
	c.stateMu.Lock()
	if c.stopping || c.state == StateDisconnected {
		c.stateMu.Unlock()
		return
	}
	c.stopping = true
	prev := c.state
	c.state = StateDisconnected
	tr, cancel, dialCancel := c.tr, c.cancel, c.dialCancel
	c.tr, c.cancel, c.dialCancel = nil, nil, nil
	c.stateMu.Unlock()

	c.config.logger.Info(fmt.Sprintf("Client %s: Disconnecting (was %s)", c.id, prev))

	if dialCancel != nil {
		dialCancel()
	}

	// Closing first unblocks the reader; cancelling wakes the writer and dispatcher.
	if tr != nil {
		if err := tr.Close(); err != nil {
			c.config.logger.Debug(fmt.Sprintf("Client %s: Transport close: %v", c.id, err))
		}
	}
	if cancel != nil {
		cancel()
	}
	c.workers.Wait()

	swept := c.pending.sweep(ErrClientDisconnected)
	dropped := c.outbound.reset() + c.reports.reset()
	c.dropped.Add(uint64(dropped))

	c.stateMu.Lock()
	c.stopping = false
	c.changes = append(c.changes, statusChange{state: StateDisconnected})
	c.stateMu.Unlock()

	c.config.logger.Info(fmt.Sprintf("Client %s: Disconnected (failed %d pending calls, dropped %d queued messages)", c.id, swept, dropped))
	c.flushStatus()
}

// Send writes payload and blocks until the response carrying the same correlation
// id arrives, timeout elapses or ctx is done. timeout <= 0 selects the default
// request timeout. Giving up is local only; the peer is not told.
func (c *Client) Send(ctx context.Context, payload []byte, timeout time.Duration) ([]byte, error) {
	if c.State() != StateConnected {
		return nil, ErrNotConnected
	}
	id := c.handler.CorrelationID(payload)
	if id == "" {
		return nil, ErrNoCorrelationID
	}
	call, err := c.pending.add(id)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = c.config.defaultRequestTimeout
	}

	c.outbound.push(transport.Frame{Kind: transport.KindText, Payload: payload})
	c.config.logger.Debug(fmt.Sprintf("Client %s: Queued call %s", c.id, id))

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-call.done:
		return res.payload, res.err
	case <-timer.C:
		return c.abandon(call, fmt.Errorf("%w: call %s after %v", ErrRequestTimeout, id, timeout))
	case <-ctx.Done():
		return c.abandon(call, fmt.Errorf("client %s: call %s: %w", c.id, id, ctx.Err()))
	}
}

// abandon removes call after the caller gave up. If a response or a sweep got to the
// call first, that outcome wins and is returned instead of giveUp.
func (c *Client) abandon(call *pendingCall, giveUp error) ([]byte, error) {
	if c.pending.remove(call) {
		return nil, giveUp
	}
	res := <-call.done
	return res.payload, res.err
}

// Post queues a frame without waiting for any answer.
func (c *Client) Post(kind transport.MessageKind, payload []byte) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}
	c.outbound.push(transport.Frame{Kind: kind, Payload: payload})
	return nil
}

// spawn runs fn as a worker of connection gen. A worker that returns an error has
// hit a transport failure; it leaves the WaitGroup before the failure is reported so
// a status handler may call Disconnect.
func (c *Client) spawn(gen uint64, name string, fn func() error) {
	c.workers.Add(1)
	go func() {
		err := fn()
		c.workers.Done()
		if err != nil {
			c.fail(gen, name, err)
		}
	}()
}

// fail moves a connected client to StateError, ends the connection and fails its
// pending calls. The transport and worker context stay recorded so Disconnect can
// still join the workers and reset the client.
func (c *Client) fail(gen uint64, worker string, err error) {
	c.stateMu.Lock()
	if c.gen != gen || c.state != StateConnected {
		c.stateMu.Unlock()
		return
	}
	c.setState(StateError, err.Error())
	tr, cancel := c.tr, c.cancel
	c.stateMu.Unlock()

	if tr != nil {
		if cerr := tr.Close(); cerr != nil {
			c.config.logger.Debug(fmt.Sprintf("Client %s: Transport close: %v", c.id, cerr))
		}
	}
	if cancel != nil {
		cancel()
	}
	swept := c.pending.sweep(ErrConnectionLost)
	c.config.logger.Warn(fmt.Sprintf("Client %s: %s failed: %v (failed %d pending calls)", c.id, worker, err, swept))
	c.flushStatus()
}

func (c *Client) connected() bool {
	return c.State() == StateConnected
}

func (c *Client) readLoop(ctx context.Context, tr transport.Transport) error {
	for {
		f, err := tr.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || !c.connected() {
				c.config.logger.Debug(fmt.Sprintf("Client %s: Reader stopping: %v", c.id, err))
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		c.route(f.Payload)
	}
}

// route classifies one inbound message. A handler that panics on a malformed
// message costs that message only.
func (c *Client) route(raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.discarded.Add(1)
			c.config.logger.Error(fmt.Sprintf("Client %s: Message handler panicked while classifying: %v", c.id, r))
		}
	}()

	switch {
	case c.handler.IsReport(raw):
		c.reports.push(raw)
	case c.handler.IsResponse(raw):
		id := c.handler.CorrelationID(raw)
		if id == "" || !c.pending.fulfil(id, raw) {
			c.orphans.Add(1)
			c.config.logger.Debug(fmt.Sprintf("Client %s: Dropped orphan response (id %q)", c.id, id))
		}
	default:
		c.discarded.Add(1)
		c.config.logger.Debug(fmt.Sprintf("Client %s: Dropped unclassifiable message (%d bytes)", c.id, len(raw)))
	}
}

func (c *Client) writeLoop(ctx context.Context, tr transport.Transport) error {
	for {
		f, ok := c.outbound.pop(ctx)
		if !ok {
			return nil
		}
		if !c.connected() {
			c.dropped.Add(1)
			continue
		}
		writeCtx, writeCancel := context.WithTimeout(ctx, c.config.writeTimeout)
		err := tr.Send(writeCtx, f)
		writeCancel()
		if err != nil {
			if ctx.Err() != nil || !c.connected() {
				return nil
			}
			return fmt.Errorf("write: %w", err)
		}
	}
}

func (c *Client) dispatchLoop(ctx context.Context) error {
	for {
		raw, ok := c.reports.pop(ctx)
		if !ok {
			return nil
		}
		c.dispatch(raw)
	}
}

func (c *Client) dispatch(raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.reportFailures.Add(1)
			c.config.logger.Error(fmt.Sprintf("Client %s: Report handler panicked: %v", c.id, r))
		}
	}()
	c.dispatched.Add(1)
	if err := c.handler.HandleReport(raw); err != nil {
		c.reportFailures.Add(1)
		c.config.logger.Warn(fmt.Sprintf("Client %s: Report handler returned error: %v", c.id, err))
	}
}

// setState moves the client to state and queues the notification. stateMu must be held.
func (c *Client) setState(state State, errText string) {
	c.state = state
	c.changes = append(c.changes, statusChange{state: state, errText: errText})
}

// flushStatus hands queued transitions to the StatusHandler in the order they
// happened. One goroutine delivers at a time; transitions queued meanwhile,
// including those caused from inside the handler, are delivered by it before it
// returns.
func (c *Client) flushStatus() {
	c.stateMu.Lock()
	if c.delivering {
		c.stateMu.Unlock()
		return
	}
	c.delivering = true
	for len(c.changes) > 0 {
		next := c.changes[0]
		c.changes = c.changes[1:]
		c.stateMu.Unlock()
		c.notify(next.state, next.errText)
		c.stateMu.Lock()
	}
	c.changes = nil
	c.delivering = false
	c.stateMu.Unlock()
}

func (c *Client) notify(state State, errText string) {
	if c.status == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.config.logger.Error(fmt.Sprintf("Client %s: Status handler panicked: %v", c.id, r))
		}
	}()
	c.status.OnStatusChange(c.id, state, errText)
}

// IsDisconnectError reports whether err means the call was failed by a disconnect
// or a broken connection rather than by the peer or a timeout.
func IsDisconnectError(err error) bool {
	return errors.Is(err, ErrClientDisconnected) || errors.Is(err, ErrConnectionLost)
}
