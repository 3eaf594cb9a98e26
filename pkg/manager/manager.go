// Package manager keeps a registry of named clients, each connected to its own peer,
// and routes calls to them by id. Status changes of every managed client are fanned
// out on an in-process bus that callers can Watch.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cskr/pubsub"
	"github.com/lightforgemedia/go-wsrpc/pkg/client"
)

const topicStatus = "status"

var (
	ErrClientNotFound = errors.New("manager: client not found")
	ErrClientExists   = errors.New("manager: client already exists")
	ErrManagerClosed  = errors.New("manager: closed")
)

// StatusEvent is published for every state transition of a managed client.
type StatusEvent struct {
	ClientID string
	State    client.State
	Err      string
	At       time.Time
}

// Manager owns a set of clients keyed by id.
type Manager struct {
	config managerConfig

	mu      sync.Mutex
	clients map[string]*client.Client
	adding  map[string]struct{} // ids reserved by an AddClient that is still connecting
	closed  bool

	busMu     sync.Mutex
	bus       *pubsub.PubSub
	busClosed bool
}

// New creates an empty Manager.
func New(opts ...Option) *Manager {
	cfg := managerConfig{
		logger:      slog.Default(),
		busCapacity: defaultBusCapacity,
		watchBuffer: defaultWatchBuffer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Manager{
		config:  cfg,
		clients: make(map[string]*client.Client),
		adding:  make(map[string]struct{}),
		bus:     pubsub.New(cfg.busCapacity),
	}
}

// AddClient creates a client for rawURL, connects it and registers it under id.
// Nothing is registered unless the connection succeeds. An id that is registered or
// being added by a concurrent call is rejected with ErrClientExists.
func (m *Manager) AddClient(ctx context.Context, id, rawURL string, h client.MessageHandler, sh client.StatusHandler) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if _, ok := m.clients[id]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrClientExists, id)
	}
	if _, ok := m.adding[id]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrClientExists, id)
	}
	m.adding[id] = struct{}{}
	m.mu.Unlock()

	release := func() {
		m.mu.Lock()
		delete(m.adding, id)
		m.mu.Unlock()
	}

	opts := append([]client.Option{client.WithLogger(m.config.logger)}, m.config.clientOpts...)
	c, err := client.New(id, rawURL, h, m.relay(sh), opts...)
	if err != nil {
		release()
		return err
	}
	if err := c.Connect(ctx); err != nil {
		c.Disconnect()
		release()
		m.config.logger.Warn(fmt.Sprintf("Manager: Failed to add client %s: %v", id, err))
		return err
	}

	m.mu.Lock()
	delete(m.adding, id)
	if m.closed {
		m.mu.Unlock()
		c.Disconnect()
		return ErrManagerClosed
	}
	m.clients[id] = c
	m.mu.Unlock()

	m.config.logger.Info(fmt.Sprintf("Manager: Added client %s (%s)", id, rawURL))
	return nil
}

// RemoveClient unregisters id and disconnects its client. Unknown ids are ignored.
func (m *Manager) RemoveClient(id string) {
	m.mu.Lock()
	c, ok := m.clients[id]
	delete(m.clients, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	c.Disconnect()
	m.config.logger.Info(fmt.Sprintf("Manager: Removed client %s", id))
}

// Client retrieves a managed client by id.
func (m *Manager) Client(id string) (*client.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClientNotFound, id)
	}
	return c, nil
}

// Send performs a correlated call on the client registered under id.
func (m *Manager) Send(ctx context.Context, id string, payload []byte, timeout time.Duration) ([]byte, error) {
	c, err := m.Client(id)
	if err != nil {
		return nil, err
	}
	if c.State() != client.StateConnected {
		return nil, client.ErrNotConnected
	}
	return c.Send(ctx, payload, timeout)
}

// Reconnect disconnects the client registered under id and connects it again.
func (m *Manager) Reconnect(ctx context.Context, id string) error {
	c, err := m.Client(id)
	if err != nil {
		return err
	}
	c.Disconnect()
	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("manager: reconnect %s: %w", id, err)
	}
	return nil
}

// IterateClients calls fn for each managed client until fn returns false. It works
// on a snapshot, so fn may add or remove clients.
func (m *Manager) IterateClients(fn func(c *client.Client) bool) {
	m.mu.Lock()
	snapshot := make([]*client.Client, 0, len(m.clients))
	for _, c := range m.clients {
		snapshot = append(snapshot, c)
	}
	m.mu.Unlock()

	for _, c := range snapshot {
		if !fn(c) {
			break
		}
	}
}

// Len returns the number of registered clients.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// Close disconnects and removes every client and stops the status bus. Later calls
// to AddClient fail with ErrManagerClosed. Close is idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	clients := m.clients
	m.clients = make(map[string]*client.Client)
	m.mu.Unlock()

	m.config.logger.Info(fmt.Sprintf("Manager: Closing %d clients", len(clients)))
	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *client.Client) {
			defer wg.Done()
			c.Disconnect()
		}(c)
	}
	wg.Wait()

	m.busMu.Lock()
	m.busClosed = true
	m.bus.Shutdown()
	m.busMu.Unlock()
	m.config.logger.Info("Manager: Closed")
}

// Watch returns a channel receiving the status events of all managed clients. The
// channel is closed when ctx is done or the manager is closed.
func (m *Manager) Watch(ctx context.Context) <-chan StatusEvent {
	out := make(chan StatusEvent, m.config.watchBuffer)

	m.busMu.Lock()
	if m.busClosed {
		m.busMu.Unlock()
		close(out)
		return out
	}
	sub := m.bus.Sub(topicStatus)
	m.busMu.Unlock()

	go func() {
		defer close(out)
		done := ctx.Done()
		for {
			select {
			case <-done:
				// Keep draining until the bus closes the subscription.
				done = nil
				go m.unsubscribe(sub)
			case msg, ok := <-sub:
				if !ok {
					return
				}
				if done == nil {
					continue
				}
				ev, _ := msg.(StatusEvent)
				select {
				case out <- ev:
				default:
					m.config.logger.Debug(fmt.Sprintf("Manager: Watcher is full, dropped %s event for %s", ev.State, ev.ClientID))
				}
			}
		}
	}()
	return out
}

func (m *Manager) unsubscribe(sub chan interface{}) {
	m.busMu.Lock()
	defer m.busMu.Unlock()
	if m.busClosed {
		return
	}
	m.bus.Unsub(sub, topicStatus)
}

func (m *Manager) publish(ev StatusEvent) {
	m.busMu.Lock()
	defer m.busMu.Unlock()
	if m.busClosed {
		return
	}
	m.bus.Pub(ev, topicStatus)
}

// relay wraps the caller's status handler so every transition also reaches the bus.
func (m *Manager) relay(sh client.StatusHandler) client.StatusHandler {
	return client.StatusHandlerFunc(func(id string, state client.State, errText string) {
		ev := StatusEvent{ClientID: id, State: state, Err: errText, At: time.Now()}
		defer m.publish(ev)
		if sh != nil {
			sh.OnStatusChange(id, state, errText)
		}
	})
}
