package manager

import (
	"log/slog"

	"github.com/lightforgemedia/go-wsrpc/pkg/client"
)

const (
	defaultBusCapacity = 64
	defaultWatchBuffer = 128
)

type managerConfig struct {
	logger      *slog.Logger
	clientOpts  []client.Option
	busCapacity int
	watchBuffer int
}

// Option configures the Manager.
type Option func(*managerConfig)

// WithLogger sets a custom logging implementation. Clients created by the manager
// share it unless WithClientOptions overrides it.
func WithLogger(logger *slog.Logger) Option {
	return func(c *managerConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClientOptions sets options applied to every client the manager creates.
func WithClientOptions(opts ...client.Option) Option {
	return func(c *managerConfig) {
		c.clientOpts = append(c.clientOpts, opts...)
	}
}

// WithBusCapacity sets the buffer size of the status bus subscriptions.
func WithBusCapacity(n int) Option {
	return func(c *managerConfig) {
		if n > 0 {
			c.busCapacity = n
		}
	}
}

// WithWatchBuffer sets the buffer of channels returned by Watch. Events for a
// watcher whose buffer is full are dropped.
func WithWatchBuffer(n int) Option {
	return func(c *managerConfig) {
		if n > 0 {
			c.watchBuffer = n
		}
	}
}
