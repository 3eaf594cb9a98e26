package client

import (
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/lightforgemedia/go-wsrpc/pkg/transport"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultRequestTimeout = 10 * time.Second
	defaultWriteTimeout   = 5 * time.Second
)

type clientConfig struct {
	logger                *slog.Logger
	connectTimeout        time.Duration
	defaultRequestTimeout time.Duration
	writeTimeout          time.Duration
	newTransport          func() transport.Transport
	transportOpts         []transport.Option
}

func defaultConfig() clientConfig {
	return clientConfig{
		logger:                slog.Default(),
		connectTimeout:        defaultConnectTimeout,
		defaultRequestTimeout: defaultRequestTimeout,
		writeTimeout:          defaultWriteTimeout,
	}
}

// finalize fills in the transport factory once all options are applied.
func (c *clientConfig) finalize() {
	if c.newTransport == nil {
		opts := append([]transport.Option{transport.WithLogger(c.logger)}, c.transportOpts...)
		c.newTransport = func() transport.Transport {
			return transport.NewWebSocket(opts...)
		}
	}
}

// Option configures the Client.
type Option func(*clientConfig)

// WithLogger sets a custom logging implementation.
func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithConnectTimeout bounds dial plus handshake in Connect.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		if timeout > 0 {
			c.connectTimeout = timeout
		}
	}
}

// WithDefaultRequestTimeout sets the timeout used by Send when it is given a timeout <= 0.
func WithDefaultRequestTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		if timeout > 0 {
			c.defaultRequestTimeout = timeout
		}
	}
}

// WithWriteTimeout bounds each frame write of the writer goroutine.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		if timeout > 0 {
			c.writeTimeout = timeout
		}
	}
}

// WithTransport replaces the WebSocket transport. The factory is called once per Connect.
func WithTransport(factory func() transport.Transport) Option {
	return func(c *clientConfig) {
		c.newTransport = factory
	}
}

// WithDialOptions sets custom websocket.DialOptions for the default transport.
func WithDialOptions(opts *websocket.DialOptions) Option {
	return func(c *clientConfig) {
		c.transportOpts = append(c.transportOpts, transport.WithDialOptions(opts))
	}
}

// WithReadLimit sets the largest inbound frame accepted by the default transport.
func WithReadLimit(n int64) Option {
	return func(c *clientConfig) {
		c.transportOpts = append(c.transportOpts, transport.WithReadLimit(n))
	}
}

// Options contains configuration values for NewWithOptions.
type Options struct {
	Logger                *slog.Logger
	DialOptions           *websocket.DialOptions
	ConnectTimeout        time.Duration
	DefaultRequestTimeout time.Duration
	WriteTimeout          time.Duration
	ReadLimit             int64
}

// DefaultOptions returns an Options struct populated with library defaults.
func DefaultOptions() Options {
	return Options{
		Logger:                slog.Default(),
		ConnectTimeout:        defaultConnectTimeout,
		DefaultRequestTimeout: defaultRequestTimeout,
		WriteTimeout:          defaultWriteTimeout,
	}
}

// asOptions converts the struct into functional options; zero values keep the defaults.
func (o Options) asOptions() []Option {
	opts := []Option{
		WithLogger(o.Logger),
		WithConnectTimeout(o.ConnectTimeout),
		WithDefaultRequestTimeout(o.DefaultRequestTimeout),
		WithWriteTimeout(o.WriteTimeout),
	}
	if o.DialOptions != nil {
		opts = append(opts, WithDialOptions(o.DialOptions))
	}
	if o.ReadLimit > 0 {
		opts = append(opts, WithReadLimit(o.ReadLimit))
	}
	return opts
}
