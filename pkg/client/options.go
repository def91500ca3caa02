package client

import (
	"log/slog"
	"time"

	"github.com/lightforgemedia/go-waapi/pkg/wampsession"
)

type clientConfig struct {
	logger         *slog.Logger
	realm          string
	queueSize      int
	connectTimeout time.Duration
	dialer         wampsession.Dialer
}

// Option configures the Client.
type Option func(*Client)

// WithLogger sets a custom logging implementation.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.config.logger = logger
		}
	}
}

// WithRealm overrides the WAMP realm joined on connect.
func WithRealm(realm string) Option {
	return func(c *Client) {
		if realm != "" {
			c.config.realm = realm
		}
	}
}

// WithQueueSize bounds the request queue between callers and the worker
// loop. Callers block on submission while the queue is full.
func WithQueueSize(size int) Option {
	return func(c *Client) {
		if size > 0 {
			c.config.queueSize = size
		}
	}
}

// WithConnectTimeout bounds the connection handshake. It does not apply to
// calls made on an established session.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.config.connectTimeout = timeout
		}
	}
}

// WithDialer replaces the protocol session dialer. Used to run the client
// against a session implementation other than the default websocket dial,
// primarily in tests.
func WithDialer(dialer wampsession.Dialer) Option {
	return func(c *Client) {
		if dialer != nil {
			c.config.dialer = dialer
		}
	}
}
