// Package waapi is a client library for automating a digital audio
// authoring tool over its WAMP pub/sub and RPC interface.
//
// The API is synchronous: construct a client with Connect (connection is
// part of construction), then Call, Subscribe and Unsubscribe block the
// calling goroutine until the operation completes. Under the hood a
// dedicated worker goroutine owns the protocol session and serves requests
// one at a time in submission order; subscription callbacks are delivered on
// that side, never on the calling goroutine.
//
//	c, err := waapi.Connect("")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer c.Close()
//	info := c.Call("ak.wwise.core.getInfo", nil)
package waapi

import (
	"github.com/lightforgemedia/go-waapi/pkg/client"
)

// Re-export core types
type (
	Client        = client.Client
	Subscription  = client.Subscription
	Dict          = client.Dict
	EventHandler  = client.EventHandler
	EventCallback = client.EventCallback
	Option        = client.Option
)

// Re-export error values
var ErrCannotConnect = client.ErrCannotConnect

// Default endpoint of the authoring tool's WAMP server.
const (
	DefaultURL   = client.DefaultURL
	DefaultRealm = client.DefaultRealm
)

// Re-export client options
var (
	WithLogger         = client.WithLogger
	WithRealm          = client.WithRealm
	WithQueueSize      = client.WithQueueSize
	WithConnectTimeout = client.WithConnectTimeout
	WithDialer         = client.WithDialer
)

// Connect establishes a session with the server at urlStr ("" selects
// DefaultURL) and returns a connected client, or an error wrapping
// ErrCannotConnect.
func Connect(urlStr string, opts ...Option) (*Client, error) {
	return client.Connect(urlStr, opts...)
}

// TryConnect is the non-failing form of Connect, returning nil when no
// connection can be established.
func TryConnect(urlStr string, opts ...Option) *Client {
	return client.TryConnect(urlStr, opts...)
}
