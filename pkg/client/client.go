// Package client provides the synchronous-looking facade over the WAMP
// session worker. A Client connects on construction, translates each API
// call into a request on the worker's queue, and blocks the calling
// goroutine until the worker fulfills the request's completion cell.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lightforgemedia/go-waapi/pkg/bridge"
	"github.com/lightforgemedia/go-waapi/pkg/wampsession"
)

// Defaults for the authoring tool's loopback WAMP endpoint.
const (
	DefaultURL            = "ws://127.0.0.1:8080/waapi"
	DefaultRealm          = "realm1"
	defaultConnectTimeout = 10 * time.Second
)

// Dict is the keyword-argument mapping used throughout the API.
type Dict = wampsession.Dict

// ErrCannotConnect is returned by Connect when no session can be established
// within the handshake timeout.
var ErrCannotConnect = errors.New("waapi: cannot connect")

// Client is a connected client for the authoring tool's WAMP server.
//
// A successfully constructed Client is connected until Disconnect is called
// or the server drops the session. Each method blocks its calling goroutine
// until the worker loop completes the operation; subscription callbacks run
// on the session's goroutine, not the caller's.
type Client struct {
	config clientConfig
	urlStr string

	dec    *bridge.Decoupler
	worker *bridge.Worker

	subsMu sync.Mutex
	subs   map[*Subscription]struct{}
}

// Connect establishes a session with the WAMP server at urlStr and returns a
// connected Client. An empty urlStr selects DefaultURL. Connection is part
// of construction: on failure the error wraps ErrCannotConnect and no Client
// is returned.
func Connect(urlStr string, opts ...Option) (*Client, error) {
	if urlStr == "" {
		urlStr = DefaultURL
	}
	c := &Client{
		config: clientConfig{
			logger:         slog.Default(),
			realm:          DefaultRealm,
			queueSize:      bridge.DefaultQueueSize,
			connectTimeout: defaultConnectTimeout,
		},
		urlStr: urlStr,
		subs:   make(map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	dialer := c.config.dialer
	if dialer == nil {
		dialer = func(ctx context.Context) (wampsession.Session, error) {
			dialCtx, cancel := context.WithTimeout(ctx, c.config.connectTimeout)
			defer cancel()
			return wampsession.Dial(dialCtx, c.urlStr, c.config.realm, c.config.logger)
		}
	}

	c.dec = bridge.NewDecoupler(c.config.queueSize)
	c.worker = bridge.StartWorker(dialer, c.dec, c.config.logger)

	// Plain blocking wait, deliberately independent of the worker's select
	// loop: the signal fires even when the dial fails.
	c.dec.WaitForJoined()
	if !c.worker.Alive() {
		return nil, fmt.Errorf("%w: %s", ErrCannotConnect, c.urlStr)
	}
	c.config.logger.Debug("waapi client: connected", "url", c.urlStr)
	return c, nil
}

// TryConnect is the non-failing form of Connect: it returns nil instead of
// an error when no connection can be established.
func TryConnect(urlStr string, opts ...Option) *Client {
	c, err := Connect(urlStr, opts...)
	if err != nil {
		return nil
	}
	return c
}

// Call performs a remote procedure call and returns the reply's keyword
// results, or nil if the call failed or the client is no longer connected.
//
// kwargs follows the protocol's conventions: a "options" entry holding a
// Dict is passed to the protocol layer as call options, and a "callback"
// entry holding an EventCallback (or func(Dict)) is invoked with the result
// before Call returns.
func (c *Client) Call(uri string, kwargs Dict) Dict {
	req := bridge.NewRequest(bridge.KindCall)
	req.URI = uri
	req.Kwargs, req.Options, req.Callback = splitCallKwargs(kwargs)

	result, _ := c.doRequest(req).(Dict)
	return result
}

// Subscribe subscribes callback to events published on the topic uri. kwargs
// are passed to the protocol layer as subscribe options. It returns the
// subscription handle, or nil if the subscription failed or the client is no
// longer connected.
func (c *Client) Subscribe(uri string, callback EventCallback, kwargs Dict) *Subscription {
	return c.SubscribeHandler(uri, &funcHandler{fn: callback}, kwargs)
}

// SubscribeHandler is Subscribe for callers providing their own EventHandler
// implementation instead of a plain callback.
func (c *Client) SubscribeHandler(uri string, handler EventHandler, kwargs Dict) *Subscription {
	if handler == nil {
		handler = &funcHandler{}
	}
	sub := &Subscription{client: c, topic: uri, handler: handler}

	req := bridge.NewRequest(bridge.KindSubscribe)
	req.URI = uri
	req.Options = cloneDict(kwargs)
	req.Callback = handler.OnEvent

	token, ok := c.doRequest(req).(wampsession.Subscription)
	if !ok || token == nil {
		return nil
	}
	sub.setToken(token)

	c.subsMu.Lock()
	c.subs[sub] = struct{}{}
	c.subsMu.Unlock()
	return sub
}

// Unsubscribe cancels the subscription held by sub. It returns true on
// success and false otherwise; a handle that is not in the client's active
// set is a no-op. Unsubscribe never blocks on a dead client.
func (c *Client) Unsubscribe(sub *Subscription) bool {
	if sub == nil {
		return false
	}
	c.subsMu.Lock()
	_, member := c.subs[sub]
	c.subsMu.Unlock()
	if !member {
		return false
	}

	req := bridge.NewRequest(bridge.KindUnsubscribe)
	req.Subscription = sub.takeToken()

	ok, _ := c.doRequest(req).(bool)
	if ok {
		c.subsMu.Lock()
		delete(c.subs, sub)
		c.subsMu.Unlock()
		sub.clearToken()
	}
	return ok
}

// Disconnect gracefully ends the session and waits for the worker goroutine
// to exit. It returns false if the client is not connected, so a second
// Disconnect is a safe no-op. Active subscriptions are dropped locally
// without individual unsubscribe round trips; session teardown invalidates
// them on the server.
func (c *Client) Disconnect() bool {
	if !c.IsConnected() {
		return false
	}

	c.doRequest(bridge.NewRequest(bridge.KindStop))

	c.subsMu.Lock()
	c.subs = make(map[*Subscription]struct{})
	c.subsMu.Unlock()

	<-c.worker.Done()
	c.config.logger.Debug("waapi client: disconnected", "url", c.urlStr)
	return true
}

// Close disconnects if still connected. It exists so a Client can be managed
// with defer; well-behaved callers should still call Disconnect explicitly.
func (c *Client) Close() error {
	c.Disconnect()
	return nil
}

// IsConnected reports whether the session joined and the worker goroutine is
// still running. Both halves matter: a joined session can die asynchronously
// afterwards.
func (c *Client) IsConnected() bool {
	return c.dec.HasJoined() && c.worker.Alive()
}

// Subscriptions returns a snapshot of the active subscription handles.
// Mutating the returned slice does not affect the client.
func (c *Client) Subscriptions() []*Subscription {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	snapshot := make([]*Subscription, 0, len(c.subs))
	for sub := range c.subs {
		snapshot = append(snapshot, sub)
	}
	return snapshot
}

// doRequest submits one request to the worker and blocks until its
// completion cell resolves. A dead worker yields nil immediately, without
// submitting, so callers never block against a client that cannot answer.
func (c *Client) doRequest(req *bridge.Request) any {
	if !c.worker.Alive() {
		return nil
	}
	c.dec.Put(req)
	return req.Wait()
}

// splitCallKwargs separates the protocol conventions embedded in a call's
// kwargs: the "options" sub-mapping and an optional result "callback". The
// caller's map is left untouched.
func splitCallKwargs(kwargs Dict) (rest, options Dict, callback func(Dict)) {
	rest = make(Dict, len(kwargs))
	for key, value := range kwargs {
		switch key {
		case "options":
			if dict, ok := value.(Dict); ok {
				options = dict
				continue
			}
		case "callback":
			switch fn := value.(type) {
			case EventCallback:
				callback = fn
				continue
			case func(Dict):
				callback = fn
				continue
			}
		}
		rest[key] = value
	}
	return rest, options, callback
}

func cloneDict(d Dict) Dict {
	if d == nil {
		return nil
	}
	clone := make(Dict, len(d))
	for k, v := range d {
		clone[k] = v
	}
	return clone
}
