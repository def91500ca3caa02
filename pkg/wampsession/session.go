// Package wampsession is the boundary to the underlying WAMP protocol
// library. The rest of go-waapi talks to a Session and never to the wire:
// message framing, serialization and RPC/pub-sub semantics all live behind
// this interface, supplied by github.com/gammazero/nexus.
package wampsession

import (
	"context"
	"errors"
)

// Dict is the keyword-argument mapping used for call arguments, call
// results, subscribe options and event payloads.
type Dict = map[string]any

// EventHandler receives one inbound published event. It is invoked by the
// protocol layer with the event's positional and keyword payload.
type EventHandler func(args []any, kwargs Dict)

// Subscription is the opaque token the protocol layer returns for an active
// topic subscription. Every Subscribe call yields a distinct token, even for
// a topic that is already subscribed.
type Subscription interface {
	// ID is the session-assigned token ID, unique per Subscribe call.
	ID() uint64
	// Topic is the topic URI the subscription was created for.
	Topic() string
}

// ErrNoSuchSubscription classifies an unsubscribe of a token the session no
// longer knows about. Callers match it with errors.Is.
var ErrNoSuchSubscription = errors.New("wampsession: no such subscription")

// Session is one joined WAMP session. All methods must be used from a single
// goroutine; go-waapi's worker loop is that goroutine.
type Session interface {
	// Call invokes a remote procedure and returns the reply's keyword
	// results. A reply without keyword results yields an empty non-nil Dict.
	Call(ctx context.Context, procedure string, options, kwargs Dict) (Dict, error)

	// Subscribe registers h for events published on topic and returns the
	// subscription token. A topic may carry any number of handlers; each
	// published event reaches all of them.
	Subscribe(topic string, h EventHandler, options Dict) (Subscription, error)

	// Unsubscribe removes an active subscription. Unsubscribing a token the
	// session does not hold returns ErrNoSuchSubscription.
	Unsubscribe(sub Subscription) error

	// Leave ends the session with a goodbye handshake.
	Leave() error

	// Done is closed when the session ends for any reason, including a
	// server-side drop or network loss.
	Done() <-chan struct{}
}

// Dialer produces a joined Session. The worker loop owns the returned
// session for its whole lifetime.
type Dialer func(ctx context.Context) (Session, error)
