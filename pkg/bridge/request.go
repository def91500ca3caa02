// Package bridge decouples the synchronous caller-facing API from the
// single-goroutine WAMP session. Callers enqueue Requests onto a bounded
// FIFO queue (the Decoupler) and block on a one-shot completion cell; the
// Worker goroutine owns the session, drains the queue in order, and fulfills
// each cell exactly once.
package bridge

import (
	"sync"

	"github.com/lightforgemedia/go-waapi/pkg/wampsession"
)

// Kind identifies one unit of work for the worker loop.
type Kind int

const (
	KindStop Kind = iota
	KindCall
	KindSubscribe
	KindUnsubscribe
)

func (k Kind) String() string {
	switch k {
	case KindStop:
		return "stop"
	case KindCall:
		return "call"
	case KindSubscribe:
		return "subscribe"
	case KindUnsubscribe:
		return "unsubscribe"
	}
	return "unknown"
}

// Request describes one operation for the worker loop plus the cell its
// result is returned through. A Request is created by the facade, consumed
// once by the worker and discarded after fulfillment.
type Request struct {
	Kind    Kind
	URI     string
	Kwargs  wampsession.Dict
	Options wampsession.Dict

	// Callback is fired by the worker with keyword payloads: once with the
	// result of a call, or per inbound event for a subscription.
	Callback func(kwargs wampsession.Dict)

	// Subscription is the token an unsubscribe request targets.
	Subscription wampsession.Subscription

	once sync.Once
	done chan any
}

// NewRequest builds a request of the given kind with an unfulfilled
// completion cell.
func NewRequest(kind Kind) *Request {
	return &Request{Kind: kind, done: make(chan any, 1)}
}

// Fulfill resolves the completion cell. Only the worker loop calls it, and
// extra calls are ignored so the exactly-once invariant holds even on the
// failure-containment path.
func (r *Request) Fulfill(v any) {
	r.once.Do(func() { r.done <- v })
}

// Wait blocks until the request is fulfilled and returns the result. There
// is no timeout at this layer: a request abandoned by a dying session blocks
// its caller forever, which is the documented contract.
func (r *Request) Wait() any {
	return <-r.done
}
