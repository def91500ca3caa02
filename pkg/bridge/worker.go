package bridge

import (
	"context"
	"errors"
	"log/slog"

	"github.com/lightforgemedia/go-waapi/pkg/wampsession"
)

// Worker runs the protocol session on one dedicated goroutine. It dials,
// fires the decoupler's joined signal, then serves requests in FIFO order
// until a stop request or a protocol-initiated disconnect ends the loop.
// All session operations and all user subscription callbacks execute inside
// the session's single-threaded domain, never on a calling goroutine.
type Worker struct {
	dial wampsession.Dialer
	dec  *Decoupler
	log  *slog.Logger
	done chan struct{}
}

// StartWorker spawns the worker goroutine. The joined signal on dec is
// guaranteed to fire eventually, whether or not the dial succeeds.
func StartWorker(dial wampsession.Dialer, dec *Decoupler, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		dial: dial,
		dec:  dec,
		log:  logger,
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

// Done is closed once the worker goroutine has fully exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Alive reports whether the worker goroutine is still running.
func (w *Worker) Alive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

func (w *Worker) run() {
	sess, err := w.dial(context.Background())
	if err != nil {
		w.log.Error("waapi worker: connection failed", "err", err)
		// Close done before releasing the waiter so the facade's liveness
		// check observes a dead worker deterministically.
		close(w.done)
		w.dec.MarkJoined(false)
		return
	}
	defer close(w.done)
	w.dec.MarkJoined(true)
	w.log.Debug("waapi worker: session joined")

	for {
		select {
		case <-sess.Done():
			// Protocol-initiated disconnect. Exit silently; requests still
			// queued or in flight are abandoned, not failed.
			w.log.Debug("waapi worker: session ended, stopping dispatch")
			return
		case req := <-w.dec.Requests():
			if w.dispatch(sess, req) {
				return
			}
		}
	}
}

// dispatch serves one request and reports whether the loop should stop.
// Whatever happens inside a handler, the request's completion cell is
// fulfilled before dispatch returns so the waiting caller is released.
func (w *Worker) dispatch(sess wampsession.Session, req *Request) (stop bool) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("waapi worker: request handler panicked", "kind", req.Kind.String(), "panic", r)
			req.Fulfill(nil)
		}
	}()

	w.log.Debug("waapi worker: dispatching request", "kind", req.Kind.String(), "uri", req.URI)

	switch req.Kind {
	case KindStop:
		stop = true
		if err := sess.Leave(); err != nil {
			w.log.Debug("waapi worker: leave returned error", "err", err)
		}
		req.Fulfill(true)

	case KindCall:
		result, err := sess.Call(context.Background(), req.URI, req.Options, req.Kwargs)
		if err != nil {
			w.log.Debug("waapi worker: call failed", "uri", req.URI, "err", err)
			req.Fulfill(nil)
			return
		}
		if req.Callback != nil {
			req.Callback(result)
		}
		req.Fulfill(result)

	case KindSubscribe:
		sub, err := sess.Subscribe(req.URI, w.eventRelay(req), req.Options)
		if err != nil {
			w.log.Debug("waapi worker: subscribe failed", "uri", req.URI, "err", err)
			req.Fulfill(nil)
			return
		}
		req.Fulfill(sub)

	case KindUnsubscribe:
		// Unsubscribe never surfaces an error: the caller sees true or false.
		if err := sess.Unsubscribe(req.Subscription); err != nil {
			if !errors.Is(err, wampsession.ErrNoSuchSubscription) {
				w.log.Error("waapi worker: unsubscribe failed", "err", err)
			}
			req.Fulfill(false)
			return
		}
		req.Fulfill(true)

	default:
		w.log.Error("waapi worker: unknown request kind", "kind", int(req.Kind))
		req.Fulfill(nil)
	}
	return
}

// eventRelay adapts a subscription's user callback to the protocol layer's
// event shape. Positional arguments are dropped; only the keyword payload is
// forwarded. A panicking callback is contained here so it cannot take down
// event delivery for other subscriptions.
func (w *Worker) eventRelay(req *Request) wampsession.EventHandler {
	uri := req.URI
	callback := req.Callback
	return func(_ []any, kwargs wampsession.Dict) {
		if callback == nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("waapi worker: subscription callback panicked", "topic", uri, "panic", r)
			}
		}()
		if kwargs == nil {
			kwargs = wampsession.Dict{}
		}
		callback(kwargs)
	}
}
