package bridge

import (
	"sync"
	"sync/atomic"
)

// DefaultQueueSize bounds the request queue when no size is configured.
const DefaultQueueSize = 32

// Decoupler is the only state shared between calling goroutines and the
// worker: a bounded FIFO queue of requests and a one-shot joined signal.
// The signal fires on a successful join and on an unrecoverable connection
// failure, so a caller waiting on it never hangs.
type Decoupler struct {
	requests chan *Request

	joinOnce  sync.Once
	joined    chan struct{}
	hasJoined atomic.Bool
}

// NewDecoupler creates a decoupler with the given queue capacity; size <= 0
// selects DefaultQueueSize.
func NewDecoupler(size int) *Decoupler {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Decoupler{
		requests: make(chan *Request, size),
		joined:   make(chan struct{}),
	}
}

// Put enqueues a request, blocking while the queue is full. Safe to call
// from any goroutine; FIFO order is preserved per producer and overall by
// the channel.
func (d *Decoupler) Put(r *Request) {
	d.requests <- r
}

// Requests exposes the queue's consumer side. Only the worker loop receives
// from it.
func (d *Decoupler) Requests() <-chan *Request {
	return d.requests
}

// MarkJoined fires the joined signal. Idempotent; only the first call has an
// effect. connected records whether the session actually joined, as opposed
// to the signal firing to release a waiter after a failed connect.
func (d *Decoupler) MarkJoined(connected bool) {
	d.joinOnce.Do(func() {
		d.hasJoined.Store(connected)
		close(d.joined)
	})
}

// WaitForJoined blocks the calling goroutine until the joined signal fires.
func (d *Decoupler) WaitForJoined() {
	<-d.joined
}

// HasJoined reports, without blocking, whether the session joined
// successfully.
func (d *Decoupler) HasJoined() bool {
	return d.hasJoined.Load()
}
