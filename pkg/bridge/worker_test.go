package bridge_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/lightforgemedia/go-waapi/pkg/bridge"
	"github.com/lightforgemedia/go-waapi/pkg/wampsession"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

// fakeSession is a scriptable in-process stand-in for the protocol session.
type fakeSession struct {
	mu         sync.Mutex
	callFn     func(procedure string, options, kwargs wampsession.Dict) (wampsession.Dict, error)
	unsubFn    func(sub wampsession.Subscription) error
	handlers   map[string][]fakeEntry
	nextID     uint64
	callOrder  []string
	leaveCount int
	doneOnce   sync.Once
	done       chan struct{}
}

type fakeEntry struct {
	id uint64
	h  wampsession.EventHandler
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		handlers: make(map[string][]fakeEntry),
		done:     make(chan struct{}),
	}
}

type fakeToken struct {
	topic string
	id    uint64
}

func (t *fakeToken) ID() uint64    { return t.id }
func (t *fakeToken) Topic() string { return t.topic }

func (s *fakeSession) Call(_ context.Context, procedure string, options, kwargs wampsession.Dict) (wampsession.Dict, error) {
	s.mu.Lock()
	s.callOrder = append(s.callOrder, procedure)
	s.mu.Unlock()
	if s.callFn != nil {
		return s.callFn(procedure, options, kwargs)
	}
	return wampsession.Dict{}, nil
}

func (s *fakeSession) Subscribe(topic string, h wampsession.EventHandler, _ wampsession.Dict) (wampsession.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.handlers[topic] = append(s.handlers[topic], fakeEntry{id: s.nextID, h: h})
	return &fakeToken{topic: topic, id: s.nextID}, nil
}

func (s *fakeSession) Unsubscribe(sub wampsession.Subscription) error {
	if s.unsubFn != nil {
		return s.unsubFn(sub)
	}
	if sub == nil {
		return wampsession.ErrNoSuchSubscription
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.handlers[sub.Topic()]
	for i, e := range entries {
		if e.id == sub.ID() {
			s.handlers[sub.Topic()] = append(entries[:i], entries[i+1:]...)
			return nil
		}
	}
	return wampsession.ErrNoSuchSubscription
}

func (s *fakeSession) Leave() error {
	s.mu.Lock()
	s.leaveCount++
	s.mu.Unlock()
	s.doneOnce.Do(func() { close(s.done) })
	return nil
}

func (s *fakeSession) Done() <-chan struct{} {
	return s.done
}

func (s *fakeSession) deliver(topic string, args []any, kwargs wampsession.Dict) {
	s.mu.Lock()
	entries := append([]fakeEntry(nil), s.handlers[topic]...)
	s.mu.Unlock()
	for _, e := range entries {
		e.h(args, kwargs)
	}
}

func startTestWorker(t *testing.T, sess *fakeSession, queueSize int) (*bridge.Worker, *bridge.Decoupler) {
	t.Helper()
	dec := bridge.NewDecoupler(queueSize)
	w := bridge.StartWorker(func(context.Context) (wampsession.Session, error) {
		return sess, nil
	}, dec, testLogger)
	dec.WaitForJoined()
	if !dec.HasJoined() {
		t.Fatal("Expected decoupler to report joined")
	}
	t.Cleanup(func() {
		if w.Alive() {
			stop := bridge.NewRequest(bridge.KindStop)
			dec.Put(stop)
			stop.Wait()
		}
		<-w.Done()
	})
	return w, dec
}

func TestWorkerJoinSignalOnDialFailure(t *testing.T) {
	dec := bridge.NewDecoupler(0)
	w := bridge.StartWorker(func(context.Context) (wampsession.Session, error) {
		return nil, errors.New("refused")
	}, dec, testLogger)

	// The joined signal must fire even though the dial failed, and by the
	// time it does the worker is observably dead.
	dec.WaitForJoined()
	if dec.HasJoined() {
		t.Error("Expected HasJoined to be false after a failed dial")
	}
	if w.Alive() {
		t.Error("Expected worker to be dead after a failed dial")
	}
	<-w.Done()
}

func TestWorkerCallReturnsKwresults(t *testing.T) {
	sess := newFakeSession()
	sess.callFn = func(procedure string, options, kwargs wampsession.Dict) (wampsession.Dict, error) {
		if kwargs["value"] != 42 {
			t.Errorf("Expected kwargs value 42, got %v", kwargs["value"])
		}
		if options["timeout"] != 100 {
			t.Errorf("Expected options to be forwarded, got %v", options)
		}
		return wampsession.Dict{"value": 42}, nil
	}
	_, dec := startTestWorker(t, sess, 0)

	var callbackResult wampsession.Dict
	req := bridge.NewRequest(bridge.KindCall)
	req.URI = "echo.test"
	req.Kwargs = wampsession.Dict{"value": 42}
	req.Options = wampsession.Dict{"timeout": 100}
	req.Callback = func(kwargs wampsession.Dict) { callbackResult = kwargs }
	dec.Put(req)

	result, ok := req.Wait().(wampsession.Dict)
	if !ok {
		t.Fatal("Expected a Dict result")
	}
	if result["value"] != 42 {
		t.Errorf("Expected result value 42, got %v", result["value"])
	}
	// The callback fires on the worker side before the cell resolves.
	if callbackResult == nil || callbackResult["value"] != 42 {
		t.Errorf("Expected callback to receive the result, got %v", callbackResult)
	}
}

func TestWorkerCallFailureYieldsNil(t *testing.T) {
	sess := newFakeSession()
	sess.callFn = func(string, wampsession.Dict, wampsession.Dict) (wampsession.Dict, error) {
		return nil, errors.New("wamp.error.no_such_procedure")
	}
	_, dec := startTestWorker(t, sess, 0)

	callbackFired := false
	req := bridge.NewRequest(bridge.KindCall)
	req.URI = "x.y.nonexistent"
	req.Callback = func(wampsession.Dict) { callbackFired = true }
	dec.Put(req)

	if result := req.Wait(); result != nil {
		t.Errorf("Expected nil result for a failed call, got %v", result)
	}
	if callbackFired {
		t.Error("Expected callback not to fire for a failed call")
	}
}

func TestWorkerStop(t *testing.T) {
	sess := newFakeSession()
	w, dec := startTestWorker(t, sess, 0)

	req := bridge.NewRequest(bridge.KindStop)
	dec.Put(req)
	if result, ok := req.Wait().(bool); !ok || !result {
		t.Errorf("Expected stop to fulfill with true, got %v", result)
	}

	<-w.Done()
	if w.Alive() {
		t.Error("Expected worker to be dead after stop")
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.leaveCount != 1 {
		t.Errorf("Expected exactly one leave, got %d", sess.leaveCount)
	}
}

func TestWorkerSubscribeRelaysKeywordPayload(t *testing.T) {
	sess := newFakeSession()
	_, dec := startTestWorker(t, sess, 0)

	events := make(chan wampsession.Dict, 2)
	req := bridge.NewRequest(bridge.KindSubscribe)
	req.URI = "topic.a"
	req.Callback = func(kwargs wampsession.Dict) { events <- kwargs }
	dec.Put(req)

	token, ok := req.Wait().(wampsession.Subscription)
	if !ok || token == nil {
		t.Fatal("Expected a subscription token")
	}
	if token.Topic() != "topic.a" {
		t.Errorf("Expected token topic 'topic.a', got %q", token.Topic())
	}

	// Positional args are dropped; only the keyword payload reaches the
	// callback. A payload-less event still yields a non-nil Dict.
	sess.deliver("topic.a", []any{"positional"}, wampsession.Dict{"x": 1})
	sess.deliver("topic.a", nil, nil)

	first := <-events
	if first["x"] != 1 {
		t.Errorf("Expected kwargs x=1, got %v", first)
	}
	second := <-events
	if second == nil || len(second) != 0 {
		t.Errorf("Expected empty non-nil kwargs, got %v", second)
	}
}

func TestWorkerUnsubscribeResults(t *testing.T) {
	sess := newFakeSession()
	_, dec := startTestWorker(t, sess, 0)

	sub := bridge.NewRequest(bridge.KindSubscribe)
	sub.URI = "topic.b"
	dec.Put(sub)
	token := sub.Wait().(wampsession.Subscription)

	unsub := bridge.NewRequest(bridge.KindUnsubscribe)
	unsub.Subscription = token
	dec.Put(unsub)
	if ok, _ := unsub.Wait().(bool); !ok {
		t.Error("Expected first unsubscribe to fulfill with true")
	}

	// Second unsubscribe hits the classified no-such-subscription path.
	again := bridge.NewRequest(bridge.KindUnsubscribe)
	again.Subscription = token
	dec.Put(again)
	if ok, _ := again.Wait().(bool); ok {
		t.Error("Expected second unsubscribe to fulfill with false")
	}

	// An unexpected unsubscribe error is contained to false as well.
	sess.unsubFn = func(wampsession.Subscription) error { return errors.New("boom") }
	broken := bridge.NewRequest(bridge.KindUnsubscribe)
	broken.Subscription = token
	dec.Put(broken)
	if ok, _ := broken.Wait().(bool); ok {
		t.Error("Expected failing unsubscribe to fulfill with false")
	}
}

func TestWorkerPanicContainment(t *testing.T) {
	sess := newFakeSession()
	sess.callFn = func(procedure string, _, _ wampsession.Dict) (wampsession.Dict, error) {
		if procedure == "panic.now" {
			panic("handler exploded")
		}
		return wampsession.Dict{"ok": true}, nil
	}
	w, dec := startTestWorker(t, sess, 0)

	bad := bridge.NewRequest(bridge.KindCall)
	bad.URI = "panic.now"
	dec.Put(bad)
	if result := bad.Wait(); result != nil {
		t.Errorf("Expected nil result after a panicking handler, got %v", result)
	}

	// The loop survives and serves the next request.
	if !w.Alive() {
		t.Fatal("Expected worker to survive a panicking handler")
	}
	good := bridge.NewRequest(bridge.KindCall)
	good.URI = "fine"
	dec.Put(good)
	if result, ok := good.Wait().(wampsession.Dict); !ok || result["ok"] != true {
		t.Errorf("Expected the next call to succeed, got %v", result)
	}
}

func TestWorkerPanicInEventCallback(t *testing.T) {
	sess := newFakeSession()
	_, dec := startTestWorker(t, sess, 0)

	events := make(chan wampsession.Dict, 1)
	req := bridge.NewRequest(bridge.KindSubscribe)
	req.URI = "topic.c"
	calls := 0
	req.Callback = func(kwargs wampsession.Dict) {
		calls++
		if calls == 1 {
			panic("callback exploded")
		}
		events <- kwargs
	}
	dec.Put(req)
	if token := req.Wait(); token == nil {
		t.Fatal("Expected subscription to succeed")
	}

	sess.deliver("topic.c", nil, wampsession.Dict{"n": 1})
	sess.deliver("topic.c", nil, wampsession.Dict{"n": 2})
	if got := <-events; got["n"] != 2 {
		t.Errorf("Expected delivery to continue after a panicking callback, got %v", got)
	}
}

func TestWorkerFIFODispatchOrder(t *testing.T) {
	sess := newFakeSession()
	// Capacity smaller than the request count so Put blocks and unblocks.
	_, dec := startTestWorker(t, sess, 4)

	const n = 32
	requests := make([]*bridge.Request, 0, n)
	for i := 0; i < n; i++ {
		req := bridge.NewRequest(bridge.KindCall)
		req.URI = fmt.Sprintf("proc.%03d", i)
		requests = append(requests, req)
		dec.Put(req)
	}
	for _, req := range requests {
		req.Wait()
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if len(sess.callOrder) != n {
		t.Fatalf("Expected %d dispatched calls, got %d", n, len(sess.callOrder))
	}
	for i, procedure := range sess.callOrder {
		if want := fmt.Sprintf("proc.%03d", i); procedure != want {
			t.Fatalf("Expected dispatch %d to be %s, got %s", i, want, procedure)
		}
	}
}

func TestWorkerFIFOUnderConcurrentProducers(t *testing.T) {
	sess := newFakeSession()
	// Several producers contending for a queue smaller than the load.
	_, dec := startTestWorker(t, sess, 4)

	const producers, perProducer = 8, 16
	all := make([][]*bridge.Request, producers)
	for p := 0; p < producers; p++ {
		all[p] = make([]*bridge.Request, perProducer)
		for i := 0; i < perProducer; i++ {
			req := bridge.NewRequest(bridge.KindCall)
			req.URI = fmt.Sprintf("proc.%d.%d", p, i)
			all[p][i] = req
		}
	}

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(reqs []*bridge.Request) {
			defer wg.Done()
			for _, req := range reqs {
				dec.Put(req)
			}
		}(all[p])
	}
	wg.Wait()
	for _, reqs := range all {
		for _, req := range reqs {
			if _, ok := req.Wait().(wampsession.Dict); !ok {
				t.Fatal("Expected every request to resolve with a Dict")
			}
		}
	}

	sess.mu.Lock()
	order := append([]string(nil), sess.callOrder...)
	sess.mu.Unlock()
	if len(order) != producers*perProducer {
		t.Fatalf("Expected %d dispatched calls, got %d", producers*perProducer, len(order))
	}
	// Dispatch may interleave producers, but never reorders any single
	// producer's enqueue sequence.
	next := make([]int, producers)
	for _, procedure := range order {
		var p, i int
		if _, err := fmt.Sscanf(procedure, "proc.%d.%d", &p, &i); err != nil {
			t.Fatalf("Unexpected dispatched procedure %q", procedure)
		}
		if i != next[p] {
			t.Fatalf("Expected producer %d's next dispatch to be %d, got %d", p, next[p], i)
		}
		next[p]++
	}
}

func TestWorkerExitsOnSessionDisconnect(t *testing.T) {
	sess := newFakeSession()
	w, dec := startTestWorker(t, sess, 0)

	// Protocol-initiated drop: the worker exits without serving anything
	// further, and a request enqueued afterwards is abandoned unresolved.
	sess.doneOnce.Do(func() { close(sess.done) })
	<-w.Done()

	abandoned := bridge.NewRequest(bridge.KindCall)
	abandoned.URI = "too.late"
	dec.Put(abandoned)

	fulfilled := make(chan any, 1)
	go func() { fulfilled <- abandoned.Wait() }()
	select {
	case v := <-fulfilled:
		t.Errorf("Expected the abandoned request to stay unresolved, got %v", v)
	case <-time.After(100 * time.Millisecond):
	}
	// Release the waiter goroutine for the leak check.
	abandoned.Fulfill(nil)
	<-fulfilled
}
