package client

import (
	"sync"

	"github.com/lightforgemedia/go-waapi/pkg/wampsession"
)

// EventHandler receives the keyword payload of each event published on a
// subscribed topic. OnEvent runs inside the protocol session's goroutine,
// never on the goroutine that subscribed; synchronize accordingly.
type EventHandler interface {
	OnEvent(kwargs Dict)
}

// EventCallback is the plain-function form of an EventHandler.
type EventCallback func(kwargs Dict)

type funcHandler struct {
	fn EventCallback
}

func (h *funcHandler) OnEvent(kwargs Dict) {
	if h.fn != nil {
		h.fn(kwargs)
	}
}

// Subscription tracks one active topic subscription. Handles are compared by
// identity: two subscriptions to the same topic with the same callback are
// still distinct members of the client's subscription set.
type Subscription struct {
	client  *Client
	topic   string
	handler EventHandler

	mu    sync.Mutex
	token wampsession.Subscription
}

// Topic returns the subscribed topic URI.
func (s *Subscription) Topic() string {
	return s.topic
}

// ID returns the protocol-level subscription ID, or 0 once unsubscribed.
func (s *Subscription) ID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil {
		return 0
	}
	return s.token.ID()
}

// Unsubscribe forwards to the owning client, as a convenience for callers
// holding only the handle.
func (s *Subscription) Unsubscribe() bool {
	if s.client == nil {
		return false
	}
	return s.client.Unsubscribe(s)
}

func (s *Subscription) setToken(token wampsession.Subscription) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *Subscription) takeToken() wampsession.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *Subscription) clearToken() {
	s.mu.Lock()
	s.token = nil
	s.mu.Unlock()
}
