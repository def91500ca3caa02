package wampsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gammazero/nexus/v3/client"
	"github.com/gammazero/nexus/v3/wamp"
)

// nexusSession adapts a gammazero/nexus client to the Session interface.
//
// nexus keys its client-side subscriptions by topic and holds one handler
// per topic, while Session allows any number of independent handlers on the
// same topic. The adapter therefore keeps at most one nexus subscription per
// topic and fans each inbound event out to every registered handler; the
// nexus subscription is torn down only when the last handler for its topic
// is removed. Tokens carry a session-assigned ID so each handler can be
// removed individually.
type nexusSession struct {
	cl *client.Client

	// mu guards topics and nextID against the nexus delivery goroutine;
	// Session methods themselves arrive from a single goroutine.
	mu     sync.Mutex
	topics map[string][]topicHandler
	nextID uint64
}

type topicHandler struct {
	id uint64
	h  EventHandler
}

type nexusSubscription struct {
	topic string
	id    uint64
}

func (s *nexusSubscription) ID() uint64    { return s.id }
func (s *nexusSubscription) Topic() string { return s.topic }

// Dial connects to the WAMP router at url and joins realm. Protocol-level
// logging is forwarded to logger at debug level.
func Dial(ctx context.Context, url, realm string, logger *slog.Logger) (Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := client.Config{
		Realm:  realm,
		Logger: slog.NewLogLogger(logger.Handler(), slog.LevelDebug),
	}
	cl, err := client.ConnectNet(ctx, url, cfg)
	if err != nil {
		return nil, fmt.Errorf("wampsession: dial %s: %w", url, err)
	}
	return &nexusSession{cl: cl, topics: make(map[string][]topicHandler)}, nil
}

func (s *nexusSession) Call(ctx context.Context, procedure string, options, kwargs Dict) (Dict, error) {
	result, err := s.cl.Call(ctx, procedure, wamp.Dict(options), nil, wamp.Dict(kwargs), nil)
	if err != nil {
		return nil, fmt.Errorf("wampsession: call %s: %w", procedure, err)
	}
	if result == nil || result.ArgumentsKw == nil {
		return Dict{}, nil
	}
	return Dict(result.ArgumentsKw), nil
}

func (s *nexusSession) Subscribe(topic string, h EventHandler, options Dict) (Subscription, error) {
	s.mu.Lock()
	_, active := s.topics[topic]
	s.mu.Unlock()
	if !active {
		if err := s.cl.Subscribe(topic, s.relay(topic), wamp.Dict(options)); err != nil {
			return nil, fmt.Errorf("wampsession: subscribe %s: %w", topic, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.topics[topic] = append(s.topics[topic], topicHandler{id: s.nextID, h: h})
	return &nexusSubscription{topic: topic, id: s.nextID}, nil
}

// relay fans one topic's events out to its registered handlers, in
// registration order.
func (s *nexusSession) relay(topic string) client.EventHandler {
	return func(event *wamp.Event) {
		s.mu.Lock()
		handlers := append([]topicHandler(nil), s.topics[topic]...)
		s.mu.Unlock()
		for _, th := range handlers {
			th.h([]any(event.Arguments), Dict(event.ArgumentsKw))
		}
	}
}

func (s *nexusSession) Unsubscribe(sub Subscription) error {
	token, ok := sub.(*nexusSubscription)
	if !ok || token.id == 0 {
		return ErrNoSuchSubscription
	}
	s.mu.Lock()
	handlers, active := s.topics[token.topic]
	if !active {
		s.mu.Unlock()
		return ErrNoSuchSubscription
	}
	kept := make([]topicHandler, 0, len(handlers))
	found := false
	for _, th := range handlers {
		if th.id == token.id {
			found = true
			continue
		}
		kept = append(kept, th)
	}
	if !found {
		s.mu.Unlock()
		return ErrNoSuchSubscription
	}
	if len(kept) > 0 {
		s.topics[token.topic] = kept
		s.mu.Unlock()
		return nil
	}
	delete(s.topics, token.topic)
	s.mu.Unlock()

	if err := s.cl.Unsubscribe(token.topic); err != nil {
		if isNoSuchSubscription(err) {
			return ErrNoSuchSubscription
		}
		return fmt.Errorf("wampsession: unsubscribe %s: %w", token.topic, err)
	}
	return nil
}

func (s *nexusSession) Leave() error {
	return s.cl.Close()
}

func (s *nexusSession) Done() <-chan struct{} {
	return s.cl.Done()
}

// isNoSuchSubscription detects the router's classified unsubscribe failure.
func isNoSuchSubscription(err error) bool {
	var rpcErr client.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Err != nil {
		return rpcErr.Err.Error == wamp.ErrNoSuchSubscription
	}
	return strings.Contains(err.Error(), string(wamp.ErrNoSuchSubscription))
}
