// Package testutil provides common test utilities for the go-waapi library.
package testutil

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gammazero/nexus/v3/client"
	"github.com/gammazero/nexus/v3/router"
	"github.com/gammazero/nexus/v3/wamp"
)

// Realm is the realm served by test servers, matching the client default.
const Realm = "realm1"

// TestServer hosts an embedded WAMP router behind an httptest websocket
// endpoint, plus a router-local session used to register test procedures and
// publish events.
type TestServer struct {
	T      *testing.T
	Router router.Router
	HTTP   *httptest.Server
	WsURL  string

	local *client.Client
}

// NewTestServer starts an embedded router for one test and registers its
// teardown with t.Cleanup.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()

	cfg := &router.Config{
		RealmConfigs: []*router.RealmConfig{
			{
				URI:           wamp.URI(Realm),
				AnonymousAuth: true,
				AllowDisclose: true,
			},
		},
	}
	nxr, err := router.NewRouter(cfg, nil)
	if err != nil {
		t.Fatalf("Failed to create router: %v", err)
	}

	srv := httptest.NewServer(router.NewWebsocketServer(nxr))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	local, err := client.ConnectLocal(nxr, client.Config{Realm: Realm})
	if err != nil {
		srv.Close()
		nxr.Close()
		t.Fatalf("Failed to connect local session: %v", err)
	}

	ts := &TestServer{
		T:      t,
		Router: nxr,
		HTTP:   srv,
		WsURL:  wsURL,
		local:  local,
	}
	t.Cleanup(ts.Close)
	return ts
}

// Register exposes a procedure on the router that replies with the keyword
// results produced by fn from the call's keyword arguments.
func (ts *TestServer) Register(procedure string, fn func(kwargs map[string]any) map[string]any) {
	ts.T.Helper()
	handler := func(ctx context.Context, inv *wamp.Invocation) client.InvokeResult {
		return client.InvokeResult{Kwargs: wamp.Dict(fn(map[string]any(inv.ArgumentsKw)))}
	}
	if err := ts.local.Register(procedure, handler, nil); err != nil {
		ts.T.Fatalf("Failed to register procedure %s: %v", procedure, err)
	}
}

// Publish emits an event with the given keyword payload on topic.
func (ts *TestServer) Publish(topic string, kwargs map[string]any) {
	ts.T.Helper()
	if err := ts.local.Publish(topic, nil, nil, wamp.Dict(kwargs)); err != nil {
		ts.T.Fatalf("Failed to publish on %s: %v", topic, err)
	}
}

// Close shuts the local session, websocket endpoint and router down.
func (ts *TestServer) Close() {
	if ts.local != nil {
		ts.local.Close()
		ts.local = nil
	}
	if ts.HTTP != nil {
		ts.HTTP.Close()
		ts.HTTP = nil
	}
	if ts.Router != nil {
		ts.Router.Close()
		ts.Router = nil
	}
}
