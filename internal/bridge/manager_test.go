// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/wso2/api-platform/gateway/fxhub/internal/hubtest"
	"github.com/wso2/api-platform/gateway/fxhub/internal/metrics"
	"github.com/wso2/api-platform/gateway/fxhub/internal/routing"
	"github.com/wso2/api-platform/gateway/fxhub/pkg/core"
	"github.com/wso2/api-platform/gateway/fxhub/pkg/hub"
)

type sentEvent struct {
	appID     string
	eventType string
	data      any
}

type mockHub struct {
	mu        sync.Mutex
	listeners map[string]hub.Listener
	sent      []sentEvent
	fail      bool
}

func newMockHub() *mockHub {
	return &mockHub{listeners: make(map[string]hub.Listener)}
}

func (h *mockHub) RegisterListener(appID, eventType string, l hub.Listener) {
	h.mu.Lock()
	h.listeners[hub.ListenerKey(appID, eventType)] = l
	h.mu.Unlock()
}

func (h *mockHub) SendEvent(ctx context.Context, appID, eventType string, data any) (hub.Document, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, sentEvent{appID, eventType, data})
	if h.fail {
		return hub.Document{"sended": true, "success": false, "message": "rejected"}, nil
	}
	return hub.Document{"sended": true, "success": true}, nil
}

func (h *mockHub) fire(doc hub.Document) {
	appID, _ := doc.String("app-id")
	eventType, _ := doc.String("type")
	h.mu.Lock()
	l := h.listeners[hub.ListenerKey(appID, eventType)]
	h.mu.Unlock()
	if l != nil {
		l.HandleEvent(doc)
	}
}

type mockEndpoint struct {
	name     string
	sent     chan core.Event
	incoming chan core.BrokerMessage
	mu       sync.Mutex
	stopped  []string
}

func newMockEndpoint(name string) *mockEndpoint {
	return &mockEndpoint{
		name:     name,
		sent:     make(chan core.Event, 16),
		incoming: make(chan core.BrokerMessage, 16),
	}
}

func (m *mockEndpoint) Name() string                         { return m.name }
func (m *mockEndpoint) Type() string                         { return "mock" }
func (m *mockEndpoint) Connect(ctx context.Context) error    { return nil }
func (m *mockEndpoint) Disconnect(ctx context.Context) error { return nil }

func (m *mockEndpoint) Send(ctx context.Context, evt core.Event) error {
	m.sent <- evt
	return nil
}

func (m *mockEndpoint) StartConsumer(ctx context.Context, route *core.Route, ch chan<- core.BrokerMessage) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-m.incoming:
			ch <- msg
		}
	}
}

func (m *mockEndpoint) StopConsumer(routeKey string) error {
	m.mu.Lock()
	m.stopped = append(m.stopped, routeKey)
	m.mu.Unlock()
	return nil
}

type mockHealthChecker struct {
	healthy map[string]bool
}

func (m *mockHealthChecker) IsEndpointHealthy(name string) bool { return m.healthy[name] }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func waitEvent(t *testing.T, ch <-chan core.Event) core.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("no event relayed")
		return core.Event{}
	}
}

func TestAttachDownstreamRelaysEvents(t *testing.T) {
	routes := routing.NewTable()
	routes.Add(&core.Route{AppID: "a1", EventType: "t1", Target: "kafka", ChannelSize: 4})
	ep := newMockEndpoint("kafka")
	h := newMockHub()

	mgr := NewManager(h, routes, map[string]core.Endpoint{"kafka": ep}, nil, testLogger(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mgr.Attach(ctx, "a1_t1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mgr.ActiveCount() != 1 {
		t.Fatalf("expected 1 active route, got %d", mgr.ActiveCount())
	}

	h.fire(hub.Document{"app-id": "a1", "type": "t1", "data": map[string]any{"x": 5}})

	evt := waitEvent(t, ep.sent)
	if evt.AppID != "a1" || evt.Type != "t1" || evt.Key() != "a1_t1" {
		t.Fatalf("unexpected event %+v", evt)
	}
	var payload map[string]any
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		t.Fatalf("payload is not json: %v", err)
	}
	if payload["data"].(map[string]any)["x"] != float64(5) {
		t.Fatalf("unexpected payload %s", evt.Payload)
	}
}

func TestAttachErrors(t *testing.T) {
	routes := routing.NewTable()
	routes.Add(&core.Route{AppID: "a1", EventType: "missing", Target: "missing"})
	routes.Add(&core.Route{AppID: "a1", EventType: "down", Target: "rabbitmq"})

	endpoints := map[string]core.Endpoint{"rabbitmq": newMockEndpoint("rabbitmq")}
	unhealthy := &mockHealthChecker{healthy: map[string]bool{"rabbitmq": false}}
	mgr := NewManager(newMockHub(), routes, endpoints, unhealthy, testLogger(), nil)
	ctx := context.Background()

	if err := mgr.Attach(ctx, "nonexistent_x"); !errors.Is(err, core.ErrNoRoute) {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
	if err := mgr.Attach(ctx, "a1_missing"); !errors.Is(err, core.ErrTargetNotFound) {
		t.Fatalf("expected ErrTargetNotFound, got %v", err)
	}
	if err := mgr.Attach(ctx, "a1_down"); !errors.Is(err, core.ErrEndpointUnavailable) {
		t.Fatalf("expected ErrEndpointUnavailable, got %v", err)
	}
	if err := mgr.Detach("a1_down"); !errors.Is(err, core.ErrRouteNotAttached) {
		t.Fatalf("expected ErrRouteNotAttached, got %v", err)
	}
}

func TestUpstreamSettlesMessages(t *testing.T) {
	tests := []struct {
		name     string
		fail     bool
		wantAck  bool
		payload  []byte
		wantData any
	}{
		{"ack on success", false, true, []byte(`{"track":"intro"}`), json.RawMessage(`{"track":"intro"}`)},
		{"nack on hub failure", true, false, []byte("plain text"), "plain text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			routes := routing.NewTable()
			routes.Add(&core.Route{AppID: "player", EventType: "play", Target: "mq", Direction: core.DirectionUpstream})
			ep := newMockEndpoint("mq")
			h := newMockHub()
			h.fail = tt.fail

			mgr := NewManager(h, routes, map[string]core.Endpoint{"mq": ep}, nil, testLogger(), nil)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if err := mgr.Attach(ctx, "player_play"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			settled := make(chan bool, 1)
			ep.incoming <- core.BrokerMessage{
				Event: core.Event{ID: "m1", Payload: tt.payload},
				Ack:   func() error { settled <- true; return nil },
				Nack:  func() error { settled <- false; return nil },
			}

			select {
			case acked := <-settled:
				if acked != tt.wantAck {
					t.Fatalf("expected ack=%v, got %v", tt.wantAck, acked)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("message not settled")
			}

			h.mu.Lock()
			defer h.mu.Unlock()
			if len(h.sent) != 1 {
				t.Fatalf("expected 1 hub event, got %d", len(h.sent))
			}
			got := h.sent[0]
			if got.appID != "player" || got.eventType != "play" {
				t.Fatalf("unexpected hub event %+v", got)
			}
			if gotJSON, _ := json.Marshal(got.data); string(gotJSON) != mustJSON(tt.wantData) {
				t.Fatalf("expected data %s, got %s", mustJSON(tt.wantData), gotJSON)
			}
		})
	}
}

func mustJSON(v any) string {
	data, _ := json.Marshal(v)
	return string(data)
}

func TestDetachDropsEvents(t *testing.T) {
	routes := routing.NewTable()
	routes.Add(&core.Route{AppID: "a1", EventType: "t1", Target: "kafka", Direction: core.DirectionBoth})
	ep := newMockEndpoint("kafka")
	h := newMockHub()
	mgr := NewManager(h, routes, map[string]core.Endpoint{"kafka": ep}, nil, testLogger(), nil)

	if err := mgr.Attach(context.Background(), "a1_t1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mgr.Detach("a1_t1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h.fire(hub.Document{"app-id": "a1", "type": "t1"})
	select {
	case evt := <-ep.sent:
		t.Fatalf("expected no relay after detach, got %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()
	if len(ep.stopped) != 1 || ep.stopped[0] != "a1_t1" {
		t.Fatalf("expected consumer stop for a1_t1, got %v", ep.stopped)
	}
}

func TestSyncReconcilesRoutes(t *testing.T) {
	routes := routing.NewTable()
	routes.Add(&core.Route{AppID: "a1", EventType: "old", Target: "kafka"})
	routes.Add(&core.Route{AppID: "a1", EventType: "kept", Target: "kafka"})
	ep := newMockEndpoint("kafka")
	mgr := NewManager(newMockHub(), routes, map[string]core.Endpoint{"kafka": ep}, nil, testLogger(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr.Sync(ctx)
	if mgr.ActiveCount() != 2 {
		t.Fatalf("expected 2 active routes, got %d", mgr.ActiveCount())
	}

	routes.ReplaceAll([]*core.Route{
		{AppID: "a1", EventType: "kept", Target: "kafka"},
		{AppID: "a1", EventType: "new", Target: "kafka"},
	})
	mgr.Sync(ctx)

	if mgr.Attached("a1_old") {
		t.Fatal("expected vanished route to be detached")
	}
	if !mgr.Attached("a1_kept") || !mgr.Attached("a1_new") {
		t.Fatal("expected kept and new routes to be attached")
	}

	mgr.DetachAll()
	if mgr.ActiveCount() != 0 {
		t.Fatalf("expected 0 active routes, got %d", mgr.ActiveCount())
	}
}

func TestBridgeWithHub(t *testing.T) {
	srv := hubtest.NewServer(t)
	client, err := hub.NewClient(srv.Addr(), testLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	routes := routing.NewTable()
	routes.Add(&core.Route{AppID: "player", EventType: "play", Target: "kafka"})
	ep := newMockEndpoint("kafka")
	mgr := NewManager(client, routes, map[string]core.Endpoint{"kafka": ep}, nil, testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Sync(ctx)

	sub := client.ListenAsync(ctx)
	defer sub.Stop()
	select {
	case <-srv.Streaming():
	case <-time.After(2 * time.Second):
		t.Fatal("stream was not opened")
	}

	if res, err := client.SendEvent(ctx, "player", "play", "intro"); err != nil || !res.Success() {
		t.Fatalf("send failed: %v %v", res, err)
	}

	evt := waitEvent(t, ep.sent)
	var payload map[string]any
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		t.Fatalf("payload is not json: %v", err)
	}
	if payload["data"] != "intro" {
		t.Fatalf("unexpected payload %s", evt.Payload)
	}
}

func TestMetricsCountRelays(t *testing.T) {
	routes := routing.NewTable()
	routes.Add(&core.Route{AppID: "a1", EventType: "t1", Target: "kafka", ChannelSize: 1})
	ep := newMockEndpoint("kafka")
	h := newMockHub()
	mt := metrics.New()

	mgr := NewManager(h, routes, map[string]core.Endpoint{"kafka": ep}, nil, testLogger(), nil)
	mgr.SetMetrics(mt)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.Attach(ctx, "a1_t1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h.fire(hub.Document{"app-id": "a1", "type": "t1"})
	waitEvent(t, ep.sent)

	deadline := time.Now().Add(2 * time.Second)
	want := `fxhub_bridge_relayed_total{direction="downstream",route="a1_t1"} 1`
	for {
		expected := "# HELP fxhub_bridge_relayed_total Events relayed across the bridge\n# TYPE fxhub_bridge_relayed_total counter\n" + want + "\n"
		if testutil.GatherAndCompare(mt.Registry(), strings.NewReader(expected), "fxhub_bridge_relayed_total") == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %s", want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
