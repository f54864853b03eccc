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

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wso2/api-platform/gateway/fxhub/internal/hubtest"
	"github.com/wso2/api-platform/gateway/fxhub/pkg/config"
	"github.com/wso2/api-platform/gateway/fxhub/pkg/hub"
)

func run(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func decodeLine(t *testing.T, out string) hub.Document {
	t.Helper()
	var doc hub.Document
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &doc); err != nil {
		t.Fatalf("output %q is not a json document: %v", out, err)
	}
	return doc
}

func TestStateCommands(t *testing.T) {
	srv := hubtest.NewServer(t)
	ctx := context.Background()

	if _, err := run(t, ctx, "--hub", srv.Addr(), "set-state", "a1", `{"volume":3}`); err != nil {
		t.Fatalf("set-state: %v", err)
	}

	out, err := run(t, ctx, "--hub", srv.Addr(), "get-state", "a1")
	if err != nil {
		t.Fatalf("get-state: %v", err)
	}
	doc := decodeLine(t, out)
	state, ok := doc["state"].(map[string]any)
	if !ok || state["volume"] != float64(3) {
		t.Fatalf("unexpected state in %v", doc)
	}
	if !doc.Sended() || !doc.Success() {
		t.Fatalf("expected sended and success, got %v", doc)
	}
}

func TestSendCommandPayload(t *testing.T) {
	srv := hubtest.NewServer(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"json data", []string{"send", "a1", "t1", `{"x":5}`}, `{"app-id":"a1","data":{"x":5},"type":"t1"}`},
		{"string data", []string{"send", "a1", "t1", "hello"}, `{"app-id":"a1","data":"hello","type":"t1"}`},
		{"no data", []string{"send", "a1", "t1"}, `{"app-id":"a1","type":"t1"}`},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, context.Background(), append([]string{"--hub", srv.Addr()}, tt.args...)...); err != nil {
				t.Fatalf("send: %v", err)
			}
			reqs := srv.Requests()
			if len(reqs) != i+1 {
				t.Fatalf("expected %d requests, got %d", i+1, len(reqs))
			}
			last := reqs[len(reqs)-1]
			if last.Path != "/send" || string(last.Body) != tt.want {
				t.Fatalf("expected POST /send %s, got %s %s", tt.want, last.Path, last.Body)
			}
		})
	}
}

func TestCallCommandErrors(t *testing.T) {
	srv := hubtest.NewServer(t)
	ctx := context.Background()

	if _, err := run(t, ctx, "--hub", srv.Addr(), "call", "demo", "[1]"); err == nil {
		t.Fatal("expected error for non-object payload")
	}
	if len(srv.Requests()) != 0 {
		t.Fatal("invalid payload reached the hub")
	}

	out, err := run(t, ctx, "--hub", srv.Addr(), "call", "nope", "{}")
	if !errors.Is(err, errHubRejected) {
		t.Fatalf("expected errHubRejected, got %v", err)
	}
	if doc := decodeLine(t, out); doc.Success() {
		t.Fatalf("expected printed failure, got %v", doc)
	}

	if _, err := run(t, ctx, "--hub", "no-port", "demo"); err == nil {
		t.Fatal("expected error for bad hub address")
	}
	if _, err := run(t, ctx, "--hub", srv.Addr(), "--log-level", "loud", "demo"); err == nil {
		t.Fatal("expected error for bad log level")
	}
}

func TestCallCommandConnectionRefused(t *testing.T) {
	srv := hubtest.NewServer(t)
	addr := srv.Addr()
	srv.Close()

	out, err := run(t, context.Background(), "--hub", addr, "demo")
	if !errors.Is(err, hub.ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	if decodeLine(t, out).Sended() {
		t.Fatal("expected sended=false")
	}
}

func TestListenCommand(t *testing.T) {
	srv := hubtest.NewServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := run(t, ctx, "--hub", srv.Addr(), "listen", "a1", "t1", "--count", "1")
		done <- result{out, err}
	}()

	select {
	case <-srv.Streaming():
	case <-time.After(2 * time.Second):
		t.Fatal("stream was not opened")
	}
	srv.EmitEvent(map[string]any{"app-id": "a2", "type": "t1"})
	srv.EmitEvent(map[string]any{"app-id": "a1", "type": "t1", "data": "hit"})

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("listen: %v", res.err)
		}
		doc := decodeLine(t, res.out)
		if doc["data"] != "hit" {
			t.Fatalf("unexpected event %v", doc)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("listen did not exit after count events")
	}
}

func TestBuildEndpoint(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	types := []string{"kafka", "rabbitmq", "mqtt5", "mqtt", "jms", "solace", "redis", "websocket", "sse"}
	for _, typ := range types {
		ep, err := buildEndpoint(config.EndpointConfig{Name: "ep-" + typ, Type: typ}, logger)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", typ, err)
		}
		if ep.Name() != "ep-"+typ {
			t.Fatalf("%s: unexpected name %s", typ, ep.Name())
		}
		if ep.Type() != typ {
			t.Fatalf("expected type %s, got %s", typ, ep.Type())
		}
	}

	if _, err := buildEndpoint(config.EndpointConfig{Name: "x", Type: "carrier-pigeon"}, logger); err == nil {
		t.Fatal("expected error for unknown type")
	}
	if _, err := buildEndpoint(config.EndpointConfig{Name: "r", Type: "redis", Config: map[string]string{"ttl": "soon"}}, logger); err == nil {
		t.Fatal("expected error for invalid ttl")
	}
}

func TestBridgeStopsWhenHubStreamCloses(t *testing.T) {
	srv := hubtest.NewServer(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("hub:\n  address: "+srv.Addr()+"\n"), 0644)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 4}))

	done := make(chan error, 1)
	go func() { done <- runBridge(context.Background(), path, cfg, cfg.HubAddress(), logger) }()

	select {
	case <-srv.Streaming():
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not open the hub stream")
	}
	srv.EndStream()

	select {
	case err := <-done:
		if !errors.Is(err, errHubStreamClosed) {
			t.Fatalf("expected errHubStreamClosed, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("bridge did not stop")
	}
}
