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

package sse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/wso2/api-platform/gateway/fxhub/pkg/core"
)

const clientBuffer = 64

type subscriber struct {
	id        string
	appID     string
	eventType string
	events    chan core.Event
}

// Endpoint republishes hub events as a server-sent event stream. It only
// serves downstream routes.
type Endpoint struct {
	name        string
	port        int
	server      *http.Server
	logger      *slog.Logger
	subscribers sync.Map
}

func New(name string, port int, logger *slog.Logger) *Endpoint {
	return &Endpoint{name: name, port: port, logger: logger}
}

func (e *Endpoint) Name() string { return e.name }
func (e *Endpoint) Type() string { return "sse" }

func (e *Endpoint) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", e.handleSSE)
	return mux
}

func (e *Endpoint) Connect(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", e.port))
	if err != nil {
		return fmt.Errorf("sse listen: %w", err)
	}
	e.server = &http.Server{Handler: e.Handler()}

	go func() {
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("sse server failed", "name", e.name, "error", err)
		}
	}()

	e.logger.Info("sse endpoint listening", "name", e.name, "addr", ln.Addr().String())
	return nil
}

func (e *Endpoint) Disconnect(ctx context.Context) error {
	if e.server != nil {
		return e.server.Shutdown(ctx)
	}
	return nil
}

func (e *Endpoint) SubscriberCount() int {
	n := 0
	e.subscribers.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (e *Endpoint) Send(ctx context.Context, evt core.Event) error {
	e.subscribers.Range(func(_, val any) bool {
		sub := val.(*subscriber)
		if (sub.appID != "" && sub.appID != evt.AppID) || (sub.eventType != "" && sub.eventType != evt.Type) {
			return true
		}
		select {
		case sub.events <- evt:
		default:
			e.logger.Warn("sse subscriber buffer full, dropping event", "client_id", sub.id, "event_id", evt.ID)
		}
		return true
	})
	return nil
}

func (e *Endpoint) StartConsumer(ctx context.Context, route *core.Route, ch chan<- core.BrokerMessage) error {
	e.logger.Warn("sse endpoint has no upstream", "name", e.name, "route", route.Key())
	<-ctx.Done()
	return nil
}

func (e *Endpoint) StopConsumer(routeKey string) error { return nil }

func (e *Endpoint) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := &subscriber{
		id:        core.ClientID(r),
		appID:     r.URL.Query().Get("app_id"),
		eventType: r.URL.Query().Get("type"),
		events:    make(chan core.Event, clientBuffer),
	}
	e.subscribers.Store(sub, sub)
	defer func() {
		e.subscribers.Delete(sub)
		e.logger.Info("sse client disconnected", "client_id", sub.id)
	}()

	e.logger.Info("sse client connected", "client_id", sub.id, "app_id", sub.appID, "type", sub.eventType)

	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-sub.events:
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", evt.ID, evt.Key(), evt.Payload)
			flusher.Flush()
		}
	}
}
