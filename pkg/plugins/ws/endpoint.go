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

package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wso2/api-platform/gateway/fxhub/pkg/core"
)

const (
	clientBuffer = 64
	writeTimeout = 10 * time.Second
)

type client struct {
	id        string
	appID     string
	eventType string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
}

// matches reports whether the client's app_id/type filter admits the key.
// An empty filter field matches anything.
func (c *client) matches(appID, eventType string) bool {
	return (c.appID == "" || c.appID == appID) && (c.eventType == "" || c.eventType == eventType)
}

type consumer struct {
	route  *core.Route
	ch     chan<- core.BrokerMessage
	ctx    context.Context
	cancel context.CancelFunc
}

// Endpoint is a websocket server. Hub events are broadcast to connected
// clients and frames from clients flow upstream to every consuming route.
// Clients may narrow both directions with ?app_id=&type= query parameters.
type Endpoint struct {
	name      string
	port      int
	upgrader  websocket.Upgrader
	server    *http.Server
	logger    *slog.Logger
	clients   sync.Map // *client -> *client
	consumers sync.Map // route key -> *consumer
}

func New(name string, port int, logger *slog.Logger) *Endpoint {
	return &Endpoint{
		name: name,
		port: port,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (e *Endpoint) Name() string { return e.name }
func (e *Endpoint) Type() string { return "websocket" }

func (e *Endpoint) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", e.handleConnection)
	return mux
}

func (e *Endpoint) Connect(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", e.port))
	if err != nil {
		return fmt.Errorf("websocket listen: %w", err)
	}
	e.server = &http.Server{Handler: e.Handler()}

	go func() {
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("websocket server failed", "name", e.name, "error", err)
		}
	}()

	e.logger.Info("websocket endpoint listening", "name", e.name, "addr", ln.Addr().String())
	return nil
}

func (e *Endpoint) Disconnect(ctx context.Context) error {
	e.clients.Range(func(_, val any) bool {
		val.(*client).conn.Close()
		return true
	})
	e.consumers.Range(func(_, val any) bool {
		val.(*consumer).cancel()
		return true
	})
	if e.server != nil {
		return e.server.Shutdown(ctx)
	}
	return nil
}

func (e *Endpoint) ClientCount() int {
	n := 0
	e.clients.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Send broadcasts the payload to every matching client. A client whose
// buffer is full misses the event.
func (e *Endpoint) Send(ctx context.Context, evt core.Event) error {
	e.clients.Range(func(_, val any) bool {
		c := val.(*client)
		if !c.matches(evt.AppID, evt.Type) {
			return true
		}
		select {
		case c.send <- evt.Payload:
		default:
			e.logger.Warn("ws client buffer full, dropping event", "client_id", c.id, "event_id", evt.ID)
		}
		return true
	})
	return nil
}

func (e *Endpoint) StartConsumer(
	ctx context.Context,
	route *core.Route,
	ch chan<- core.BrokerMessage,
) error {
	consumerCtx, cancel := context.WithCancel(ctx)
	key := route.Key()
	cons := &consumer{route: route, ch: ch, ctx: consumerCtx, cancel: cancel}
	e.consumers.Store(key, cons)
	defer func() {
		e.consumers.CompareAndDelete(key, cons)
		cancel()
	}()

	<-consumerCtx.Done()
	return nil
}

func (e *Endpoint) StopConsumer(routeKey string) error {
	val, ok := e.consumers.LoadAndDelete(routeKey)
	if !ok {
		return nil
	}
	val.(*consumer).cancel()
	return nil
}

func (e *Endpoint) handleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.logger.Error("ws upgrade failed", "error", err)
		return
	}

	c := &client{
		id:        core.ClientID(r),
		appID:     r.URL.Query().Get("app_id"),
		eventType: r.URL.Query().Get("type"),
		conn:      conn,
		send:      make(chan []byte, clientBuffer),
		done:      make(chan struct{}),
	}
	// ids come from a client header and may repeat
	e.clients.Store(c, c)

	defer func() {
		close(c.done)
		conn.Close()
		e.clients.Delete(c)
		e.logger.Info("ws client disconnected", "client_id", c.id)
	}()

	e.logger.Info("ws client connected", "client_id", c.id, "app_id", c.appID, "type", c.eventType)

	go e.writeLoop(c)
	e.readLoop(c)
}

func (e *Endpoint) writeLoop(c *client) {
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				e.logger.Error("ws write failed", "client_id", c.id, "error", err)
				c.conn.Close()
				return
			}
		}
	}
}

func (e *Endpoint) readLoop(c *client) {
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				e.logger.Error("ws read error", "client_id", c.id, "error", err)
			}
			return
		}
		e.dispatch(c, payload)
	}
}

func (e *Endpoint) dispatch(c *client, payload []byte) {
	e.consumers.Range(func(_, val any) bool {
		cons := val.(*consumer)
		if !c.matches(cons.route.AppID, cons.route.EventType) {
			return true
		}
		msg := core.BrokerMessage{
			Event: cons.route.Inbound(e.name, payload, map[string]string{"ws_client_id": c.id}, time.Time{}),
		}
		select {
		case cons.ch <- msg:
		case <-cons.ctx.Done():
		}
		return true
	})
}
