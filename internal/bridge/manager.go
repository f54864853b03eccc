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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wso2/api-platform/gateway/fxhub/internal/logging"
	"github.com/wso2/api-platform/gateway/fxhub/internal/metrics"
	"github.com/wso2/api-platform/gateway/fxhub/internal/routing"
	"github.com/wso2/api-platform/gateway/fxhub/pkg/core"
	"github.com/wso2/api-platform/gateway/fxhub/pkg/hub"
)

const defaultChannelSize = 64

// Hub is the part of the hub client the bridge drives.
type Hub interface {
	RegisterListener(appID, eventType string, l hub.Listener)
	SendEvent(ctx context.Context, appID, eventType string, data any) (hub.Document, error)
}

type attachment struct {
	route  *core.Route
	events chan core.Event
	cancel context.CancelFunc
}

// Manager binds routes to the hub: downstream routes get a hub listener that
// feeds the target endpoint, upstream routes get a consumer whose messages
// are sent to the hub as events.
type Manager struct {
	attachments sync.Map
	mu          sync.Mutex
	hub         Hub
	routes      *routing.Table
	endpoints   map[string]core.Endpoint
	health      core.HealthChecker
	logger      *slog.Logger
	packetLog   *logging.PacketLogger
	metrics     *metrics.Metrics
}

func NewManager(
	hubClient Hub,
	routes *routing.Table,
	endpoints map[string]core.Endpoint,
	health core.HealthChecker,
	logger *slog.Logger,
	packetLog *logging.PacketLogger,
) *Manager {
	return &Manager{
		hub:       hubClient,
		routes:    routes,
		endpoints: endpoints,
		health:    health,
		logger:    logger,
		packetLog: packetLog,
	}
}

// SetMetrics records relay counters on mt. Call it before the first Attach.
func (m *Manager) SetMetrics(mt *metrics.Metrics) {
	m.metrics = mt
}

// Attach starts relaying for the route stored under key. An existing
// attachment for the same key is replaced.
func (m *Manager) Attach(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attach(ctx, key)
}

func (m *Manager) attach(ctx context.Context, key string) error {
	route, ok := m.routes.Lookup(key)
	if !ok {
		return fmt.Errorf("%w: key=%s", core.ErrNoRoute, key)
	}

	ep, ok := m.endpoints[route.Target]
	if !ok {
		return fmt.Errorf("%w: endpoint=%s", core.ErrTargetNotFound, route.Target)
	}

	if m.health != nil && !m.health.IsEndpointHealthy(route.Target) {
		return fmt.Errorf("%w: endpoint=%s", core.ErrEndpointUnavailable, route.Target)
	}

	if _, attached := m.attachments.Load(key); attached {
		m.detach(key)
	}

	channelSize := route.ChannelSize
	if channelSize <= 0 {
		channelSize = defaultChannelSize
	}

	attachCtx, cancel := context.WithCancel(ctx)
	att := &attachment{
		route:  route,
		events: make(chan core.Event, channelSize),
		cancel: cancel,
	}
	m.attachments.Store(key, att)

	if route.Direction.Downstream() {
		m.hub.RegisterListener(route.AppID, route.EventType, hub.ListenerFunc(func(doc hub.Document) {
			m.enqueue(key, doc)
		}))
		go m.relayDownstream(attachCtx, att, ep)
	}

	if route.Direction.Upstream() {
		upstream := make(chan core.BrokerMessage, channelSize)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("consumer panic recovered", "route", key, "error", r)
				}
			}()
			if err := ep.StartConsumer(attachCtx, route, upstream); err != nil {
				if attachCtx.Err() == nil {
					m.logger.Error("consumer error", "route", key, "target", route.Target, "error", err)
				}
			}
		}()
		go m.relayUpstream(attachCtx, route, upstream)
	}

	m.metrics.SetAttached(m.ActiveCount())
	m.logger.Info("route attached",
		"route", key,
		"target", route.Target,
		"direction", route.Direction.String(),
		"channel_size", channelSize,
	)
	return nil
}

// enqueue runs on the hub stream goroutine and must not block it.
func (m *Manager) enqueue(key string, doc hub.Document) {
	val, ok := m.attachments.Load(key)
	if !ok {
		return
	}
	att := val.(*attachment)
	if !att.route.Direction.Downstream() {
		return
	}

	evt, err := eventFromDocument(doc)
	if err != nil {
		m.metrics.Dropped(key, "encode")
		m.logger.Warn("hub event not relayable", "route", key, "error", err)
		return
	}

	select {
	case att.events <- evt:
	default:
		m.metrics.Dropped(key, "channel_full")
		m.logger.Warn("route channel full, dropping event", "route", key, "event_id", evt.ID)
	}
}

func (m *Manager) relayDownstream(ctx context.Context, att *attachment, ep core.Endpoint) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("downstream relay panic recovered", "route", att.route.Key(), "error", r)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-att.events:
			if m.packetLog != nil {
				m.packetLog.Log(evt, att.route, core.DirectionDownstream)
			}
			key := att.route.Key()
			if err := ep.Send(ctx, evt); err != nil {
				if ctx.Err() == nil {
					m.metrics.Failed(key, "downstream")
					m.logger.Error("downstream send failed",
						"route", key,
						"target", att.route.Target,
						"event_id", evt.ID,
						"error", err,
					)
				}
				continue
			}
			m.metrics.Relayed(key, "downstream")
		}
	}
}

func (m *Manager) relayUpstream(ctx context.Context, route *core.Route, ch <-chan core.BrokerMessage) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("upstream relay panic recovered", "route", route.Key(), "error", r)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if m.packetLog != nil {
				m.packetLog.Log(msg.Event, route, core.DirectionUpstream)
			}
			res, err := m.hub.SendEvent(ctx, route.AppID, route.EventType, payloadData(msg.Event.Payload))
			if err != nil || !res.Success() {
				if ctx.Err() == nil {
					m.metrics.Failed(route.Key(), "upstream")
					m.logger.Error("upstream send failed",
						"route", route.Key(),
						"event_id", msg.Event.ID,
						"hub_error", res.ErrorMessage(),
						"error", err,
					)
				}
				settle(msg.Nack, m.logger, route)
				continue
			}
			m.metrics.Relayed(route.Key(), "upstream")
			settle(msg.Ack, m.logger, route)
		}
	}
}

func settle(fn func() error, logger *slog.Logger, route *core.Route) {
	if fn == nil {
		return
	}
	if err := fn(); err != nil {
		logger.Warn("broker settle failed", "route", route.Key(), "error", err)
	}
}

// Detach stops relaying for key. The hub listener stays registered but
// drops events until the key is attached again.
func (m *Manager) Detach(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.detach(key) {
		return fmt.Errorf("%w: key=%s", core.ErrRouteNotAttached, key)
	}
	return nil
}

func (m *Manager) detach(key string) bool {
	val, ok := m.attachments.LoadAndDelete(key)
	if !ok {
		return false
	}
	att := val.(*attachment)
	att.cancel()

	if att.route.Direction.Upstream() {
		if ep, ok := m.endpoints[att.route.Target]; ok {
			if err := ep.StopConsumer(key); err != nil {
				m.logger.Warn("stop consumer error", "route", key, "error", err)
			}
		}
	}

	m.metrics.SetAttached(m.ActiveCount())
	m.logger.Info("route detached", "route", key, "target", att.route.Target)
	return true
}

// Sync reconciles attachments with the routing table after a reload:
// new or changed routes are attached, vanished ones detached.
func (m *Manager) Sync(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := make(map[string]bool)
	for _, key := range m.routes.Keys() {
		wanted[key] = true
		route, _ := m.routes.Lookup(key)
		if val, ok := m.attachments.Load(key); ok && *val.(*attachment).route == *route {
			continue
		}
		if err := m.attach(ctx, key); err != nil {
			m.logger.Error("route attach failed", "route", key, "error", err)
		}
	}

	m.attachments.Range(func(key, _ any) bool {
		if !wanted[key.(string)] {
			m.detach(key.(string))
		}
		return true
	})
}

func (m *Manager) DetachAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attachments.Range(func(key, _ any) bool {
		m.detach(key.(string))
		return true
	})
}

func (m *Manager) ActiveCount() int {
	count := 0
	m.attachments.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

func (m *Manager) Attached(key string) bool {
	_, ok := m.attachments.Load(key)
	return ok
}

func eventFromDocument(doc hub.Document) (core.Event, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return core.Event{}, err
	}
	appID, _ := doc.String("app-id")
	eventType, _ := doc.String("type")
	return core.Event{
		ID:        uuid.New().String(),
		AppID:     appID,
		Type:      eventType,
		SourceID:  "hub",
		Payload:   payload,
		Metadata:  map[string]string{"listener_key": hub.ListenerKey(appID, eventType)},
		Timestamp: time.Now().UTC(),
	}, nil
}

// payloadData turns a broker payload into the "data" of a hub event: JSON
// is passed through, anything else is sent as a string.
func payloadData(payload []byte) any {
	if len(payload) == 0 {
		return nil
	}
	if json.Valid(payload) {
		return json.RawMessage(payload)
	}
	return string(payload)
}
