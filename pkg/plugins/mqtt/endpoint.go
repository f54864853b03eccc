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

package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/wso2/api-platform/gateway/fxhub/pkg/core"
)

const (
	defaultQoS     = 1
	consumerBuffer = 16
	disconnectWait = 250
)

type message struct {
	topic    string
	payload  []byte
	retained bool
	ack      func()
}

func (m message) brokerMessage(route *core.Route, source string) core.BrokerMessage {
	metadata := map[string]string{"mqtt_topic": m.topic}
	if m.retained {
		metadata["mqtt_retained"] = "true"
	}
	return core.BrokerMessage{
		Event: route.Inbound(source, m.payload, metadata, time.Time{}),
		Ack:   func() error { m.ack(); return nil },
		// QoS 1 has no negative ack; the broker redelivers after reconnect
		Nack: func() error { return nil },
	}
}

// Endpoint speaks MQTT 3.1.1 for brokers without MQTT 5 support.
type Endpoint struct {
	name      string
	broker    string
	topicIn   string
	topicOut  string
	qos       byte
	client    mqtt.Client
	logger    *slog.Logger
	consumers sync.Map // route key -> chan message
}

func New(name, broker, topicIn, topicOut string, logger *slog.Logger) *Endpoint {
	return &Endpoint{
		name:     name,
		broker:   broker,
		topicIn:  topicIn,
		topicOut: topicOut,
		qos:      defaultQoS,
		logger:   logger,
	}
}

func (e *Endpoint) Name() string { return e.name }
func (e *Endpoint) Type() string { return "mqtt" }

func (e *Endpoint) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(e.broker).
		SetClientID("fxhub-" + e.name + "-" + uuid.New().String()[:8]).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetAutoAckDisabled(true).
		SetOnConnectHandler(func(client mqtt.Client) {
			e.logger.Info("mqtt connection up", "name", e.name)
			e.subscribe(client)
		}).
		SetConnectionLostHandler(func(client mqtt.Client, err error) {
			e.logger.Warn("mqtt connection lost", "name", e.name, "error", err)
		})

	e.client = mqtt.NewClient(opts)
	token := e.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("mqtt connect: %w", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	e.logger.Info("mqtt endpoint connected", "name", e.name, "broker", e.broker)
	return nil
}

// subscribe runs on every (re)connect since the session is clean.
func (e *Endpoint) subscribe(client mqtt.Client) {
	if e.topicIn == "" {
		return
	}
	token := client.Subscribe(e.topicIn, e.qos, e.fanOut)
	if token.Wait() && token.Error() != nil {
		e.logger.Error("mqtt subscribe failed", "name", e.name, "topic", e.topicIn, "error", token.Error())
	}
}

func (e *Endpoint) fanOut(_ mqtt.Client, msg mqtt.Message) {
	var once sync.Once
	m := message{
		topic:    msg.Topic(),
		payload:  msg.Payload(),
		retained: msg.Retained(),
		ack:      func() { once.Do(msg.Ack) },
	}
	delivered := false
	e.consumers.Range(func(key, val any) bool {
		select {
		case val.(chan message) <- m:
			delivered = true
		default:
			e.logger.Warn("mqtt consumer full, dropping message", "route", key, "topic", m.topic)
		}
		return true
	})
	if !delivered {
		m.ack()
	}
}

func (e *Endpoint) Disconnect(ctx context.Context) error {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(disconnectWait)
	}
	return nil
}

func (e *Endpoint) StartConsumer(
	ctx context.Context,
	route *core.Route,
	ch chan<- core.BrokerMessage,
) error {
	if e.topicIn == "" {
		<-ctx.Done()
		return nil
	}

	key := route.Key()
	msgCh := make(chan message, consumerBuffer)
	e.consumers.Store(key, msgCh)
	defer e.consumers.CompareAndDelete(key, msgCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-msgCh:
			select {
			case ch <- m.brokerMessage(route, e.name):
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (e *Endpoint) StopConsumer(routeKey string) error {
	e.consumers.Delete(routeKey)
	return nil
}

func (e *Endpoint) Send(ctx context.Context, evt core.Event) error {
	if e.topicOut == "" || e.client == nil {
		return nil
	}
	token := e.client.Publish(e.topicOut, e.qos, false, evt.Payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
