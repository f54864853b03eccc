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

package mqtt5

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
	"github.com/wso2/api-platform/gateway/fxhub/pkg/core"
)

const consumerBuffer = 16

type Endpoint struct {
	name      string
	brokerURL string
	topicIn   string
	topicOut  string
	cm        *autopaho.ConnectionManager
	logger    *slog.Logger
	consumers sync.Map // route key -> chan *paho.Publish
	router    *paho.StandardRouter
}

func New(name, brokerURL, topicIn, topicOut string, logger *slog.Logger) *Endpoint {
	return &Endpoint{
		name:      name,
		brokerURL: brokerURL,
		topicIn:   topicIn,
		topicOut:  topicOut,
		logger:    logger,
		router:    paho.NewStandardRouter(),
	}
}

func (e *Endpoint) Name() string { return e.name }
func (e *Endpoint) Type() string { return "mqtt5" }

func (e *Endpoint) Connect(ctx context.Context) error {
	serverURL, err := url.Parse(e.brokerURL)
	if err != nil {
		return fmt.Errorf("mqtt5 invalid URL: %w", err)
	}

	if e.topicIn != "" {
		e.router.RegisterHandler(e.topicIn, e.fanOut)
	}

	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{serverURL},
		KeepAlive:                     30,
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         60,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
			e.logger.Info("mqtt5 connection up", "name", e.name)
			if e.topicIn == "" {
				return
			}
			// subscriptions do not survive a clean start
			if _, err := cm.Subscribe(context.Background(), &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{
					{Topic: e.topicIn, QoS: 1},
				},
			}); err != nil {
				e.logger.Error("mqtt5 subscribe failed", "name", e.name, "topic", e.topicIn, "error", err)
			}
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "fxhub-" + e.name + "-" + uuid.New().String()[:8],
			Router:   e.router,
		},
	}

	e.cm, err = autopaho.NewConnection(ctx, cfg)
	if err != nil {
		return fmt.Errorf("mqtt5 connection: %w", err)
	}

	if err := e.cm.AwaitConnection(ctx); err != nil {
		return fmt.Errorf("mqtt5 await connection: %w", err)
	}

	e.logger.Info("mqtt5 endpoint connected", "name", e.name, "broker", e.brokerURL)
	return nil
}

// fanOut runs on the paho receive goroutine; slow routes lose messages
// instead of stalling the connection.
func (e *Endpoint) fanOut(p *paho.Publish) {
	e.consumers.Range(func(key, val any) bool {
		select {
		case val.(chan *paho.Publish) <- p:
		default:
			e.logger.Warn("mqtt5 consumer full, dropping message", "route", key, "topic", p.Topic)
		}
		return true
	})
}

func (e *Endpoint) Disconnect(ctx context.Context) error {
	if e.cm != nil {
		return e.cm.Disconnect(ctx)
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
	mqttCh := make(chan *paho.Publish, consumerBuffer)
	e.consumers.Store(key, mqttCh)
	defer e.consumers.CompareAndDelete(key, mqttCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case pub := <-mqttCh:
			select {
			case ch <- core.BrokerMessage{Event: eventFromPublish(route, e.name, pub)}:
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
	if e.topicOut == "" || e.cm == nil {
		return nil
	}
	_, err := e.cm.Publish(ctx, publishFor(e.topicOut, evt))
	return err
}

func publishFor(topic string, evt core.Event) *paho.Publish {
	return &paho.Publish{
		Topic:   topic,
		QoS:     1,
		Payload: evt.Payload,
		Properties: &paho.PublishProperties{
			ContentType: "application/json",
			User: paho.UserProperties{
				{Key: "app-id", Value: evt.AppID},
				{Key: "type", Value: evt.Type},
			},
		},
	}
}

// eventFromPublish keeps the user properties of the publish as metadata
// next to the topic.
func eventFromPublish(route *core.Route, source string, pub *paho.Publish) core.Event {
	metadata := map[string]string{"mqtt_topic": pub.Topic}
	if pub.Properties != nil {
		for _, p := range pub.Properties.User {
			metadata["mqtt_user_"+p.Key] = p.Value
		}
	}
	return route.Inbound(source, pub.Payload, metadata, time.Time{})
}
