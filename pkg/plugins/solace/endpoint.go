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

package solace

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/wso2/api-platform/gateway/fxhub/pkg/core"
	"solace.dev/go/messaging"
	"solace.dev/go/messaging/pkg/solace"
	"solace.dev/go/messaging/pkg/solace/config"
	"solace.dev/go/messaging/pkg/solace/message"
	"solace.dev/go/messaging/pkg/solace/resource"
)

const terminateGrace = 5 * time.Second

type consumer struct {
	cancel context.CancelFunc
}

type Endpoint struct {
	name      string
	host      string
	vpn       string
	username  string
	password  string
	topicIn   string
	topicOut  string
	service   solace.MessagingService
	publisher solace.DirectMessagePublisher
	logger    *slog.Logger
	consumers sync.Map // route key -> *consumer
}

func New(name, host, vpn, username, password, topicIn, topicOut string, logger *slog.Logger) *Endpoint {
	return &Endpoint{
		name:     name,
		host:     host,
		vpn:      vpn,
		username: username,
		password: password,
		topicIn:  topicIn,
		topicOut: topicOut,
		logger:   logger,
	}
}

func (e *Endpoint) Name() string { return e.name }
func (e *Endpoint) Type() string { return "solace" }

func (e *Endpoint) Connect(ctx context.Context) error {
	var err error
	e.service, err = messaging.NewMessagingServiceBuilder().
		FromConfigurationProvider(config.ServicePropertyMap{
			config.TransportLayerPropertyHost:                e.host,
			config.ServicePropertyVPNName:                    e.vpn,
			config.AuthenticationPropertySchemeBasicUserName: e.username,
			config.AuthenticationPropertySchemeBasicPassword: e.password,
		}).Build()
	if err != nil {
		return fmt.Errorf("solace build: %w", err)
	}
	if err = e.service.Connect(); err != nil {
		return fmt.Errorf("solace connect: %w", err)
	}

	if e.topicOut != "" {
		e.publisher, err = e.service.CreateDirectMessagePublisherBuilder().Build()
		if err != nil {
			return fmt.Errorf("solace publisher build: %w", err)
		}
		if err = e.publisher.Start(); err != nil {
			return fmt.Errorf("solace publisher start: %w", err)
		}
	}

	e.logger.Info("solace endpoint connected", "name", e.name, "host", e.host, "vpn", e.vpn)
	return nil
}

func (e *Endpoint) Disconnect(ctx context.Context) error {
	e.consumers.Range(func(_, val any) bool {
		val.(*consumer).cancel()
		return true
	})
	if e.publisher != nil {
		e.publisher.Terminate(terminateGrace)
	}
	if e.service != nil {
		return e.service.Disconnect()
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

	receiver, err := e.service.CreateDirectMessageReceiverBuilder().
		WithSubscriptions(resource.TopicSubscriptionOf(e.topicIn)).
		Build()
	if err != nil {
		return fmt.Errorf("solace receiver build: %w", err)
	}
	if err = receiver.Start(); err != nil {
		return fmt.Errorf("solace receiver start: %w", err)
	}

	key := route.Key()
	consumerCtx, cancel := context.WithCancel(ctx)
	cons := &consumer{cancel: cancel}
	e.consumers.Store(key, cons)
	defer func() {
		e.consumers.CompareAndDelete(key, cons)
		cancel()
		receiver.Terminate(terminateGrace)
	}()

	err = receiver.ReceiveAsync(func(inMsg message.InboundMessage) {
		payload, _ := inMsg.GetPayloadAsBytes()
		select {
		case ch <- core.BrokerMessage{Event: inboundEvent(route, e.name, inMsg.GetDestinationName(), payload)}:
		case <-consumerCtx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("solace receive: %w", err)
	}

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

// Send publishes to topic_out/{app-id}/{type} so subscribers can filter
// with solace wildcards.
func (e *Endpoint) Send(ctx context.Context, evt core.Event) error {
	if e.publisher == nil {
		return nil
	}
	msg, err := e.service.MessageBuilder().
		WithApplicationMessageID(evt.ID).
		WithApplicationMessageType(evt.Type).
		BuildWithByteArrayPayload(evt.Payload)
	if err != nil {
		return fmt.Errorf("solace message build: %w", err)
	}
	return e.publisher.Publish(msg, resource.TopicOf(topicFor(e.topicOut, evt)))
}

func topicFor(prefix string, evt core.Event) string {
	return prefix + "/" + evt.AppID + "/" + evt.Type
}

// inboundEvent keeps the app and type segments of a topic_out style topic
// as metadata when the publisher used one.
func inboundEvent(route *core.Route, source, topic string, payload []byte) core.Event {
	metadata := map[string]string{"solace_topic": topic}
	if parts := strings.Split(topic, "/"); len(parts) >= 3 {
		metadata["solace_app_id"] = parts[len(parts)-2]
		metadata["solace_type"] = parts[len(parts)-1]
	}
	return route.Inbound(source, payload, metadata, time.Time{})
}
