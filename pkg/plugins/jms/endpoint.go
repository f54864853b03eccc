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

package jms

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Azure/go-amqp"
	"github.com/wso2/api-platform/gateway/fxhub/pkg/core"
)

type Endpoint struct {
	name      string
	url       string
	queueIn   string
	queueOut  string
	conn      *amqp.Conn
	sendSess  *amqp.Session
	sender    *amqp.Sender
	logger    *slog.Logger
	consumers sync.Map // route key -> *amqp.Receiver
}

func New(name, url, queueIn, queueOut string, logger *slog.Logger) *Endpoint {
	return &Endpoint{
		name:     name,
		url:      url,
		queueIn:  queueIn,
		queueOut: queueOut,
		logger:   logger,
	}
}

func (e *Endpoint) Name() string { return e.name }
func (e *Endpoint) Type() string { return "jms" }

func (e *Endpoint) Connect(ctx context.Context) error {
	var err error
	e.conn, err = amqp.Dial(ctx, e.url, nil)
	if err != nil {
		return fmt.Errorf("jms dial: %w", err)
	}

	if e.queueOut != "" {
		e.sendSess, err = e.conn.NewSession(ctx, nil)
		if err != nil {
			return fmt.Errorf("jms send session: %w", err)
		}
		e.sender, err = e.sendSess.NewSender(ctx, e.queueOut, nil)
		if err != nil {
			return fmt.Errorf("jms sender: %w", err)
		}
	}

	e.logger.Info("jms endpoint connected", "name", e.name, "queue_in", e.queueIn, "queue_out", e.queueOut)
	return nil
}

func (e *Endpoint) Disconnect(ctx context.Context) error {
	e.consumers.Range(func(_, val any) bool {
		val.(*amqp.Receiver).Close(ctx)
		return true
	})
	if e.sender != nil {
		e.sender.Close(ctx)
	}
	if e.sendSess != nil {
		e.sendSess.Close(ctx)
	}
	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}

func (e *Endpoint) StartConsumer(
	ctx context.Context,
	route *core.Route,
	ch chan<- core.BrokerMessage,
) error {
	if e.queueIn == "" {
		<-ctx.Done()
		return nil
	}

	recvSess, err := e.conn.NewSession(ctx, nil)
	if err != nil {
		return fmt.Errorf("jms consumer session: %w", err)
	}

	receiver, err := recvSess.NewReceiver(ctx, e.queueIn, &amqp.ReceiverOptions{
		Credit: 1,
	})
	if err != nil {
		recvSess.Close(ctx)
		return fmt.Errorf("jms receiver: %w", err)
	}

	key := route.Key()
	e.consumers.Store(key, receiver)
	defer func() {
		e.consumers.CompareAndDelete(key, receiver)
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		receiver.Close(closeCtx)
		recvSess.Close(closeCtx)
	}()

	for {
		msg, err := receiver.Receive(ctx, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("jms receive: %w", err)
		}

		select {
		case ch <- core.BrokerMessage{
			Event: eventFromMessage(route, e.name, e.queueIn, msg),
			Ack:   func() error { return receiver.AcceptMessage(ctx, msg) },
			Nack:  func() error { return receiver.RejectMessage(ctx, msg, nil) },
		}:
		case <-ctx.Done():
			return nil
		}
	}
}

func (e *Endpoint) StopConsumer(routeKey string) error {
	val, ok := e.consumers.LoadAndDelete(routeKey)
	if !ok {
		return nil
	}
	return val.(*amqp.Receiver).Close(context.Background())
}

func (e *Endpoint) Send(ctx context.Context, evt core.Event) error {
	if e.sender == nil {
		return nil
	}
	return e.sender.Send(ctx, messageFor(evt), nil)
}

// messageFor sets the listener key as the AMQP subject so JMS selectors can
// match on JMSType, and repeats app-id and type as application properties.
func messageFor(evt core.Event) *amqp.Message {
	subject := evt.Key()
	contentType := "application/json"
	msg := &amqp.Message{
		Data: [][]byte{evt.Payload},
		Properties: &amqp.MessageProperties{
			MessageID:   evt.ID,
			Subject:     &subject,
			ContentType: &contentType,
		},
		ApplicationProperties: map[string]any{
			"app-id": evt.AppID,
			"type":   evt.Type,
		},
	}
	if !evt.Timestamp.IsZero() {
		created := evt.Timestamp
		msg.Properties.CreationTime = &created
	}
	return msg
}

func eventFromMessage(route *core.Route, source, queue string, msg *amqp.Message) core.Event {
	metadata := map[string]string{"jms_queue": queue}
	var created time.Time
	if p := msg.Properties; p != nil {
		if p.Subject != nil {
			metadata["jms_subject"] = *p.Subject
		}
		if p.CreationTime != nil {
			created = *p.CreationTime
		}
	}
	return route.Inbound(source, msg.GetData(), metadata, created)
}
