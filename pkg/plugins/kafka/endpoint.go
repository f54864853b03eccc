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

package kafka

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/wso2/api-platform/gateway/fxhub/pkg/core"
)

const (
	headerAppID = "fxhub-app-id"
	headerType  = "fxhub-type"
)

type Endpoint struct {
	name      string
	brokers   []string
	topicIn   string
	topicOut  string
	groupID   string
	writer    *kafka.Writer
	logger    *slog.Logger
	consumers sync.Map // route key -> *kafka.Reader
}

func New(name string, brokers []string, topicIn, topicOut, groupID string, logger *slog.Logger) *Endpoint {
	if groupID == "" {
		groupID = "fxhub-" + name
	}
	return &Endpoint{
		name:     name,
		brokers:  brokers,
		topicIn:  topicIn,
		topicOut: topicOut,
		groupID:  groupID,
		logger:   logger,
	}
}

func (e *Endpoint) Name() string { return e.name }
func (e *Endpoint) Type() string { return "kafka" }

func (e *Endpoint) Connect(ctx context.Context) error {
	if e.topicOut != "" {
		e.writer = &kafka.Writer{
			Addr:     kafka.TCP(e.brokers...),
			Topic:    e.topicOut,
			Balancer: &kafka.Hash{},
		}
	}
	e.logger.Info("kafka endpoint connected",
		"name", e.name,
		"brokers", strings.Join(e.brokers, ","),
		"topic_in", e.topicIn,
		"topic_out", e.topicOut,
	)
	return nil
}

func (e *Endpoint) Disconnect(ctx context.Context) error {
	e.consumers.Range(func(_, val any) bool {
		val.(*kafka.Reader).Close()
		return true
	})
	if e.writer != nil {
		return e.writer.Close()
	}
	return nil
}

// groupFor gives every route its own consumer group so each route bound to
// this endpoint sees every record of topic_in.
func (e *Endpoint) groupFor(route *core.Route) string {
	return e.groupID + "-" + route.Key()
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
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  e.brokers,
		Topic:    e.topicIn,
		GroupID:  e.groupFor(route),
		MaxWait:  500 * time.Millisecond,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	e.consumers.Store(key, reader)
	defer func() {
		e.consumers.CompareAndDelete(key, reader)
		reader.Close()
	}()

	for {
		rec, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.logger.Error("kafka fetch error", "route", key, "error", err)
			return err
		}

		select {
		case ch <- core.BrokerMessage{
			Event: eventFromRecord(route, e.name, rec),
			Ack:   func() error { return reader.CommitMessages(ctx, rec) },
			// uncommitted offsets are redelivered after a rebalance
			Nack: func() error { return nil },
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
	return val.(*kafka.Reader).Close()
}

func (e *Endpoint) Send(ctx context.Context, evt core.Event) error {
	if e.writer == nil {
		return nil
	}
	return e.writer.WriteMessages(ctx, recordFor(evt))
}

// recordFor keys records by listener key so events of one app and type
// stay ordered within a partition.
func recordFor(evt core.Event) kafka.Message {
	return kafka.Message{
		Key:   []byte(evt.Key()),
		Value: evt.Payload,
		Headers: []kafka.Header{
			{Key: headerAppID, Value: []byte(evt.AppID)},
			{Key: headerType, Value: []byte(evt.Type)},
		},
		Time: evt.Timestamp,
	}
}

func eventFromRecord(route *core.Route, source string, rec kafka.Message) core.Event {
	return route.Inbound(source, rec.Value, map[string]string{
		"kafka_key":       string(rec.Key),
		"kafka_topic":     rec.Topic,
		"kafka_partition": strconv.Itoa(rec.Partition),
		"kafka_offset":    strconv.FormatInt(rec.Offset, 10),
	}, rec.Time)
}
