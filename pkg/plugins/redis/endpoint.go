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

package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wso2/api-platform/gateway/fxhub/pkg/core"
)

const retentionKeyPrefix = "fxhub:retained:"

// Endpoint relays over redis pub/sub. When retain is positive the last
// retain events of every listener key are also kept in a sorted set under
// fxhub:retained:{app-id}_{type}.
type Endpoint struct {
	name       string
	addr       string
	password   string
	db         int
	channelIn  string
	channelOut string
	retain     int
	ttl        time.Duration
	client     *redis.Client
	logger     *slog.Logger
	consumers  sync.Map // route key -> *redis.PubSub
}

type Options struct {
	Addr       string
	Password   string
	DB         int
	ChannelIn  string
	ChannelOut string
	Retain     int
	TTL        time.Duration
}

func New(name string, opts Options, logger *slog.Logger) *Endpoint {
	return &Endpoint{
		name:       name,
		addr:       opts.Addr,
		password:   opts.Password,
		db:         opts.DB,
		channelIn:  opts.ChannelIn,
		channelOut: opts.ChannelOut,
		retain:     opts.Retain,
		ttl:        opts.TTL,
		logger:     logger,
	}
}

func (e *Endpoint) Name() string { return e.name }
func (e *Endpoint) Type() string { return "redis" }

func (e *Endpoint) Connect(ctx context.Context) error {
	e.client = redis.NewClient(&redis.Options{
		Addr:     e.addr,
		Password: e.password,
		DB:       e.db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := e.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	e.logger.Info("redis endpoint connected",
		"name", e.name,
		"addr", e.addr,
		"channel_in", e.channelIn,
		"channel_out", e.channelOut,
		"retain", e.retain,
	)
	return nil
}

func (e *Endpoint) Disconnect(ctx context.Context) error {
	e.consumers.Range(func(_, val any) bool {
		val.(*redis.PubSub).Close()
		return true
	})
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

func (e *Endpoint) StartConsumer(
	ctx context.Context,
	route *core.Route,
	ch chan<- core.BrokerMessage,
) error {
	if e.channelIn == "" {
		<-ctx.Done()
		return nil
	}

	pubsub := e.client.Subscribe(ctx, e.channelIn)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redis subscribe %s: %w", e.channelIn, err)
	}

	key := route.Key()
	e.consumers.Store(key, pubsub)
	defer func() {
		e.consumers.CompareAndDelete(key, pubsub)
		pubsub.Close()
	}()

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			select {
			case ch <- core.BrokerMessage{Event: eventFromMessage(route, e.name, msg)}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (e *Endpoint) StopConsumer(routeKey string) error {
	val, ok := e.consumers.LoadAndDelete(routeKey)
	if !ok {
		return nil
	}
	return val.(*redis.PubSub).Close()
}

func (e *Endpoint) Send(ctx context.Context, evt core.Event) error {
	if e.channelOut == "" || e.client == nil {
		return nil
	}

	// publish and retention commit together
	pipe := e.client.TxPipeline()
	pipe.Publish(ctx, e.channelOut, evt.Payload)
	e.retainIn(ctx, pipe, evt)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// retainIn queues the retention commands for evt: add it scored by its
// timestamp, trim to the newest e.retain members, refresh the ttl.
func (e *Endpoint) retainIn(ctx context.Context, pipe redis.Pipeliner, evt core.Event) {
	if e.retain <= 0 {
		return
	}
	ts := evt.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	key := retentionKey(evt)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(ts.UnixNano()),
		Member: evt.Payload,
	})
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-e.retain-1))
	if e.ttl > 0 {
		pipe.Expire(ctx, key, e.ttl)
	}
}

func retentionKey(evt core.Event) string {
	return retentionKeyPrefix + evt.Key()
}

func eventFromMessage(route *core.Route, source string, msg *redis.Message) core.Event {
	metadata := map[string]string{"redis_channel": msg.Channel}
	if msg.Pattern != "" {
		metadata["redis_pattern"] = msg.Pattern
	}
	return route.Inbound(source, []byte(msg.Payload), metadata, time.Time{})
}
