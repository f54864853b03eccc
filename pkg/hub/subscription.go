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

package hub

import (
	"context"

	"github.com/google/uuid"
)

// Subscription is a background Listen started by ListenAsync.
type Subscription struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// ListenAsync runs Listen on its own goroutine and returns a handle that
// stops it.
func (c *Client) ListenAsync(ctx context.Context) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		id:     uuid.New().String(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(sub.done)
		defer cancel()
		sub.err = c.Listen(ctx)
		if sub.err != nil {
			c.logger.Warn("hub stream failed", "subscription_id", sub.id, "error", sub.err)
			return
		}
		c.logger.Info("hub stream ended", "subscription_id", sub.id)
	}()

	c.logger.Info("hub stream started", "subscription_id", sub.id, "hub", c.transport.endpoint.Address())
	return sub
}

func (s *Subscription) ID() string { return s.id }

func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns the error that ended the stream, or nil while it is running
// or after a clean end.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Stop cancels the stream and waits for it to finish.
func (s *Subscription) Stop() error {
	s.cancel()
	<-s.done
	return s.err
}
