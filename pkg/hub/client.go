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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

// Client talks to one hub. Synchronous calls share a single socket and are
// serialized by a write guard for their whole write and read cycle.
type Client struct {
	transport *Transport
	writeMu   sync.Mutex
	listeners *ListenerTable
	logger    *slog.Logger
}

// NewClient parses addr and returns a client that connects lazily. A nil
// logger discards all output.
func NewClient(addr string, logger *slog.Logger) (*Client, error) {
	endpoint, err := ParseEndpoint(addr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		transport: NewTransport(endpoint),
		listeners: NewListenerTable(),
		logger:    logger,
	}, nil
}

func (c *Client) Endpoint() Endpoint { return c.transport.Endpoint() }

func (c *Client) Listeners() *ListenerTable { return c.listeners }

// Call posts payload to /{command} and returns the decoded result, which
// always starts as {"sended": true}. Malformed responses are reported inside
// the result with "success": false; only connection and socket failures are
// returned as errors, together with {"sended": false}.
func (c *Client) Call(ctx context.Context, command string, payload Document) (Document, error) {
	result := Document{"sended": false}

	raw, err := c.exchange(ctx, command, payload)
	if err != nil {
		c.logger.Debug("hub call failed", "command", command, "error", err)
		return result, err
	}

	result["sended"] = true
	return parseResponse(raw, result), nil
}

func (c *Client) exchange(ctx context.Context, command string, payload Document) ([]byte, error) {
	if payload == nil {
		payload = Document{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	path := "/" + strings.TrimPrefix(command, "/")

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn, err := c.transport.connect(ctx)
	if err != nil {
		return nil, err
	}
	stop := bindContext(ctx, conn)
	defer stop()

	req := newCallRequest(c.transport.endpoint.Host, path, body)
	if _, err := req.WriteTo(conn); err != nil {
		c.transport.release(conn)
		return nil, ioError(ctx, "write "+path, err)
	}

	// The hub terminates every response, so the whole reply is whatever
	// arrives before EOF. The socket is spent afterwards.
	raw, err := io.ReadAll(conn)
	c.transport.release(conn)
	if err != nil {
		return nil, ioError(ctx, "read "+path, err)
	}
	return raw, nil
}

// Close drops the connection held for synchronous calls. Running streams
// are stopped through their own context.
func (c *Client) Close() error {
	return c.transport.Close()
}

// bindContext unblocks pending reads and writes on conn once ctx is done.
func bindContext(ctx context.Context, conn net.Conn) func() bool {
	return context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
}

func ioError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %s: %w", ErrIO, op, ctxErr)
	}
	return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
}
