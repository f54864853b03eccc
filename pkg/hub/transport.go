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
	"fmt"
	"net"
	"sync"
)

// Transport owns the single socket to the hub. The socket is dialed on
// first use and held until a call consumes it, an I/O failure breaks it,
// or a stream takes it over.
type Transport struct {
	endpoint Endpoint
	dialer   net.Dialer
	mu       sync.Mutex
	conn     net.Conn
}

func NewTransport(endpoint Endpoint) *Transport {
	return &Transport{endpoint: endpoint}
}

func (t *Transport) Endpoint() Endpoint { return t.endpoint }

func (t *Transport) connect(ctx context.Context) (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return t.conn, nil
	}
	conn, err := t.dialer.DialContext(ctx, "tcp", t.endpoint.Address())
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnection, t.endpoint.Address(), err)
	}
	t.conn = conn
	return conn, nil
}

// release forgets conn and closes it.
func (t *Transport) release(conn net.Conn) {
	t.detach(conn)
	conn.Close()
}

// detach forgets conn without closing it; the caller now owns it.
func (t *Transport) detach(conn net.Conn) {
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.mu.Unlock()
}

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
