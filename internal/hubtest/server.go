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

// Package hubtest runs an in-process hub for tests. It answers command
// requests the way the hub does, one request per connection followed by a
// close, and serves GET /sse as a stream of lines.
package hubtest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
	Raw    string
}

type Server struct {
	listener  net.Listener
	lines     chan string
	streaming chan struct{}
	endStream chan struct{}
	closed    chan struct{}
	wg        sync.WaitGroup

	mu        sync.Mutex
	conns     map[net.Conn]struct{}
	requests  []Request
	responses map[string]string
	states    map[string]any
	delay     time.Duration

	active    atomic.Int32
	maxActive atomic.Int32
	endOnce   sync.Once
	closeOnce sync.Once
}

// NewServer starts a hub on a loopback port and stops it when t finishes.
func NewServer(t testing.TB) *Server {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("hubtest listen: %v", err)
	}
	s := &Server{
		listener:  l,
		lines:     make(chan string, 256),
		streaming: make(chan struct{}, 16),
		endStream: make(chan struct{}),
		closed:    make(chan struct{}),
		conns:     make(map[net.Conn]struct{}),
		responses: make(map[string]string),
		states:    make(map[string]any),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Addr() string { return s.listener.Addr().String() }

// Respond makes the hub answer path with raw instead of running the command.
func (s *Server) Respond(path, raw string) {
	s.mu.Lock()
	s.responses[path] = raw
	s.mu.Unlock()
}

// RespondJSON answers path with a well formed response carrying body.
func (s *Server) RespondJSON(path, body string) {
	s.Respond(path, "HTTP/1.1 200 OK\r\nContent-Type: application/json\r\n\r\n"+body)
}

// SetDelay holds every command response for d before answering.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// Emit queues a raw line for the event stream.
func (s *Server) Emit(line string) {
	s.lines <- line
}

// EmitEvent queues a data line carrying evt.
func (s *Server) EmitEvent(evt map[string]any) {
	data, _ := json.Marshal(evt)
	s.Emit("data: " + string(data))
}

// Streaming returns a channel that receives once per opened stream.
func (s *Server) Streaming() <-chan struct{} { return s.streaming }

// EndStream flushes queued lines and closes every open stream.
func (s *Server) EndStream() {
	s.endOnce.Do(func() { close(s.endStream) })
}

func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// MaxConcurrent is the highest number of command requests the hub was
// serving at once.
func (s *Server) MaxConcurrent() int { return int(s.maxActive.Load()) }

func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.listener.Close()
		s.mu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
	})
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		select {
		case <-s.closed:
			s.mu.Unlock()
			conn.Close()
			return
		default:
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(conn)
		}()
	}
}

func (s *Server) serve(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	var raw bytes.Buffer
	reader := bufio.NewReader(io.TeeReader(conn, &raw))
	httpReq, err := http.ReadRequest(reader)
	if err != nil {
		return
	}
	body, _ := io.ReadAll(httpReq.Body)

	req := Request{
		Method: httpReq.Method,
		Path:   httpReq.URL.Path,
		Header: httpReq.Header,
		Body:   body,
		Raw:    raw.String(),
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if req.Method == http.MethodGet && req.Path == "/sse" {
		s.stream(conn)
		return
	}

	n := s.active.Add(1)
	for {
		cur := s.maxActive.Load()
		if n <= cur || s.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}

	s.mu.Lock()
	delay := s.delay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	conn.Write([]byte(s.answer(req)))
	s.active.Add(-1)
}

func (s *Server) stream(conn net.Conn) {
	if _, err := conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Type: text/event-stream\r\nCache-Control: no-cache\r\n\r\n")); err != nil {
		return
	}
	select {
	case s.streaming <- struct{}{}:
	default:
	}
	for {
		select {
		case line := <-s.lines:
			if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
				return
			}
		case <-s.endStream:
			for {
				select {
				case line := <-s.lines:
					fmt.Fprintf(conn, "%s\n", line)
				default:
					return
				}
			}
		case <-s.closed:
			return
		}
	}
}

func (s *Server) answer(req Request) string {
	s.mu.Lock()
	canned, ok := s.responses[req.Path]
	s.mu.Unlock()
	if ok {
		return canned
	}

	var args map[string]any
	if err := json.Unmarshal(req.Body, &args); err != nil {
		return jsonResponse(map[string]any{"success": false, "message": "invalid json body"})
	}
	return jsonResponse(s.exec(req.Path, args))
}

func (s *Server) exec(path string, args map[string]any) map[string]any {
	switch path {
	case "/demo":
		return map[string]any{"success": true, "type": "demo"}
	case "/send":
		appID, okApp := args["app-id"].(string)
		eventType, okType := args["type"].(string)
		if !okApp || !okType {
			return map[string]any{"success": false, "message": "missing app-id or type"}
		}
		evt := map[string]any{
			"app-id":       appID,
			"type":         eventType,
			"data":         args["data"],
			"time-emitted": time.Now().UnixNano(),
		}
		select {
		case <-s.closed:
		default:
			s.EmitEvent(evt)
		}
		return map[string]any{"success": true}
	case "/set-state":
		appID, ok := args["app-id"].(string)
		state, hasState := args["state"]
		if !ok || !hasState {
			return map[string]any{"success": false, "message": "missing app-id or state"}
		}
		s.mu.Lock()
		s.states[appID] = state
		s.mu.Unlock()
		return map[string]any{"success": true}
	case "/state":
		appID, ok := args["app-id"].(string)
		if !ok {
			return map[string]any{"success": false, "message": "missing app-id"}
		}
		s.mu.Lock()
		state := s.states[appID]
		s.mu.Unlock()
		return map[string]any{"success": true, "state": state}
	default:
		return map[string]any{"success": false, "message": "unknown command " + path}
	}
}

func jsonResponse(body map[string]any) string {
	data, _ := json.Marshal(body)
	return "HTTP/1.1 200 OK\r\nContent-Type: application/json\r\n\r\n" + string(data)
}
