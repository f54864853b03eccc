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

package httppost

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/wso2/api-platform/gateway/fxhub/internal/hubtest"
	"github.com/wso2/api-platform/gateway/fxhub/internal/metrics"
	"github.com/wso2/api-platform/gateway/fxhub/pkg/hub"
)

func newGateway(t *testing.T, addr string) *Entrypoint {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	client, err := hub.NewClient(addr, logger)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return New("gateway", 0, client, logger)
}

func TestGateway(t *testing.T) {
	srv := hubtest.NewServer(t)
	srv.Respond("/broken", "HTTP/1.1 200 OK\r\n\r\nnot json")
	gw := newGateway(t, srv.Addr())

	tests := []struct {
		name        string
		method      string
		path        string
		body        string
		wantStatus  int
		wantSuccess bool
	}{
		{"set state", http.MethodPost, "/set-state", `{"app-id":"a1","state":{"n":1}}`, http.StatusOK, true},
		{"demo without body", http.MethodPost, "/demo", "", http.StatusOK, true},
		{"unknown command", http.MethodPost, "/nope", `{}`, http.StatusOK, false},
		{"malformed hub answer", http.MethodPost, "/broken", `{}`, http.StatusBadGateway, false},
		{"non-object body", http.MethodPost, "/send", `[1,2]`, http.StatusBadRequest, false},
		{"missing command", http.MethodPost, "/", `{}`, http.StatusNotFound, false},
		{"wrong method", http.MethodGet, "/demo", "", http.StatusMethodNotAllowed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			gw.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if rec.Header().Get("Content-Type") != "application/json" {
				return
			}
			var doc hub.Document
			if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
				t.Fatalf("response is not json: %v", err)
			}
			if doc.Success() != tt.wantSuccess {
				t.Fatalf("expected success=%v, got %v", tt.wantSuccess, doc)
			}
		})
	}
}

func TestGatewayHubUnreachable(t *testing.T) {
	srv := hubtest.NewServer(t)
	addr := srv.Addr()
	srv.Close()
	gw := newGateway(t, addr)

	req := httptest.NewRequest(http.MethodPost, "/demo", nil)
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	var doc hub.Document
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("response is not json: %v", err)
	}
	if doc.Sended() {
		t.Fatal("expected sended=false")
	}
	if doc.ErrorMessage() == "" {
		t.Fatal("expected error message")
	}
}

func TestGatewayBodyTooLarge(t *testing.T) {
	srv := hubtest.NewServer(t)
	gw := newGateway(t, srv.Addr())
	gw.maxBody = 32

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"at limit", `{"app-id":"a1","state":"0123"}`, http.StatusOK},
		{"over limit", `{"app-id":"a1","state":"` + strings.Repeat("x", 64) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/set-state", strings.NewReader(tt.body)))
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}
	if n := len(srv.Requests()); n != 1 {
		t.Fatalf("expected only the small body to reach the hub, got %d requests", n)
	}
}

func TestGatewayMetrics(t *testing.T) {
	srv := hubtest.NewServer(t)
	gw := newGateway(t, srv.Addr())
	gw.SetMetrics(metrics.New())
	handler := gw.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/demo", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rec.Code)
	}
	want := `fxhub_gateway_calls_total{command="demo",status="200"} 1`
	if !strings.Contains(rec.Body.String(), want) {
		t.Fatalf("expected %q in metrics output", want)
	}
}
