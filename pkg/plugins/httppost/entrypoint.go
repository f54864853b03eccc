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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/wso2/api-platform/gateway/fxhub/internal/metrics"
	"github.com/wso2/api-platform/gateway/fxhub/pkg/core"
	"github.com/wso2/api-platform/gateway/fxhub/pkg/hub"
)

// Caller runs one hub command.
type Caller interface {
	Call(ctx context.Context, command string, payload hub.Document) (hub.Document, error)
}

// Entrypoint exposes hub commands over plain HTTP: POST /{command} with a
// JSON object body answers with the hub's result document.
type Entrypoint struct {
	name    string
	port    int
	caller  Caller
	server  *http.Server
	logger  *slog.Logger
	metrics *metrics.Metrics
	maxBody int64
}

func New(name string, port int, caller Caller, logger *slog.Logger) *Entrypoint {
	return &Entrypoint{
		name:    name,
		port:    port,
		caller:  caller,
		logger:  logger,
		maxBody: 1 << 20,
	}
}

func (e *Entrypoint) Name() string { return e.name }
func (e *Entrypoint) Type() string { return "http_post" }

// SetMetrics records call counters on m and serves them on GET /metrics.
func (e *Entrypoint) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

func (e *Entrypoint) Handler() http.Handler {
	mux := http.NewServeMux()
	if e.metrics != nil {
		mux.Handle("GET /metrics", e.metrics.Handler())
	}
	mux.HandleFunc("/", e.handlePost)
	return mux
}

func (e *Entrypoint) Start(ctx context.Context) error {
	e.server = &http.Server{Addr: fmt.Sprintf(":%d", e.port), Handler: e.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.server.Shutdown(shutdownCtx)
	}()

	e.logger.Info("http_post entrypoint starting", "name", e.name, "port", e.port)
	if err := e.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (e *Entrypoint) Stop(ctx context.Context) error {
	if e.server != nil {
		return e.server.Shutdown(ctx)
	}
	return nil
}

func (e *Entrypoint) handlePost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	command := strings.Trim(r.URL.Path, "/")
	if command == "" {
		http.Error(w, "missing command", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, e.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, hub.Document{
				"success": false,
				"message": fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit),
			})
			return
		}
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var payload hub.Document
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			writeJSON(w, http.StatusBadRequest, hub.Document{"success": false, "message": "body must be a JSON object"})
			return
		}
	}

	clientID := core.ClientID(r)
	start := time.Now()
	res, err := e.caller.Call(r.Context(), command, payload)
	status := http.StatusOK
	defer func() { e.metrics.GatewayCall(command, status, time.Since(start)) }()
	if err != nil {
		status = http.StatusBadGateway
		e.logger.Error("hub call failed", "command", command, "client_id", clientID, "error", err)
		if res == nil {
			res = hub.Document{"sended": false}
		}
		res["error"] = err.Error()
		writeJSON(w, status, res)
		return
	}
	if _, protocolErr := res["error"]; protocolErr {
		status = http.StatusBadGateway
		e.logger.Warn("hub answered malformed response", "command", command, "client_id", clientID, "error", res.ErrorMessage())
		writeJSON(w, status, res)
		return
	}

	e.logger.Debug("hub call", "command", command, "client_id", clientID, "success", res.Success())
	writeJSON(w, status, res)
}

func writeJSON(w http.ResponseWriter, status int, doc hub.Document) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(doc)
}
