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

package config

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/wso2/api-platform/gateway/fxhub/internal/routing"
)

func TestWatcherReloadsRoutes(t *testing.T) {
	path := writeConfig(t, `
endpoints:
  - name: e
    type: kafka
routes:
  - app_id: a1
    type: t1
    target: e
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	table := routing.NewTable()
	table.ReplaceAll(cfg.ToRoutes())

	reloaded := make(chan struct{}, 1)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	w := NewWatcher(path, table, func(ctx context.Context) {
		select {
		case reloaded <- struct{}{}:
		default:
		}
	}, logger)
	w.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Watch(ctx)

	updated := `
endpoints:
  - name: e
    type: kafka
routes:
  - app_id: a1
    type: t2
    target: e
  - app_id: a2
    type: t1
    target: e
`
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	select {
	case <-reloaded:
	case <-time.After(2 * time.Second):
		t.Fatal("reload hook not called")
	}

	keys := table.Keys()
	if len(keys) != 2 || keys[0] != "a1_t2" || keys[1] != "a2_t1" {
		t.Fatalf("unexpected routes after reload: %v", keys)
	}
}

func TestWatcherKeepsRoutesOnBadConfig(t *testing.T) {
	path := writeConfig(t, `
endpoints:
  - name: e
    type: kafka
routes:
  - app_id: a1
    type: t1
    target: e
`)
	cfg, _ := Load(path)
	table := routing.NewTable()
	table.ReplaceAll(cfg.ToRoutes())

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 4}))
	called := false
	w := NewWatcher(path, table, func(ctx context.Context) { called = true }, logger)

	os.WriteFile(path, []byte("routes: [ {app_id: a1, type: t1, target: missing} ]"), 0644)
	future := time.Now().Add(time.Minute)
	os.Chtimes(path, future, future)

	w.poll(context.Background())

	if called {
		t.Fatal("reload hook called for invalid config")
	}
	if keys := table.Keys(); len(keys) != 1 || keys[0] != "a1_t1" {
		t.Fatalf("routes changed on invalid config: %v", keys)
	}
}
