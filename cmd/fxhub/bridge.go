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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/wso2/api-platform/gateway/fxhub/internal/bridge"
	"github.com/wso2/api-platform/gateway/fxhub/internal/logging"
	"github.com/wso2/api-platform/gateway/fxhub/internal/metrics"
	"github.com/wso2/api-platform/gateway/fxhub/internal/routing"
	"github.com/wso2/api-platform/gateway/fxhub/pkg/config"
	"github.com/wso2/api-platform/gateway/fxhub/pkg/hub"
	"github.com/wso2/api-platform/gateway/fxhub/pkg/plugins"
	"github.com/wso2/api-platform/gateway/fxhub/pkg/plugins/httppost"
)

const envConfigPath = "FXHUB_CONFIG"

var errHubStreamClosed = errors.New("hub stream closed")

func newBridgeCmd(opts *options) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Relay hub events to message brokers and broker messages to the hub",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := opts.logger()
			if err != nil {
				return err
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			hubAddr := cfg.HubAddress()
			if cmd.Flags().Changed("hub") || os.Getenv(envHubAddress) != "" {
				hubAddr = opts.hubAddr
			}
			return runBridge(cmd.Context(), configPath, cfg, hubAddr, logger)
		},
	}

	defaultConfig := os.Getenv(envConfigPath)
	if defaultConfig == "" {
		defaultConfig = "/etc/fxhub/config.yaml"
	}
	cmd.Flags().StringVar(&configPath, "config", defaultConfig, "bridge config file (env "+envConfigPath+")")
	return cmd
}

func runBridge(ctx context.Context, configPath string, cfg *config.Config, hubAddr string, logger *slog.Logger) error {
	client, err := hub.NewClient(hubAddr, logger.With("component", "hub"))
	if err != nil {
		return err
	}
	defer client.Close()

	packetLog := logging.NewPacketLogger(logger.With("component", "packet"))
	registry := plugins.NewRegistry(logger)

	for _, e := range cfg.Endpoints {
		ep, err := buildEndpoint(e, logger.With("endpoint", e.Name))
		if err != nil {
			logger.Warn("skipping endpoint", "name", e.Name, "error", err)
			continue
		}
		registry.RegisterEndpoint(ep)
	}
	mt := metrics.New()
	if cfg.Gateway.Port != 0 {
		gateway := httppost.New("gateway", cfg.Gateway.Port, client, logger.With("component", "gateway"))
		gateway.SetMetrics(mt)
		registry.RegisterEntrypoint(gateway)
	}

	routeTable := routing.NewTable()
	routeTable.ReplaceAll(cfg.ToRoutes())

	connected := registry.ConnectEndpoints(ctx)
	logger.Info("endpoints connected", "connected", connected, "total", len(cfg.Endpoints))

	mgr := bridge.NewManager(client, routeTable, registry.Endpoints(), registry, logger.With("component", "bridge"), packetLog)
	mgr.SetMetrics(mt)
	mgr.Sync(ctx)

	watcher := config.NewWatcher(configPath, routeTable, mgr.Sync, logger)
	go watcher.Watch(ctx)

	sub := client.ListenAsync(ctx)
	registry.StartEntrypoints(ctx)

	logger.Info("bridge started", "config", configPath, "hub", hubAddr, "routes", mgr.ActiveCount())

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down bridge")
	case <-sub.Done():
		runErr = errHubStreamClosed
		if err := sub.Err(); err != nil {
			runErr = fmt.Errorf("%w: %w", errHubStreamClosed, err)
		}
		logger.Error("hub stream closed, shutting down bridge", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mgr.DetachAll()
	sub.Stop()
	registry.StopAll(shutdownCtx)

	logger.Info("bridge stopped")
	return runErr
}
