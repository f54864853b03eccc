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
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/wso2/api-platform/gateway/fxhub/pkg/hub"
)

const envHubAddress = "FXHUB_ADDRESS"

type options struct {
	hubAddr  string
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "fxhub",
		Short: "Client and broker bridge for the local fxhub service",
		Long: `fxhub talks to the hub over its minimal HTTP protocol.

Commands map to hub calls (send, set-state, get-state, demo, call),
listen prints streamed events, and bridge runs the daemon that relays
hub events to message brokers and back.`,
		SilenceUsage: true,
	}

	defaultHub := os.Getenv(envHubAddress)
	if defaultHub == "" {
		defaultHub = hub.DefaultAddress
	}
	root.PersistentFlags().StringVar(&opts.hubAddr, "hub", defaultHub, "hub address host:port (env "+envHubAddress+")")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	root.AddCommand(
		newCallCmd(opts),
		newSendCmd(opts),
		newSetStateCmd(opts),
		newGetStateCmd(opts),
		newDemoCmd(opts),
		newListenCmd(opts),
		newBridgeCmd(opts),
	)
	return root
}

func (o *options) logger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(o.logLevel))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", o.logLevel, err)
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

func (o *options) client() (*hub.Client, *slog.Logger, error) {
	logger, err := o.logger()
	if err != nil {
		return nil, nil, err
	}
	client, err := hub.NewClient(o.hubAddr, logger.With("component", "hub"))
	if err != nil {
		return nil, nil, err
	}
	return client, logger, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
