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
	"encoding/json"
	"sync"

	"github.com/spf13/cobra"
	"github.com/wso2/api-platform/gateway/fxhub/pkg/hub"
)

func newListenCmd(opts *options) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "listen <app-id> <type>",
		Short: "Print streamed hub events for one app and type as JSON lines",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := opts.client()
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			var mu sync.Mutex
			seen := 0
			enc := json.NewEncoder(cmd.OutOrStdout())
			client.AddListener(args[0], args[1], func(evt hub.Document) {
				mu.Lock()
				defer mu.Unlock()
				if count > 0 && seen >= count {
					return
				}
				enc.Encode(evt)
				seen++
				if count > 0 && seen == count {
					cancel()
				}
			})

			return client.Listen(ctx)
		},
	}

	cmd.Flags().IntVar(&count, "count", 0, "exit after this many events (0 listens until interrupted)")
	return cmd
}
