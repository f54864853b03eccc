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
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/wso2/api-platform/gateway/fxhub/pkg/hub"
)

var errHubRejected = errors.New("hub rejected command")

func newCallCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "call <command> [json-object]",
		Short: "POST an arbitrary command to the hub",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload hub.Document
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &payload); err != nil {
					return fmt.Errorf("payload must be a JSON object: %w", err)
				}
			}
			client, _, err := opts.client()
			if err != nil {
				return err
			}
			defer client.Close()
			res, err := client.Call(cmd.Context(), args[0], payload)
			return printResult(cmd.OutOrStdout(), res, err)
		},
	}
}

func newSendCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "send <app-id> <type> [data]",
		Short: "Broadcast an event through the hub",
		Long:  "Broadcast an event through the hub. data is parsed as JSON and sent as a string when it is not valid JSON.",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data any
			if len(args) == 3 {
				data = parseValue(args[2])
			}
			client, _, err := opts.client()
			if err != nil {
				return err
			}
			defer client.Close()
			res, err := client.SendEvent(cmd.Context(), args[0], args[1], data)
			return printResult(cmd.OutOrStdout(), res, err)
		},
	}
}

func newSetStateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "set-state <app-id> <state>",
		Short: "Store the state of an app in the hub",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := opts.client()
			if err != nil {
				return err
			}
			defer client.Close()
			res, err := client.SetState(cmd.Context(), args[0], parseValue(args[1]))
			return printResult(cmd.OutOrStdout(), res, err)
		},
	}
}

func newGetStateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get-state <app-id>",
		Short: "Print the stored state of an app",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := opts.client()
			if err != nil {
				return err
			}
			defer client.Close()
			res, err := client.GetState(cmd.Context(), args[0])
			return printResult(cmd.OutOrStdout(), res, err)
		},
	}
}

func newDemoCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run the hub demo command",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := opts.client()
			if err != nil {
				return err
			}
			defer client.Close()
			res, err := client.Demo(cmd.Context())
			return printResult(cmd.OutOrStdout(), res, err)
		},
	}
}

func parseValue(arg string) any {
	var v any
	if err := json.Unmarshal([]byte(arg), &v); err != nil {
		return arg
	}
	return v
}

// printResult writes the result document as one JSON line and turns
// transport errors and unsuccessful results into a command error.
func printResult(w io.Writer, res hub.Document, callErr error) error {
	if err := json.NewEncoder(w).Encode(res); err != nil {
		return err
	}
	if callErr != nil {
		return callErr
	}
	if !res.Success() {
		if msg := res.ErrorMessage(); msg != "" {
			return fmt.Errorf("%w: %s", errHubRejected, msg)
		}
		return errHubRejected
	}
	return nil
}
