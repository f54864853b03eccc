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

import "context"

const (
	CommandSend     = "send"
	CommandSetState = "set-state"
	CommandState    = "state"
	CommandDemo     = "demo"
)

// SendEvent asks the hub to broadcast an event to every stream. data is
// attached under "data" when non-nil.
func (c *Client) SendEvent(ctx context.Context, appID, eventType string, data any) (Document, error) {
	payload := Document{"app-id": appID, "type": eventType}
	if data != nil {
		payload["data"] = data
	}
	return c.Call(ctx, CommandSend, payload)
}

func (c *Client) SetState(ctx context.Context, appID string, state any) (Document, error) {
	return c.Call(ctx, CommandSetState, Document{"app-id": appID, "state": state})
}

func (c *Client) GetState(ctx context.Context, appID string) (Document, error) {
	return c.Call(ctx, CommandState, Document{"app-id": appID})
}

func (c *Client) Demo(ctx context.Context) (Document, error) {
	return c.Call(ctx, CommandDemo, nil)
}

// Go runs Call on a new goroutine and passes its outcome to callback.
func (c *Client) Go(ctx context.Context, command string, payload Document, callback func(Document, error)) {
	go func() {
		res, err := c.Call(ctx, command, payload)
		if callback != nil {
			callback(res, err)
		}
	}()
}
