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
	"encoding/json"
	"strings"
)

// StreamPath is where the hub serves its event stream.
const StreamPath = "/sse"

const dataPrefix = "data:"

func (c *Client) RegisterListener(appID, eventType string, l Listener) {
	c.listeners.Register(appID, eventType, l)
}

func (c *Client) AddListener(appID, eventType string, fn func(evt Document)) {
	c.listeners.Register(appID, eventType, ListenerFunc(fn))
}

// OnLine routes one stream line to the listener registered for its
// app-id and type. Lines that are not data lines, do not decode, or lack
// either routing field are dropped without a trace.
func (c *Client) OnLine(line string) {
	evt, key, ok := decodeEvent(line)
	if !ok {
		return
	}
	if l, ok := c.listeners.Lookup(key); ok {
		l.HandleEvent(evt)
	}
}

func decodeEvent(line string) (Document, string, bool) {
	payload, found := strings.CutPrefix(line, dataPrefix)
	if !found {
		return nil, "", false
	}
	var evt Document
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		return nil, "", false
	}
	appID, ok := evt.String("app-id")
	if !ok {
		return nil, "", false
	}
	eventType, ok := evt.String("type")
	if !ok {
		return nil, "", false
	}
	return evt, ListenerKey(appID, eventType), true
}

// Listen streams hub events into the registered listeners until the hub
// closes the stream, ctx is cancelled, or the socket fails.
func (c *Client) Listen(ctx context.Context) error {
	return c.OpenStream(ctx, StreamPath, c.OnLine)
}
