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

package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/wso2/api-platform/gateway/fxhub/pkg/hub"
)

type Direction int

const (
	// DirectionDownstream relays hub events to the target endpoint.
	DirectionDownstream Direction = iota
	// DirectionUpstream relays endpoint messages into the hub.
	DirectionUpstream
	DirectionBoth
)

func (d Direction) String() string {
	switch d {
	case DirectionUpstream:
		return "upstream"
	case DirectionBoth:
		return "both"
	default:
		return "downstream"
	}
}

func (d Direction) Downstream() bool { return d == DirectionDownstream || d == DirectionBoth }
func (d Direction) Upstream() bool   { return d == DirectionUpstream || d == DirectionBoth }

// Event is one hub event on its way between the hub and a broker. Payload
// is the JSON encoding of the hub event.
type Event struct {
	ID        string            `json:"id"`
	AppID     string            `json:"app_id"`
	Type      string            `json:"type"`
	SourceID  string            `json:"source_id"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp time.Time         `json:"timestamp"`
}

func (e Event) Key() string { return hub.ListenerKey(e.AppID, e.Type) }

type BrokerMessage struct {
	Event Event
	Ack   func() error
	Nack  func() error
}

type Route struct {
	AppID       string    `yaml:"app_id"`
	EventType   string    `yaml:"type"`
	Target      string    `yaml:"target"`
	Direction   Direction `yaml:"direction"`
	ChannelSize int       `yaml:"channel_size"`
}

// Key is the listener key the route is bound to.
func (r *Route) Key() string { return hub.ListenerKey(r.AppID, r.EventType) }

// Inbound is the event a broker message received for the route becomes.
// A zero ts means now.
func (r *Route) Inbound(source string, payload []byte, metadata map[string]string, ts time.Time) Event {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return Event{
		ID:        uuid.New().String(),
		AppID:     r.AppID,
		Type:      r.EventType,
		SourceID:  source,
		Payload:   payload,
		Metadata:  metadata,
		Timestamp: ts,
	}
}
