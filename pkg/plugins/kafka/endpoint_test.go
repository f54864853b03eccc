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

package kafka

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/wso2/api-platform/gateway/fxhub/pkg/core"
)

func header(rec kafka.Message, key string) (string, bool) {
	for _, h := range rec.Headers {
		if h.Key == key {
			return string(h.Value), true
		}
	}
	return "", false
}

func TestRecordFor(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		evt     core.Event
		wantKey string
	}{
		{
			name:    "hub event",
			evt:     core.Event{AppID: "player", Type: "play", Payload: []byte(`{"track":1}`), Timestamp: ts},
			wantKey: "player_play",
		},
		{
			name:    "empty payload",
			evt:     core.Event{AppID: "a1", Type: "t1", Timestamp: ts},
			wantKey: "a1_t1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := recordFor(tt.evt)
			if string(rec.Key) != tt.wantKey {
				t.Fatalf("expected key %s, got %s", tt.wantKey, rec.Key)
			}
			if string(rec.Value) != string(tt.evt.Payload) {
				t.Fatalf("expected value %s, got %s", tt.evt.Payload, rec.Value)
			}
			if v, ok := header(rec, headerAppID); !ok || v != tt.evt.AppID {
				t.Fatalf("expected %s header %s, got %q", headerAppID, tt.evt.AppID, v)
			}
			if v, ok := header(rec, headerType); !ok || v != tt.evt.Type {
				t.Fatalf("expected %s header %s, got %q", headerType, tt.evt.Type, v)
			}
			if !rec.Time.Equal(ts) {
				t.Fatalf("expected time %v, got %v", ts, rec.Time)
			}
		})
	}
}

func TestEventFromRecord(t *testing.T) {
	route := &core.Route{AppID: "player", EventType: "play"}
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := kafka.Message{Topic: "in", Partition: 2, Offset: 41, Key: []byte("k"), Value: []byte(`{"n":1}`), Time: ts}

	evt := eventFromRecord(route, "kafka-main", rec)
	if evt.Key() != "player_play" || evt.SourceID != "kafka-main" {
		t.Fatalf("unexpected event %+v", evt)
	}
	if string(evt.Payload) != `{"n":1}` || !evt.Timestamp.Equal(ts) {
		t.Fatalf("unexpected payload or time %+v", evt)
	}
	want := map[string]string{"kafka_key": "k", "kafka_topic": "in", "kafka_partition": "2", "kafka_offset": "41"}
	for k, v := range want {
		if evt.Metadata[k] != v {
			t.Fatalf("metadata %s: expected %s, got %s", k, v, evt.Metadata[k])
		}
	}
}

func TestConsumerGroupPerRoute(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	tests := []struct {
		groupID string
		want    string
	}{
		{"", "fxhub-kafka-main-a1_t1"},
		{"bridge", "bridge-a1_t1"},
	}
	route := &core.Route{AppID: "a1", EventType: "t1"}
	for _, tt := range tests {
		ep := New("kafka-main", []string{"localhost:9092"}, "in", "out", tt.groupID, logger)
		if got := ep.groupFor(route); got != tt.want {
			t.Errorf("groupFor with group %q = %s, want %s", tt.groupID, got, tt.want)
		}
	}
}
