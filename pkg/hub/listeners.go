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

import "sync"

// Listener receives decoded hub events.
type Listener interface {
	HandleEvent(evt Document)
}

type ListenerFunc func(evt Document)

func (f ListenerFunc) HandleEvent(evt Document) { f(evt) }

// ListenerKey is the routing key of an event: "{appID}_{eventType}".
func ListenerKey(appID, eventType string) string {
	return appID + "_" + eventType
}

// ListenerTable maps listener keys to listeners. Registering a key twice
// replaces the earlier listener; entries are never removed.
type ListenerTable struct {
	listeners sync.Map
}

func NewListenerTable() *ListenerTable {
	return &ListenerTable{}
}

func (t *ListenerTable) Register(appID, eventType string, l Listener) {
	t.listeners.Store(ListenerKey(appID, eventType), l)
}

func (t *ListenerTable) Lookup(key string) (Listener, bool) {
	v, ok := t.listeners.Load(key)
	if !ok {
		return nil, false
	}
	l, ok := v.(Listener)
	return l, ok && l != nil
}

func (t *ListenerTable) Len() int {
	n := 0
	t.listeners.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
