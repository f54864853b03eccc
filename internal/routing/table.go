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

package routing

import (
	"sort"
	"sync"

	"github.com/wso2/api-platform/gateway/fxhub/pkg/core"
)

// Table holds bridge routes keyed by the hub listener key they serve.
type Table struct {
	routes sync.Map
}

func NewTable() *Table {
	return &Table{}
}

func (t *Table) Add(route *core.Route) {
	t.routes.Store(route.Key(), route)
}

func (t *Table) Remove(key string) {
	t.routes.Delete(key)
}

func (t *Table) Lookup(key string) (*core.Route, bool) {
	v, ok := t.routes.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*core.Route), true
}

func (t *Table) ReplaceAll(routes []*core.Route) {
	t.routes.Range(func(key, _ any) bool {
		t.routes.Delete(key)
		return true
	})
	for _, r := range routes {
		t.routes.Store(r.Key(), r)
	}
}

// Keys returns the routed listener keys in sorted order.
func (t *Table) Keys() []string {
	var keys []string
	t.routes.Range(func(key, _ any) bool {
		keys = append(keys, key.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}
