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
	"context"
	"errors"
)

var (
	ErrNoRoute             = errors.New("no route")
	ErrTargetNotFound      = errors.New("target endpoint not found")
	ErrEndpointUnavailable = errors.New("endpoint unavailable")
	ErrRouteNotAttached    = errors.New("route not attached")
)

// Entrypoint is an inbound surface, such as the HTTP gateway, that serves
// until ctx is cancelled.
type Entrypoint interface {
	Name() string
	Type() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Endpoint is a broker or fan-out server the bridge relays hub events to
// and, for upstream routes, consumes messages from.
type Endpoint interface {
	Name() string
	Type() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Send(ctx context.Context, evt Event) error
	StartConsumer(ctx context.Context, route *Route, ch chan<- BrokerMessage) error
	StopConsumer(routeKey string) error
}

type HealthChecker interface {
	IsEndpointHealthy(name string) bool
}
