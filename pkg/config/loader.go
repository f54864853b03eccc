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

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/wso2/api-platform/gateway/fxhub/pkg/core"
	"github.com/wso2/api-platform/gateway/fxhub/pkg/hub"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Hub       HubConfig        `yaml:"hub"`
	Gateway   GatewayConfig    `yaml:"gateway"`
	Endpoints []EndpointConfig `yaml:"endpoints"`
	Routes    []RouteConfig    `yaml:"routes"`
}

type HubConfig struct {
	Address string `yaml:"address"`
}

// GatewayConfig enables the HTTP gateway when Port is non-zero.
type GatewayConfig struct {
	Port int `yaml:"port"`
}

type EndpointConfig struct {
	Name   string            `yaml:"name"`
	Type   string            `yaml:"type"`
	Config map[string]string `yaml:"config"`
}

type RouteConfig struct {
	AppID       string `yaml:"app_id"`
	Type        string `yaml:"type"`
	Target      string `yaml:"target"`
	Direction   string `yaml:"direction"`
	ChannelSize int    `yaml:"channel_size"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that endpoint names are unique and every route names an
// app id, a type and a declared endpoint.
func (c *Config) Validate() error {
	names := make(map[string]bool, len(c.Endpoints))
	for i, ep := range c.Endpoints {
		if ep.Name == "" || ep.Type == "" {
			return fmt.Errorf("%w: endpoint %d needs a name and a type", ErrInvalidConfig, i)
		}
		if names[ep.Name] {
			return fmt.Errorf("%w: duplicate endpoint %s", ErrInvalidConfig, ep.Name)
		}
		names[ep.Name] = true
	}
	for i, rc := range c.Routes {
		if rc.AppID == "" || rc.Type == "" {
			return fmt.Errorf("%w: route %d needs app_id and type", ErrInvalidConfig, i)
		}
		if !names[rc.Target] {
			return fmt.Errorf("%w: route %s_%s targets unknown endpoint %q", ErrInvalidConfig, rc.AppID, rc.Type, rc.Target)
		}
	}
	return nil
}

func (c *Config) HubAddress() string {
	if c.Hub.Address == "" {
		return hub.DefaultAddress
	}
	return c.Hub.Address
}

func (c *Config) ToRoutes() []*core.Route {
	routes := make([]*core.Route, 0, len(c.Routes))
	for _, rc := range c.Routes {
		routes = append(routes, rc.ToRoute())
	}
	return routes
}

func ParseDirection(s string) core.Direction {
	switch strings.ToLower(s) {
	case "upstream":
		return core.DirectionUpstream
	case "both":
		return core.DirectionBoth
	default:
		return core.DirectionDownstream
	}
}

func (rc RouteConfig) ToRoute() *core.Route {
	return &core.Route{
		AppID:       rc.AppID,
		EventType:   rc.Type,
		Target:      rc.Target,
		Direction:   ParseDirection(rc.Direction),
		ChannelSize: rc.ChannelSize,
	}
}

func (ec EndpointConfig) Get(key, def string) string {
	if v, ok := ec.Config[key]; ok && v != "" {
		return v
	}
	return def
}

// Int returns def when the key is missing or not a number.
func (ec EndpointConfig) Int(key string, def int) int {
	n, err := strconv.Atoi(ec.Config[key])
	if err != nil {
		return def
	}
	return n
}

// List splits a comma separated value, dropping blanks.
func (ec EndpointConfig) List(key string) []string {
	var out []string
	for _, part := range strings.Split(ec.Config[key], ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
