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

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fxhub"

// Metrics holds the bridge and gateway collectors on a private registry.
// All methods are no-ops on a nil *Metrics.
type Metrics struct {
	registry        *prometheus.Registry
	relayed         *prometheus.CounterVec
	failed          *prometheus.CounterVec
	dropped         *prometheus.CounterVec
	attached        prometheus.Gauge
	gatewayCalls    *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		relayed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "relayed_total",
				Help:      "Events relayed across the bridge",
			},
			[]string{"route", "direction"},
		),
		failed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "failed_total",
				Help:      "Events the target refused",
			},
			[]string{"route", "direction"},
		),
		dropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "dropped_total",
				Help:      "Hub events dropped before reaching a route",
			},
			[]string{"route", "reason"},
		),
		attached: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "bridge",
				Name:      "attached_routes",
				Help:      "Routes currently attached",
			},
		),
		gatewayCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "calls_total",
				Help:      "Hub calls made through the HTTP gateway",
			},
			[]string{"command", "status"},
		),
		gatewayDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "gateway",
				Name:      "call_duration_seconds",
				Help:      "Hub call latency seen by the HTTP gateway",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"command"},
		),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Relayed(route, direction string) {
	if m == nil {
		return
	}
	m.relayed.WithLabelValues(route, direction).Inc()
}

func (m *Metrics) Failed(route, direction string) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(route, direction).Inc()
}

func (m *Metrics) Dropped(route, reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(route, reason).Inc()
}

func (m *Metrics) SetAttached(n int) {
	if m == nil {
		return
	}
	m.attached.Set(float64(n))
}

func (m *Metrics) GatewayCall(command string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(command, strconv.Itoa(status)).Inc()
	m.gatewayDuration.WithLabelValues(command).Observe(elapsed.Seconds())
}
