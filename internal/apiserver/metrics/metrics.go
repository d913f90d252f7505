/*
Copyright 2026 The llm-d Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics holds the status server's own request metrics and the /metrics handler.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	subsystem = "status"

	// UnmatchedRoute labels requests that matched no route, keeping the route label bounded.
	UnmatchedRoute = "unmatched"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "requests_total",
			Help:      "Requests served by the status server, by route and status code",
		},
		[]string{"method", "route", "code"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Subsystem: subsystem,
			Name:      "request_duration_seconds",
			Help:      "Time spent serving status server requests",
			// progress and results are served from memory
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"method", "route", "code"},
	)
	requestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Subsystem: subsystem,
			Name:      "requests_in_flight",
			Help:      "Status server requests currently being served",
		},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, requestsInFlight)
}

// RequestStarted marks a request in flight. The returned function records its outcome
// and must be called exactly once.
func RequestStarted() func(method, route string, code int) {
	requestsInFlight.Inc()
	start := time.Now()
	return func(method, route string, code int) {
		requestsInFlight.Dec()
		status := strconv.Itoa(code)
		requestsTotal.WithLabelValues(method, route, status).Inc()
		requestDuration.WithLabelValues(method, route, status).Observe(time.Since(start).Seconds())
	}
}
