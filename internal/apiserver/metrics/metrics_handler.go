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

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/llm-d-incubation/batch-dispatcher/internal/apiserver/common"
)

const MetricsPath = "/metrics"

type MetricsApiHandler struct {
	handler http.Handler
}

// NewMetricsApiHandler exposes the default registry, where the dispatch, key pool and
// status server metrics all register.
func NewMetricsApiHandler() *MetricsApiHandler {
	return NewMetricsApiHandlerFor(prometheus.DefaultGatherer)
}

func NewMetricsApiHandlerFor(gatherer prometheus.Gatherer) *MetricsApiHandler {
	return &MetricsApiHandler{
		handler: promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
			// a scrape that races a failing collector still returns the rest
			ErrorHandling: promhttp.ContinueOnError,
		}),
	}
}

func (c *MetricsApiHandler) GetRoutes() []common.Route {
	return []common.Route{
		{
			Method:      http.MethodGet,
			Pattern:     MetricsPath,
			HandlerFunc: c.handler.ServeHTTP,
		},
	}
}
