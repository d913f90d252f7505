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

// The file provides HTTP handlers reporting on the running batch.
package progress

import (
	"net/http"

	"github.com/llm-d-incubation/batch-dispatcher/internal/api"
	"github.com/llm-d-incubation/batch-dispatcher/internal/apiserver/common"
	"github.com/llm-d-incubation/batch-dispatcher/internal/output"
	"github.com/llm-d-incubation/batch-dispatcher/internal/processor/worker"
	"github.com/llm-d-incubation/batch-dispatcher/internal/util/logging"
)

const (
	ProgressPath = "/v1/progress"
	ResultsPath  = "/v1/results"
)

// Source is the part of the processor the handlers read from.
type Source interface {
	Progress() *worker.Progress
	Results() []api.Result
}

type ProgressApiHandler struct {
	source Source
}

func NewProgressApiHandler(source Source) *ProgressApiHandler {
	return &ProgressApiHandler{source: source}
}

func (c *ProgressApiHandler) GetRoutes() []common.Route {
	return []common.Route{
		{
			Method:      http.MethodGet,
			Pattern:     ProgressPath,
			HandlerFunc: c.GetProgress,
		},
		{
			Method:      http.MethodGet,
			Pattern:     ResultsPath,
			HandlerFunc: c.GetResults,
		},
	}
}

func (c *ProgressApiHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	common.WriteJSON(r.Context(), w, http.StatusOK, c.source.Progress())
}

// GetResults returns the results collected so far in the results document layout.
func (c *ProgressApiHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	results := c.source.Results()
	if results == nil {
		results = []api.Result{}
	}
	logging.GetRequestLogger(r).V(logging.TRACE).Info("Serving results", "count", len(results))
	common.WriteJSON(r.Context(), w, http.StatusOK, output.Document{Questions: results})
}
