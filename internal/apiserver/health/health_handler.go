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

// Package health serves the status server's liveness endpoint.
package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/batch-dispatcher/internal/apiserver/common"
)

const (
	HealthPath = "/health"

	checkTimeout = 2 * time.Second
)

// Check reports a dependency problem by returning an error.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// HealthApiHandler answers OK, or 503 naming every failing check.
type HealthApiHandler struct {
	checks []Check
}

func NewHealthApiHandler(checks ...Check) *HealthApiHandler {
	return &HealthApiHandler{checks: checks}
}

// GetRoutes registers GET only; the mux routes HEAD to it as well.
func (c *HealthApiHandler) GetRoutes() []common.Route {
	return []common.Route{
		{
			Method:      http.MethodGet,
			Pattern:     HealthPath,
			HandlerFunc: c.HealthHandler,
		},
	}
}

func (c *HealthApiHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	var failed []string
	for _, check := range c.checks {
		if err := check.Fn(ctx); err != nil {
			klog.FromContext(ctx).Error(err, "Health check failed", "check", check.Name)
			failed = append(failed, check.Name)
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if len(failed) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "%s: unhealthy", strings.Join(failed, ", "))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
