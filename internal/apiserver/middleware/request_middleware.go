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

// Package middleware tags status server requests with an id and records their metrics.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/batch-dispatcher/internal/apiserver/health"
	"github.com/llm-d-incubation/batch-dispatcher/internal/apiserver/metrics"
	"github.com/llm-d-incubation/batch-dispatcher/internal/util/logging"
)

type contextKey string

const (
	RequestIDHeader            = "X-Request-ID"
	requestIDKey    contextKey = "requestID"
)

// RequestMiddleware wraps a ServeMux. base carries the server logger into request
// contexts. Scrapes and health probes pass through untouched.
func RequestMiddleware(base context.Context, next http.Handler) http.Handler {
	baseLogger := klog.FromContext(base)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == metrics.MetricsPath || r.URL.Path == health.HealthPath {
			next.ServeHTTP(w, r)
			return
		}
		done := metrics.RequestStarted()

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		logger := baseLogger.WithValues("requestID", requestID)
		logger.V(logging.TRACE).Info("Incoming request", "method", r.Method, "path", r.URL.Path, "remoteAddr", r.RemoteAddr)

		ctx := context.WithValue(klog.NewContext(r.Context(), logger), requestIDKey, requestID)
		req := r.WithContext(ctx)
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			done(r.Method, route(req), rw.status)
		}()
		next.ServeHTTP(rw, req)
	})
}

// route returns the path part of the pattern the mux matched for req.
func route(req *http.Request) string {
	if req.Pattern == "" {
		return metrics.UnmatchedRoute
	}
	if _, path, found := strings.Cut(req.Pattern, " "); found {
		return path
	}
	return req.Pattern
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// GetRequestIDFromContext returns the id assigned by RequestMiddleware, or "unknown".
func GetRequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return "unknown"
}
