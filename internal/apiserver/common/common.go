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

// The file provides the route registration and response helpers shared by the api handlers.
package common

import (
	"context"
	"encoding/json"
	"net/http"

	"k8s.io/klog/v2"
)

type Route struct {
	Method      string
	Pattern     string
	HandlerFunc http.HandlerFunc
}

// ApiHandler is implemented by every group of endpoints served by the status server.
type ApiHandler interface {
	GetRoutes() []Route
}

// RegisterHandler adds the handler's routes to mux. Requests with a method that no route
// declares for a pattern are answered with 405 by the mux.
func RegisterHandler(mux *http.ServeMux, handler ApiHandler) {
	for _, route := range handler.GetRoutes() {
		mux.HandleFunc(route.Method+" "+route.Pattern, route.HandlerFunc)
	}
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes v as the response body with the given status.
func WriteJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		klog.FromContext(ctx).Error(err, "failed to write response")
	}
}

func WriteError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	WriteJSON(ctx, w, status, ErrorResponse{Error: ErrorBody{Code: status, Message: message}})
}
