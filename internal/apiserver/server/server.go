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

// The file implements the status server: progress, health and metrics endpoints over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/batch-dispatcher/internal/apiserver/common"
	"github.com/llm-d-incubation/batch-dispatcher/internal/apiserver/middleware"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

type Server struct {
	addr     string
	mux      *http.ServeMux
	listener net.Listener
}

// New registers the handlers and binds addr, so a port conflict surfaces before any work starts.
func New(addr string, handlers ...common.ApiHandler) (*Server, error) {
	mux := http.NewServeMux()
	for _, h := range handlers {
		common.RegisterHandler(mux, h)
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		addr:     addr,
		mux:      mux,
		listener: listener,
	}, nil
}

// Addr returns the bound address, which differs from the configured one for port 0.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Handler returns the routed handler wrapped in the request middleware.
func (s *Server) Handler(ctx context.Context) http.Handler {
	return middleware.RequestMiddleware(ctx, s.mux)
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	logger := klog.FromContext(ctx)
	srv := &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("status server listening", "addr", s.Addr())
		errCh <- srv.Serve(s.listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "status server shutdown failed")
		return err
	}
	logger.Info("status server stopped")
	return nil
}
