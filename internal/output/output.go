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

// Package output renders the batch results document and keeps it current in a files store.
package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/batch-dispatcher/internal/api"
	fsapi "github.com/llm-d-incubation/batch-dispatcher/internal/files_store/api"
	"github.com/llm-d-incubation/batch-dispatcher/internal/util/logging"
)

// DefaultSizeLimit bounds the rendered results document.
const DefaultSizeLimit int64 = 1 << 30

// Document is the results file layout. Questions are listed in completion order,
// not input order.
type Document struct {
	Questions []api.Result `json:"questions"`
}

// Sink overwrites a single results document on every Write.
type Sink struct {
	client    fsapi.FilesClient
	location  string
	sizeLimit int64
}

func NewSink(client fsapi.FilesClient, location string) *Sink {
	return &Sink{
		client:    client,
		location:  location,
		sizeLimit: DefaultSizeLimit,
	}
}

func (s *Sink) Location() string {
	return s.location
}

// Encode renders results with two-space indentation and without HTML escaping.
func Encode(results []api.Result) ([]byte, error) {
	doc := Document{Questions: results}
	if doc.Questions == nil {
		doc.Questions = []api.Result{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a results document.
func Decode(data []byte) ([]api.Result, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode results document: %w", err)
	}
	return doc.Questions, nil
}

// Write replaces the results document with results.
func (s *Sink) Write(ctx context.Context, results []api.Result) error {
	logger := klog.FromContext(ctx).WithValues("location", s.location)
	data, err := Encode(results)
	if err != nil {
		logger.Error(err, "Write: failed to encode results")
		return err
	}

	cctx, ccancel := s.client.GetContext(ctx, 0)
	defer ccancel()
	md, err := s.client.Replace(cctx, s.location, s.sizeLimit, bytes.NewReader(data))
	if err != nil {
		logger.Error(err, "Write: failed to store results")
		return err
	}
	logger.V(logging.DEBUG).Info("Write: results saved", "count", len(results), "size", md.Size)
	return nil
}

// Read loads the current results document.
func (s *Sink) Read(ctx context.Context) ([]api.Result, error) {
	cctx, ccancel := s.client.GetContext(ctx, 0)
	defer ccancel()
	rc, _, err := s.client.Retrieve(cctx, s.location)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, err
	}
	return Decode(buf.Bytes())
}
