//go:build integration
// +build integration

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

package inference

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration tests against the live generateContent endpoint.
//
// Run tests with:
//   GEMINI_API_KEY=... go test -v -tags=integration ./internal/inference/...

// TestHTTPClientIntegration aggregates all integration test cases
// Run with: go test -tags=integration -run TestHTTPClientIntegration
func TestHTTPClientIntegration(t *testing.T) {
	t.Run("BasicGeneration", testHTTPClientBasicGeneration)
	t.Run("InvalidCredential", testHTTPClientInvalidCredential)
}

func integrationClient(t *testing.T) *HTTPClient {
	if os.Getenv("SKIP_INTEGRATION_TESTS") == "true" {
		t.Skip("Integration tests skipped")
	}
	return NewHTTPClient(HTTPClientConfig{
		URL:          os.Getenv("GEMINI_API_URL"),
		Timeout:      60 * time.Second,
		SystemPrompt: "Reply with a single short sentence.",
	})
}

func testHTTPClientBasicGeneration(t *testing.T) {
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		t.Skip("GEMINI_API_KEY not set")
	}
	client := integrationClient(t)

	resp, err := client.Generate(context.Background(), &GenerateRequest{
		RequestID: "integration-001",
		Question:  "What colour is the sky on a clear day?",
	}, key)

	require.Nil(t, err)
	require.NotNil(t, resp)
	assert.NotEmpty(t, resp.Text)
}

func testHTTPClientInvalidCredential(t *testing.T) {
	client := integrationClient(t)

	resp, err := client.Generate(context.Background(), &GenerateRequest{
		RequestID: "integration-002",
		Question:  "ping",
	}, "invalid-credential-for-integration-test")

	assert.Nil(t, resp)
	require.NotNil(t, err)
	assert.Contains(t, []ErrorCategory{ErrCategoryInvalidReq, ErrCategoryAuth}, err.Category)
}
