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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/batch-dispatcher/internal/util/logging"
	utls "github.com/llm-d-incubation/batch-dispatcher/internal/util/tls"
)

const (
	DefaultAPIURL = "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent"

	// QuestionPlaceholder is replaced by the question text in the instruction template.
	QuestionPlaceholder     = "{question}"
	DefaultQuestionTemplate = `Answer this Question: "{question}"`

	credentialParam = "key"
)

// HTTPClient implements Client against a generateContent style endpoint.
// It never retries on its own; retry and credential rotation belong to the caller.
type HTTPClient struct {
	client           *resty.Client
	endpoint         string
	systemPrompt     string
	questionTemplate string
}

// HTTPClientConfig holds configuration for the HTTP client
type HTTPClientConfig struct {
	URL              string        // generateContent endpoint, without the key parameter
	Timeout          time.Duration // Request timeout (default: 5 minutes)
	MaxIdleConns     int           // Maximum idle connections (default: 100)
	IdleConnTimeout  time.Duration // Idle connection timeout (default: 90 seconds)
	SystemPrompt     string        // sent as system_instruction on every call
	QuestionTemplate string        // must contain QuestionPlaceholder

	TLS utls.Options // optional
}

// Payload is the request body sent for one question.
type Payload struct {
	Contents          PayloadContent `json:"contents"`
	SystemInstruction PayloadContent `json:"system_instruction"`
}

type PayloadContent struct {
	Parts []PayloadPart `json:"parts"`
}

type PayloadPart struct {
	Text string `json:"text"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content struct {
			Parts []PayloadPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// NewHTTPClient creates a new HTTP-based inference client
func NewHTTPClient(config HTTPClientConfig) *HTTPClient {
	if config.URL == "" {
		config.URL = DefaultAPIURL
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Minute
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 100
	}
	if config.IdleConnTimeout == 0 {
		config.IdleConnTimeout = 90 * time.Second
	}
	if config.QuestionTemplate == "" {
		config.QuestionTemplate = DefaultQuestionTemplate
	}

	client := resty.New().
		SetTimeout(config.Timeout).
		SetHeader("Content-Type", "application/json")

	// Start from Go's secure defaults and only widen the idle pool for batch workloads.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = config.MaxIdleConns
	transport.MaxIdleConnsPerHost = config.MaxIdleConns
	transport.IdleConnTimeout = config.IdleConnTimeout

	tlsConfig, err := utls.BuildClientConfig(config.TLS)
	if err != nil {
		klog.Errorf("Failed to build TLS config: %v", err)
		// Fall back to default (system root CAs)
	} else if tlsConfig != nil {
		transport.TLSClientConfig = tlsConfig
	}

	client.SetTransport(transport)

	return &HTTPClient{
		client:           client,
		endpoint:         config.URL,
		systemPrompt:     config.SystemPrompt,
		questionTemplate: config.QuestionTemplate,
	}
}

// BuildPayload renders the request body for a question.
func (c *HTTPClient) BuildPayload(question string) *Payload {
	return &Payload{
		Contents: PayloadContent{Parts: []PayloadPart{
			{Text: strings.ReplaceAll(c.questionTemplate, QuestionPlaceholder, question)},
		}},
		SystemInstruction: PayloadContent{Parts: []PayloadPart{
			{Text: c.systemPrompt},
		}},
	}
}

// Generate sends one question with the given credential and extracts the first candidate's text.
func (c *HTTPClient) Generate(ctx context.Context, req *GenerateRequest, credential string) (*GenerateResponse, *ClientError) {
	if req == nil {
		return nil, &ClientError{
			Category: ErrCategoryInvalidReq,
			Message:  "request cannot be nil",
		}
	}
	if credential == "" {
		return nil, &ClientError{
			Category: ErrCategoryAuth,
			Message:  "credential cannot be empty",
		}
	}

	logger := klog.FromContext(ctx)
	restyReq := c.client.R().
		SetContext(ctx).
		SetQueryParam(credentialParam, credential).
		SetBody(c.BuildPayload(req.Question))
	if req.RequestID != "" {
		restyReq.SetHeader("X-Request-ID", req.RequestID)
	}

	logger.V(logging.TRACE).Info("Sending generation request",
		"requestID", req.RequestID, "credential", logging.Redact(credential))

	resp, err := restyReq.Post(c.endpoint)
	if err != nil {
		return c.handleRequestError(ctx, err, req)
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, c.handleErrorResponse(ctx, resp.StatusCode(), resp.Body())
	}

	var parsed generateContentResponse
	if jsonErr := json.Unmarshal(resp.Body(), &parsed); jsonErr != nil {
		return nil, &ClientError{
			Category: ErrCategoryMalformed,
			Message:  "response is not valid JSON",
			RawError: jsonErr,
		}
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, &ClientError{
			Category: ErrCategoryMalformed,
			Message:  "Unexpected response format",
			RawError: fmt.Errorf("body: %s", truncate(resp.Body(), 512)),
		}
	}

	logger.V(logging.TRACE).Info("Received successful response",
		"requestID", req.RequestID, "bodySize", len(resp.Body()))

	return &GenerateResponse{
		RequestID: req.RequestID,
		Text:      parsed.Candidates[0].Content.Parts[0].Text,
		Response:  resp.Body(),
	}, nil
}

// handleRequestError processes request-level errors (network, timeout, cancellation)
func (c *HTTPClient) handleRequestError(ctx context.Context, err error, req *GenerateRequest) (*GenerateResponse, *ClientError) {
	logger := klog.FromContext(ctx)
	err = stripCredential(err)
	if errors.Is(ctx.Err(), context.Canceled) {
		logger.V(logging.DEBUG).Info("Request cancelled", "requestID", req.RequestID)
		return nil, &ClientError{
			Category: ErrCategoryUnknown,
			Message:  "request cancelled",
			RawError: err,
		}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		logger.V(logging.DEBUG).Info("Request timeout", "requestID", req.RequestID)
		return nil, &ClientError{
			Category: ErrCategoryServer,
			Message:  "request timeout",
			RawError: err,
		}
	}

	logger.V(logging.DEBUG).Info("Request failed with network error", "requestID", req.RequestID, "err", err)
	return nil, &ClientError{
		Category: ErrCategoryServer,
		Message:  fmt.Sprintf("failed to execute request: %v", err),
		RawError: err,
	}
}

// stripCredential drops the query string and user info from the URL carried by a
// transport error, since the credential travels as a query parameter.
func stripCredential(err error) error {
	var uerr *url.Error
	if !errors.As(err, &uerr) {
		return err
	}
	cleaned := "<invalid url>"
	if u, perr := url.Parse(uerr.URL); perr == nil {
		u.RawQuery = ""
		u.User = nil
		cleaned = u.String()
	}
	return &url.Error{Op: uerr.Op, URL: cleaned, Err: uerr.Err}
}

// handleErrorResponse parses error response and maps to ClientError
func (c *HTTPClient) handleErrorResponse(ctx context.Context, statusCode int, body []byte) *ClientError {
	// {"error": {"code": 429, "message": "...", "status": "RESOURCE_EXHAUSTED"}}
	var errorResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}

	message := string(truncate(body, 512))
	if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
		message = errorResp.Error.Message
	}

	category := mapStatusCodeToCategory(statusCode)

	klog.FromContext(ctx).V(logging.DEBUG).Info("Generation request failed",
		"status", statusCode, "category", category, "message", message)

	return &ClientError{
		Category: category,
		Message:  fmt.Sprintf("HTTP error %d: %s", statusCode, message),
		RawError: fmt.Errorf("status code: %d", statusCode),
	}
}

// mapStatusCodeToCategory maps HTTP status codes to error categories
func mapStatusCodeToCategory(statusCode int) ErrorCategory {
	switch statusCode {
	case http.StatusBadRequest: // 400
		return ErrCategoryInvalidReq
	case http.StatusUnauthorized, http.StatusForbidden: // 401, 403
		return ErrCategoryAuth
	case http.StatusTooManyRequests: // 429
		return ErrCategoryRateLimit
	default:
		if statusCode >= 500 {
			return ErrCategoryServer
		}
		return ErrCategoryUnknown
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
