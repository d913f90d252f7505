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
	"fmt"
)

// ErrorCategory classifies a failed generation call.
type ErrorCategory string

const (
	ErrCategoryRateLimit  ErrorCategory = "RATE_LIMIT"
	ErrCategoryServer     ErrorCategory = "SERVER_ERROR"
	ErrCategoryInvalidReq ErrorCategory = "INVALID_REQ"
	ErrCategoryAuth       ErrorCategory = "AUTH_ERROR"
	ErrCategoryMalformed  ErrorCategory = "MALFORMED_RESPONSE"
	ErrCategoryUnknown    ErrorCategory = "UNKNOWN"
)

// ClientError is returned by Generate for every failure, including a 200 response
// whose body carries no generated text.
type ClientError struct {
	Category ErrorCategory
	Message  string
	RawError error
}

func (e *ClientError) Error() string {
	if e.RawError != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Category, e.Message, e.RawError)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *ClientError) Unwrap() error {
	return e.RawError
}

// IsRetryable reports whether the same request may succeed on another attempt
// without being changed.
func (e *ClientError) IsRetryable() bool {
	switch e.Category {
	case ErrCategoryRateLimit, ErrCategoryServer, ErrCategoryMalformed:
		return true
	default:
		return false
	}
}

// IsRateLimited reports whether the service rejected the credential for quota.
func (e *ClientError) IsRateLimited() bool {
	return e.Category == ErrCategoryRateLimit
}

type GenerateRequest struct {
	RequestID string
	Question  string
}

type GenerateResponse struct {
	RequestID string
	Text      string
	Response  []byte // raw response body
}

// Client performs a single generation call with the given credential.
type Client interface {
	Generate(ctx context.Context, req *GenerateRequest, credential string) (*GenerateResponse, *ClientError)
}
