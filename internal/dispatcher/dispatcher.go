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

// Package dispatcher turns one question into one terminal result, hiding credential
// waits, rate limits and transient failures behind a bounded retry loop.
package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/llm-d-incubation/batch-dispatcher/internal/inference"
	"github.com/llm-d-incubation/batch-dispatcher/internal/keypool"
	"github.com/llm-d-incubation/batch-dispatcher/internal/processor/metrics"
	"github.com/llm-d-incubation/batch-dispatcher/internal/util/logging"
)

const (
	DefaultMaxRetries     = 5
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 30 * time.Second

	// ErrorPrefix marks a result text as a failure.
	ErrorPrefix = "ERROR: "

	MaxRetriesExceededText = ErrorPrefix + "Maximum retries exceeded"
	NoCredentialsText      = ErrorPrefix + "No API keys available after retries"
)

var (
	ErrRetriesExhausted = errors.New("maximum retries exceeded")
	ErrNoCredentials    = errors.New("no API keys available after retries")
	ErrInterrupted      = errors.New("processing interrupted")
)

// Outcome classifies how a dispatch ended.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeTransient   Outcome = "transient_error"
	OutcomeExhausted   Outcome = "exhausted"
)

// CredentialPool is the part of keypool.Pool the dispatcher needs.
type CredentialPool interface {
	Select() (keypool.Credential, bool)
	RecordSuccess(key string)
	RecordFailure(key string)
}

type Config struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	// MaxCredentialWait bounds the total time one question waits for a free key.
	// Zero waits until the context ends.
	MaxCredentialWait time.Duration `yaml:"max_credential_wait"`
}

// Result is the terminal outcome of one dispatch. Text is either the generated
// response or a failure marker starting with ErrorPrefix.
type Result struct {
	Text     string
	Outcome  Outcome
	Attempts int
}

type Dispatcher struct {
	cfg    Config
	pool   CredentialPool
	client inference.Client
	clock  clock.Clock
}

type Option func(*Dispatcher)

// WithClock sets the clock used for backoff sleeps.
func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

func New(cfg Config, pool CredentialPool, client inference.Client, opts ...Option) *Dispatcher {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	d := &Dispatcher{
		cfg:    cfg,
		pool:   pool,
		client: client,
		clock:  clock.RealClock{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Backoff returns min(initial * 2^attempt, ceiling).
func Backoff(attempt int, initial, ceiling time.Duration) time.Duration {
	d := initial
	for i := 0; i < attempt; i++ {
		if d >= ceiling {
			return ceiling
		}
		d *= 2
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// Dispatch runs the retry loop for one question.
//
// A nil error means Result.Text is the generated response. ErrRetriesExhausted and
// ErrNoCredentials come with a Result whose Text is the matching failure marker.
// ErrInterrupted is returned without a Result when ctx is cancelled before or between
// attempts; an external call already in flight is allowed to finish.
//
// Waiting for a credential does not count against MaxRetries. Those waits back off
// on their own counter and end only when a key frees up, ctx is cancelled, or the
// optional MaxCredentialWait has elapsed.
func (d *Dispatcher) Dispatch(ctx context.Context, question string) (*Result, error) {
	logger := klog.FromContext(ctx)
	requestID := uuid.NewString()
	attempt := 0

	for attempt < d.cfg.MaxRetries {
		cred, err := d.acquire(ctx)
		if errors.Is(err, ErrNoCredentials) {
			logger.Info("Giving up, no API key became available", "attempts", attempt, "waited", d.cfg.MaxCredentialWait)
			return &Result{Text: NoCredentialsText, Outcome: OutcomeExhausted, Attempts: attempt}, err
		}
		if err != nil {
			return nil, err
		}

		credLogger := logger.WithValues("credential", logging.Redact(cred.Key))
		// In-flight calls run to completion even after cancellation.
		callCtx := klog.NewContext(context.WithoutCancel(ctx), credLogger)
		resp, cerr := d.client.Generate(callCtx, &inference.GenerateRequest{RequestID: requestID, Question: question}, cred.Key)
		if cerr == nil {
			d.pool.RecordSuccess(cred.Key)
			metrics.RecordDispatchAttempt(metrics.OutcomeSuccess)
			return &Result{Text: resp.Text, Outcome: OutcomeSuccess, Attempts: attempt + 1}, nil
		}

		d.pool.RecordFailure(cred.Key)
		outcome, label := classify(cerr)
		metrics.RecordDispatchAttempt(label)
		attempt++
		if attempt >= d.cfg.MaxRetries {
			credLogger.Info("Dispatch failed, retries exhausted", "outcome", outcome, "err", cerr.Message, "attempts", attempt)
			break
		}

		wait := Backoff(attempt, d.cfg.InitialBackoff, d.cfg.MaxBackoff)
		metrics.RecordBackoff(metrics.BackoffCallFailure, wait)
		// Auth and invalid-request failures are retried too, since another key may succeed.
		credLogger.Info("Dispatch failed, retrying",
			"outcome", outcome, "err", cerr.Message, "category", cerr.Category, "retryable", cerr.IsRetryable(),
			"wait", wait, "attempt", attempt, "maxRetries", d.cfg.MaxRetries)
		if err := d.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	return &Result{Text: MaxRetriesExceededText, Outcome: OutcomeExhausted, Attempts: attempt}, ErrRetriesExhausted
}

// acquire blocks until the pool hands out a credential. The wait backoff grows on
// its own counter up to MaxBackoff.
func (d *Dispatcher) acquire(ctx context.Context) (keypool.Credential, error) {
	logger := klog.FromContext(ctx)
	var waited time.Duration
	for waits := 0; ; waits++ {
		if ctx.Err() != nil {
			return keypool.Credential{}, ErrInterrupted
		}
		if cred, ok := d.pool.Select(); ok {
			return cred, nil
		}
		if d.cfg.MaxCredentialWait > 0 && waited >= d.cfg.MaxCredentialWait {
			return keypool.Credential{}, ErrNoCredentials
		}
		wait := Backoff(waits, d.cfg.InitialBackoff, d.cfg.MaxBackoff)
		if d.cfg.MaxCredentialWait > 0 && waited+wait > d.cfg.MaxCredentialWait {
			wait = d.cfg.MaxCredentialWait - waited
		}
		metrics.RecordDispatchAttempt(metrics.OutcomeNoKey)
		metrics.RecordBackoff(metrics.BackoffNoKey, wait)
		logger.V(logging.DEBUG).Info("No API keys available, waiting", "wait", wait, "waits", waits)
		if err := d.sleep(ctx, wait); err != nil {
			return keypool.Credential{}, err
		}
		waited += wait
	}
}

func classify(cerr *inference.ClientError) (Outcome, string) {
	switch {
	case cerr.IsRateLimited():
		return OutcomeRateLimited, metrics.OutcomeRateLimited
	case cerr.Category == inference.ErrCategoryMalformed:
		return OutcomeTransient, metrics.OutcomeMalformed
	default:
		return OutcomeTransient, metrics.OutcomeTransient
	}
}

func (d *Dispatcher) sleep(ctx context.Context, wait time.Duration) error {
	timer := d.clock.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ErrInterrupted
	case <-timer.C():
		return nil
	}
}
