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

package keypool

import (
	"math/rand/v2"
	"strings"
	"sync"

	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/llm-d-incubation/batch-dispatcher/internal/processor/metrics"
	"github.com/llm-d-incubation/batch-dispatcher/internal/util/logging"
)

// Pool owns a fixed set of credentials. Credentials are never removed during a run;
// a failing credential is only parked for the cooldown interval.
type Pool struct {
	mu     sync.Mutex
	cfg    Config
	creds  []*Credential
	byKey  map[string]*Credential
	clock  clock.WithDelayedExecution
	rnd    *rand.Rand
	policy Policy
	logger klog.Logger
}

type Option func(*Pool)

// WithClock replaces the wall clock, e.g. with a fake clock in tests.
func WithClock(c clock.WithDelayedExecution) Option {
	return func(p *Pool) { p.clock = c }
}

// WithRand sets the random source handed to the selection policy.
func WithRand(r *rand.Rand) Option {
	return func(p *Pool) { p.rnd = r }
}

func WithPolicy(policy Policy) Option {
	return func(p *Pool) { p.policy = policy }
}

func WithLogger(logger klog.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// New creates a pool from raw key strings. Blank entries are dropped and duplicates are
// collapsed, since two copies of the same key share one remote quota.
func New(keys []string, cfg Config, opts ...Option) *Pool {
	p := &Pool{
		cfg:    cfg.withDefaults(),
		byKey:  make(map[string]*Credential, len(keys)),
		clock:  clock.RealClock{},
		rnd:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		policy: UniformRandom,
		logger: klog.Background(),
	}
	for _, opt := range opts {
		opt(p)
	}

	now := p.clock.Now()
	for _, raw := range keys {
		key := strings.TrimSpace(raw)
		if key == "" {
			continue
		}
		if _, dup := p.byKey[key]; dup {
			p.logger.Info("Skipping duplicate API key", "key", logging.Redact(key))
			continue
		}
		c := &Credential{
			Key:               key,
			MinuteWindowStart: now,
			DayWindowStart:    now,
			Available:         true,
		}
		p.creds = append(p.creds, c)
		p.byKey[key] = c
	}

	p.logger.Info("Initialized API keys", "count", len(p.creds))
	metrics.SetCredentialsAvailable(len(p.creds))
	return p
}

func (c Config) withDefaults() Config {
	if c.RPMLimit <= 0 {
		c.RPMLimit = DefaultRPMLimit
	}
	if c.DailyLimit <= 0 {
		c.DailyLimit = DefaultDailyLimit
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.MinSpacing < 0 {
		c.MinSpacing = 0
	}
	return c
}

// Select leases one eligible credential, or returns false when none qualifies right now.
// The chosen credential is charged one request before the lock is released.
func (p *Pool) Select() (Credential, bool) {
	// Read the clock before locking: fake clocks run timer callbacks under their own lock.
	now := p.clock.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	eligible := make([]int, 0, len(p.creds))
	for i, c := range p.creds {
		c.refreshWindows(now)
		if c.eligible(now, p.cfg) {
			eligible = append(eligible, i)
		}
	}
	if len(eligible) == 0 {
		return Credential{}, false
	}

	c := p.creds[p.policy(eligible, p.rnd)]
	c.RequestsThisMinute++
	c.RequestsToday++
	c.LastUsedAt = now
	return *c, true
}

// RecordSuccess clears the consecutive failure counter of a credential.
func (p *Pool) RecordSuccess(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.byKey[key]; ok {
		c.ConsecutiveFailures = 0
	}
}

// RecordFailure counts a failed call. Reaching the failure threshold parks the credential
// until the cooldown timer fires; the timer is detached from any request.
func (p *Pool) RecordFailure(key string) {
	p.mu.Lock()
	c, ok := p.byKey[key]
	if !ok {
		p.mu.Unlock()
		return
	}
	c.ConsecutiveFailures++
	startCooldown := c.Available && c.ConsecutiveFailures >= p.cfg.FailureThreshold
	if startCooldown {
		c.Available = false
	}
	failures := c.ConsecutiveFailures
	available := p.availableLocked()
	p.mu.Unlock()

	if !startCooldown {
		return
	}
	p.logger.Info("Disabling API key for cool-down",
		"key", logging.Redact(key), "consecutiveFailures", failures, "cooldown", p.cfg.Cooldown)
	metrics.RecordCredentialCooldown()
	metrics.SetCredentialsAvailable(available)
	p.clock.AfterFunc(p.cfg.Cooldown, func() { p.reenable(key) })
}

func (p *Pool) reenable(key string) {
	p.mu.Lock()
	c := p.byKey[key]
	c.Available = true
	c.ConsecutiveFailures = 0
	available := p.availableLocked()
	p.mu.Unlock()

	p.logger.Info("Re-enabled API key after cool-down", "key", logging.Redact(key))
	metrics.SetCredentialsAvailable(available)
}

// Stats returns the aggregate view of the pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := 0
	for _, c := range p.creds {
		total += c.RequestsToday
	}
	return Stats{
		TotalKeys:                  len(p.creds),
		AvailableKeys:              p.availableLocked(),
		TotalRequestsToday:         total,
		EstimatedRemainingCapacity: len(p.creds)*p.cfg.DailyLimit - total,
	}
}

func (p *Pool) availableLocked() int {
	n := 0
	for _, c := range p.creds {
		if c.Available {
			n++
		}
	}
	return n
}
