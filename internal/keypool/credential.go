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

// Package keypool keeps a set of rate-limited API credentials and leases them to callers.
//
// Every credential carries its own per-minute and per-day request counters and a consecutive
// failure counter. All reads and writes of that state happen under a single pool lock, so a
// credential returned by Select is already charged for the request and is not visible as
// eligible to any other caller beyond its remaining quota.
package keypool

import (
	"time"
)

const (
	DefaultRPMLimit         = 9
	DefaultDailyLimit       = 1450
	DefaultFailureThreshold = 3
	DefaultCooldown         = 5 * time.Minute
	DefaultMinSpacing       = 100 * time.Millisecond

	minuteWindow = time.Minute
	dayWindow    = 24 * time.Hour
)

// Credential is one API key together with its quota and health bookkeeping.
type Credential struct {
	Key                 string
	RequestsThisMinute  int
	RequestsToday       int
	MinuteWindowStart   time.Time
	DayWindowStart      time.Time
	LastUsedAt          time.Time
	ConsecutiveFailures int
	Available           bool
}

// Config holds the per-credential ceilings shared by every credential of a pool.
type Config struct {
	RPMLimit         int           `yaml:"rpm_limit"`
	DailyLimit       int           `yaml:"daily_limit"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
	MinSpacing       time.Duration `yaml:"min_spacing"`
}

// DefaultConfig returns the ceilings of the free generation tier.
func DefaultConfig() Config {
	return Config{
		RPMLimit:         DefaultRPMLimit,
		DailyLimit:       DefaultDailyLimit,
		FailureThreshold: DefaultFailureThreshold,
		Cooldown:         DefaultCooldown,
		MinSpacing:       DefaultMinSpacing,
	}
}

// Stats is the aggregate view of a pool.
type Stats struct {
	TotalKeys                  int `json:"total_keys"`
	AvailableKeys              int `json:"available_keys"`
	TotalRequestsToday         int `json:"total_requests_today"`
	EstimatedRemainingCapacity int `json:"estimated_remaining_capacity"`
}

// refreshWindows resets the counters whose window boundary has elapsed.
func (c *Credential) refreshWindows(now time.Time) {
	if now.Sub(c.MinuteWindowStart) >= minuteWindow {
		c.RequestsThisMinute = 0
		c.MinuteWindowStart = now
	}
	if now.Sub(c.DayWindowStart) >= dayWindow {
		c.RequestsToday = 0
		c.DayWindowStart = now
	}
}

func (c *Credential) eligible(now time.Time, cfg Config) bool {
	return c.Available &&
		c.RequestsThisMinute < cfg.RPMLimit &&
		c.RequestsToday < cfg.DailyLimit &&
		c.ConsecutiveFailures < cfg.FailureThreshold &&
		now.Sub(c.LastUsedAt) >= cfg.MinSpacing
}
