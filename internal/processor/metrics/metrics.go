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

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// labels definition
const (
	// result labels
	ResultSuccess = "success"
	ResultFailed  = "failed"

	// reason labels
	ReasonNone         = "none"
	ReasonExhausted    = "exhausted"     // retry budget spent
	ReasonNoCredential = "no_credential" // no key became eligible in time
	ReasonPanic        = "panic"

	// dispatch attempt outcome labels
	OutcomeSuccess     = "success"
	OutcomeRateLimited = "rate_limited"
	OutcomeTransient   = "transient"
	OutcomeMalformed   = "malformed"
	OutcomeNoKey       = "no_key"

	// backoff reason labels
	BackoffNoKey       = "no_key"
	BackoffCallFailure = "call_failure"
)

var (
	// number of items processed so far
	itemsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "items_processed_total",
			Help: "Total number of work items processed",
		}, []string{"result", "reason"},
	)

	// wall time from first attempt to terminal result, including backoff
	itemProcessingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "item_processing_duration_seconds",
			Help: "Duration of work item processing in seconds",
			// Bucket 1: ~ 0.1s
			// ...
			// Bucket 12: ~ 204.8s
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	// current number of active workers
	activeWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_workers",
			Help: "Current number of active workers processing items",
		},
	)

	dispatchAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_attempts_total",
			Help: "Total number of dispatch attempts by outcome",
		}, []string{"outcome"},
	)

	dispatchBackoff = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_backoff_seconds",
			Help:    "Backoff slept between dispatch attempts in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
		}, []string{"reason"},
	)

	credentialsAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "credentials_available",
			Help: "Number of API keys not in cool-down",
		},
	)

	credentialCooldowns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credential_cooldowns_total",
			Help: "Total number of times an API key entered cool-down",
		},
	)

	checkpointsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkpoints_written_total",
			Help: "Total number of checkpoint writes by result",
		}, []string{"result"},
	)
)

func init() {
	prometheus.MustRegister(itemsProcessed)
	prometheus.MustRegister(itemProcessingDuration)
	prometheus.MustRegister(activeWorkers)
	prometheus.MustRegister(dispatchAttempts)
	prometheus.MustRegister(dispatchBackoff)
	prometheus.MustRegister(credentialsAvailable)
	prometheus.MustRegister(credentialCooldowns)
	prometheus.MustRegister(checkpointsWritten)
}

// Recorder funcs

// RecordItemProcessed increments the total processed items count.
func RecordItemProcessed(result string, reason string) {
	itemsProcessed.WithLabelValues(result, reason).Inc()
}

// RecordItemDuration observes the time taken to process an item.
func RecordItemDuration(duration time.Duration) {
	itemProcessingDuration.Observe(duration.Seconds())
}

// IncActiveWorkers increments the gauge for active workers.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the gauge for active workers.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

func RecordDispatchAttempt(outcome string) {
	dispatchAttempts.WithLabelValues(outcome).Inc()
}

func RecordBackoff(reason string, d time.Duration) {
	dispatchBackoff.WithLabelValues(reason).Observe(d.Seconds())
}

func SetCredentialsAvailable(n int) {
	credentialsAvailable.Set(float64(n))
}

func RecordCredentialCooldown() {
	credentialCooldowns.Inc()
}

// RecordCheckpoint counts a checkpoint write. result is ResultSuccess or ResultFailed.
func RecordCheckpoint(result string) {
	checkpointsWritten.WithLabelValues(result).Inc()
}
