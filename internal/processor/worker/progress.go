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

package worker

import (
	"fmt"
	"time"

	"github.com/llm-d-incubation/batch-dispatcher/internal/keypool"
)

const (
	StatusIdle       = "idle"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
)

// Progress is a point-in-time view of the current run.
type Progress struct {
	Status      string       `json:"status"`
	RunID       string       `json:"run_id,omitempty"`
	Running     bool         `json:"running"`
	Progress    *Counts      `json:"progress,omitempty"`
	Performance *Performance `json:"performance,omitempty"`
}

type Counts struct {
	Total      int    `json:"total"`
	Processed  int    `json:"processed"`
	Successful int    `json:"successful"`
	Errors     int    `json:"errors"`
	Percentage string `json:"percentage"`
}

type Performance struct {
	ElapsedTime        string        `json:"elapsed_time"`
	EstimatedRemaining string        `json:"estimated_remaining"`
	QuestionsPerSecond string        `json:"questions_per_second"`
	APIKeys            keypool.Stats `json:"api_keys"`
}

// Progress reports on the current or last run. Status is idle until a run has recorded
// a result, completed once every question has one, and processing otherwise.
func (p *Processor) Progress() *Progress {
	p.mu.Lock()
	run := p.run
	p.mu.Unlock()
	if run == nil {
		return &Progress{Status: StatusIdle}
	}
	return p.progress(run)
}

func (p *Processor) progress(run *runState) *Progress {
	return p.report(run, p.clients.pool)
}

// report builds the progress of run. A nil pool leaves the key stats empty.
func (p *Processor) report(run *runState, pool PoolStats) *Progress {
	p.mu.Lock()
	running, processed, total := run.running, run.processed, run.total
	success, errs, fresh := run.success, run.errors, run.processed-run.seeded
	end := p.clock.Now()
	if !run.finished.IsZero() {
		end = run.finished
	}
	elapsed := end.Sub(run.started)
	id := run.id
	p.mu.Unlock()

	if !running && processed == 0 {
		return &Progress{Status: StatusIdle, RunID: id}
	}

	status := StatusProcessing
	if processed == total {
		status = StatusCompleted
	}
	percentage := "0%"
	if total > 0 {
		percentage = fmt.Sprintf("%.2f%%", float64(processed)/float64(total)*100)
	}
	qps := rate(fresh, elapsed)
	var remaining time.Duration
	if qps > 0 {
		remaining = time.Duration(float64(total-processed) / qps * float64(time.Second))
	}

	var keys keypool.Stats
	if pool != nil {
		keys = pool.Stats()
	}

	return &Progress{
		Status:  status,
		RunID:   id,
		Running: running,
		Progress: &Counts{
			Total:      total,
			Processed:  processed,
			Successful: success,
			Errors:     errs,
			Percentage: percentage,
		},
		Performance: &Performance{
			ElapsedTime:        FormatDuration(elapsed),
			EstimatedRemaining: FormatDuration(remaining),
			QuestionsPerSecond: fmt.Sprintf("%.2f", qps),
			APIKeys:            keys,
		},
	}
}

// rate returns questions per second, or 0 before anything was processed.
func rate(processed int, elapsed time.Duration) float64 {
	if processed <= 0 || elapsed <= 0 {
		return 0
	}
	return float64(processed) / elapsed.Seconds()
}

// FormatDuration renders whole seconds as "1h 2m 3s", "4m 5s" or "6s".
func FormatDuration(d time.Duration) string {
	secs := int(d.Seconds())
	if secs <= 0 {
		return "0s"
	}
	hours, rem := secs/3600, secs%3600
	minutes, seconds := rem/60, rem%60
	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
