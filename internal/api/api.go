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

// Package api defines the checkpoint record and the storage contract for it.
package api

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/llm-d-incubation/batch-dispatcher/internal/keypool"
)

const (
	// TimestampLayout formats the checkpoint timestamp field and record name suffix.
	TimestampLayout = "2006-01-02_15-04-05"

	// LatestCheckpoint selects the record with the highest sequence number.
	LatestCheckpoint = "latest"

	LabelFinal = "final"

	recordNamePrefix = "checkpoint_"
)

// ErrNotFound is returned when a named checkpoint does not exist.
var ErrNotFound = errors.New("checkpoint not found")

// Result pairs one input question with its terminal response text.
type Result struct {
	Question string `json:"question"`
	Response string `json:"response"`
}

// Checkpoint is the durable snapshot of a batch run.
type Checkpoint struct {
	Sequence       int64         `json:"sequence"`        // [assigned by the DB on Save] Monotonic per store.
	Label          string        `json:"label,omitempty"` // [optional] e.g. "final".
	Timestamp      string        `json:"timestamp"`       // [assigned by the DB on Save] TimestampLayout in local time.
	ProcessedCount int           `json:"processed_count"`
	TotalCount     int           `json:"total_count"`
	SuccessCount   int           `json:"success_count"`
	ErrorCount     int           `json:"error_count"`
	ElapsedTime    float64       `json:"elapsed_time"` // seconds
	KeyStats       keypool.Stats `json:"key_stats"`
	Results        []Result      `json:"results"` // completion order
}

// Record identifies a stored checkpoint.
type Record struct {
	Name      string
	Sequence  int64
	Label     string
	CreatedAt time.Time
	Size      int64
}

// CheckpointDB persists checkpoints. Records are immutable: every Save creates a new one
// and nothing is ever overwritten or deleted.
type CheckpointDB interface {
	// Save assigns the next sequence number and a timestamp to cp, then writes it as a new record.
	Save(ctx context.Context, label string, cp *Checkpoint) (*Record, error)

	// Load reads a record by name. A missing record yields ErrNotFound.
	Load(ctx context.Context, name string) (*Checkpoint, error)

	// List returns all records ordered by sequence.
	List(ctx context.Context) ([]Record, error)

	// Latest returns the record with the highest sequence, or ErrNotFound when the store is empty.
	Latest(ctx context.Context) (*Record, error)

	// Close releases any resources held by the implementation.
	Close() error
}

// RecordName renders checkpoint_<seq>[_<label>]_<timestamp>.json.
func RecordName(seq int64, label string, ts time.Time) string {
	if label != "" {
		return fmt.Sprintf("%s%06d_%s_%s.json", recordNamePrefix, seq, label, ts.Format(TimestampLayout))
	}
	return fmt.Sprintf("%s%06d_%s.json", recordNamePrefix, seq, ts.Format(TimestampLayout))
}

// RecordPrefix is the common prefix of every record name.
func RecordPrefix() string {
	return recordNamePrefix
}

var recordNameRe = regexp.MustCompile(`^checkpoint_(?:(\d+)_)?(?:([A-Za-z][\w-]*)_)?(\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2})\.json$`)

// ParseRecordName extracts the sequence, label and creation time from a record name.
// Names written without a sequence number parse with sequence 0.
func ParseRecordName(name string) (Record, bool) {
	m := recordNameRe.FindStringSubmatch(name)
	if m == nil {
		return Record{}, false
	}
	rec := Record{Name: name, Label: m[2]}
	if m[1] != "" {
		seq, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return Record{}, false
		}
		rec.Sequence = seq
	}
	if ts, err := time.ParseInLocation(TimestampLayout, m[3], time.Local); err == nil {
		rec.CreatedAt = ts
	}
	return rec, true
}

// Resolve loads the checkpoint called name, where name may be LatestCheckpoint.
func Resolve(ctx context.Context, db CheckpointDB, name string) (*Checkpoint, string, error) {
	if name == LatestCheckpoint {
		rec, err := db.Latest(ctx)
		if err != nil {
			return nil, "", err
		}
		name = rec.Name
	}
	cp, err := db.Load(ctx, name)
	if err != nil {
		return nil, "", err
	}
	return cp, name, nil
}

// Remaining returns the inputs whose text does not appear as a question in prior,
// preserving input order. Matching is exact.
func Remaining(prior []Result, inputs []string) []string {
	done := make(map[string]struct{}, len(prior))
	for _, r := range prior {
		done[r.Question] = struct{}{}
	}
	remaining := make([]string, 0, len(inputs))
	for _, q := range inputs {
		if _, ok := done[q]; !ok {
			remaining = append(remaining, q)
		}
	}
	return remaining
}
