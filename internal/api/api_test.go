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

package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordName(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.Local)

	assert.Equal(t, "checkpoint_000012_2026-03-04_05-06-07.json", RecordName(12, "", ts))
	assert.Equal(t, "checkpoint_000013_final_2026-03-04_05-06-07.json", RecordName(13, LabelFinal, ts))
	assert.Equal(t, "checkpoint_1234567_2026-03-04_05-06-07.json", RecordName(1234567, "", ts))
}

func TestParseRecordName(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.Local)

	tests := []struct {
		name  string
		input string
		want  Record
		ok    bool
	}{
		{
			name:  "sequenced",
			input: RecordName(7, "", ts),
			want:  Record{Name: RecordName(7, "", ts), Sequence: 7, CreatedAt: ts},
			ok:    true,
		},
		{
			name:  "sequenced with label",
			input: RecordName(8, LabelFinal, ts),
			want:  Record{Name: RecordName(8, LabelFinal, ts), Sequence: 8, Label: LabelFinal, CreatedAt: ts},
			ok:    true,
		},
		{
			name:  "without sequence",
			input: "checkpoint_final_2026-03-04_05-06-07.json",
			want:  Record{Name: "checkpoint_final_2026-03-04_05-06-07.json", Label: LabelFinal, CreatedAt: ts},
			ok:    true,
		},
		{name: "unrelated file", input: "results.json"},
		{name: "temp file", input: ".tmp-123456"},
		{name: "bad timestamp", input: "checkpoint_000001_yesterday.json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseRecordName(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want.Name, got.Name)
				assert.Equal(t, tt.want.Sequence, got.Sequence)
				assert.Equal(t, tt.want.Label, got.Label)
				assert.True(t, tt.want.CreatedAt.Equal(got.CreatedAt))
			}
		})
	}
}

func TestRemaining(t *testing.T) {
	prior := []Result{
		{Question: "q3", Response: "a3"},
		{Question: "q1", Response: "ERROR: Maximum retries exceeded"},
	}

	t.Run("keeps input order and drops completed questions", func(t *testing.T) {
		assert.Equal(t, []string{"q2", "q4"}, Remaining(prior, []string{"q1", "q2", "q3", "q4"}))
	})

	t.Run("matches text exactly", func(t *testing.T) {
		assert.Equal(t, []string{"Q1", "q1 "}, Remaining(prior, []string{"Q1", "q1 ", "q1"}))
	})

	t.Run("drops every copy of a completed duplicate", func(t *testing.T) {
		assert.Empty(t, Remaining(prior, []string{"q3", "q3", "q1"}))
	})

	t.Run("returns everything without prior results", func(t *testing.T) {
		assert.Equal(t, []string{"a", "b"}, Remaining(nil, []string{"a", "b"}))
	})

	t.Run("union with prior covers every input exactly once", func(t *testing.T) {
		inputs := []string{"q1", "q2", "q3", "q4", "q5"}
		seen := map[string]int{}
		for _, r := range prior {
			seen[r.Question]++
		}
		for _, q := range Remaining(prior, inputs) {
			seen[q]++
		}
		for _, q := range inputs {
			assert.Equal(t, 1, seen[q], q)
		}
		assert.Len(t, seen, len(inputs))
	})
}

type memDB struct {
	records map[string]*Checkpoint
	latest  *Record
}

func (m *memDB) Save(context.Context, string, *Checkpoint) (*Record, error) { return nil, nil }
func (m *memDB) List(context.Context) ([]Record, error)                     { return nil, nil }
func (m *memDB) Close() error                                               { return nil }

func (m *memDB) Load(_ context.Context, name string) (*Checkpoint, error) {
	cp, ok := m.records[name]
	if !ok {
		return nil, ErrNotFound
	}
	return cp, nil
}

func (m *memDB) Latest(context.Context) (*Record, error) {
	if m.latest == nil {
		return nil, ErrNotFound
	}
	return m.latest, nil
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	db := &memDB{
		records: map[string]*Checkpoint{
			"checkpoint_000001.json": {Sequence: 1},
			"checkpoint_000002.json": {Sequence: 2},
		},
		latest: &Record{Name: "checkpoint_000002.json", Sequence: 2},
	}

	cp, name, err := Resolve(ctx, db, LatestCheckpoint)
	require.NoError(t, err)
	assert.Equal(t, "checkpoint_000002.json", name)
	assert.Equal(t, int64(2), cp.Sequence)

	cp, name, err = Resolve(ctx, db, "checkpoint_000001.json")
	require.NoError(t, err)
	assert.Equal(t, "checkpoint_000001.json", name)
	assert.Equal(t, int64(1), cp.Sequence)

	_, _, err = Resolve(ctx, db, "missing.json")
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = Resolve(ctx, &memDB{}, LatestCheckpoint)
	assert.ErrorIs(t, err, ErrNotFound)
}
