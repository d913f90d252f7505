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

package files

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/llm-d-incubation/batch-dispatcher/internal/api"
	"github.com/llm-d-incubation/batch-dispatcher/internal/files_store/fs"
	"github.com/llm-d-incubation/batch-dispatcher/internal/keypool"
)

func newTestDB(t *testing.T, root string) (*CheckpointDB, *testingclock.FakeClock) {
	t.Helper()
	client, err := fs.New(root)
	require.NoError(t, err)
	fc := testingclock.NewFakeClock(time.Date(2026, 5, 6, 7, 8, 9, 0, time.Local))
	return New(client, "checkpoints", WithClock(fc)), fc
}

func sampleCheckpoint() *api.Checkpoint {
	return &api.Checkpoint{
		ProcessedCount: 2,
		TotalCount:     3,
		SuccessCount:   1,
		ErrorCount:     1,
		ElapsedTime:    12.5,
		KeyStats:       keypool.Stats{TotalKeys: 2, AvailableKeys: 2, TotalRequestsToday: 4, EstimatedRemainingCapacity: 2896},
		Results: []api.Result{
			{Question: "What is <b>Go</b>?", Response: "A language & a game"},
			{Question: "q2", Response: "ERROR: Maximum retries exceeded"},
		},
	}
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	db, _ := newTestDB(t, root)

	rec, err := db.Save(ctx, "", sampleCheckpoint())
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Sequence)
	assert.Equal(t, "checkpoint_000001_2026-05-06_07-08-09.json", rec.Name)
	assert.Positive(t, rec.Size)

	loaded, err := db.Load(ctx, rec.Name)
	require.NoError(t, err)
	want := sampleCheckpoint()
	want.Sequence = 1
	want.Timestamp = "2026-05-06_07-08-09"
	assert.Equal(t, want, loaded)

	raw, err := os.ReadFile(filepath.Join(root, "checkpoints", rec.Name))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "What is <b>Go</b>?")
	assert.Contains(t, string(raw), "\n  \"processed_count\": 2")
	for _, field := range []string{"timestamp", "processed_count", "total_count", "success_count", "error_count", "elapsed_time", "key_stats", "results"} {
		assert.Contains(t, string(raw), `"`+field+`"`)
	}
}

func TestSequenceIsMonotonic(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	db, fc := newTestDB(t, root)

	first, err := db.Save(ctx, "", sampleCheckpoint())
	require.NoError(t, err)
	second, err := db.Save(ctx, "", sampleCheckpoint())
	require.NoError(t, err)
	assert.NotEqual(t, first.Name, second.Name, "saves within one second must not collide")

	fc.Step(time.Minute)
	final, err := db.Save(ctx, api.LabelFinal, sampleCheckpoint())
	require.NoError(t, err)
	assert.Equal(t, int64(3), final.Sequence)
	assert.Equal(t, "checkpoint_000003_final_2026-05-06_07-09-09.json", final.Name)

	// A new instance over the same directory continues the sequence.
	reopened, _ := newTestDB(t, root)
	next, err := reopened.Save(ctx, "", sampleCheckpoint())
	require.NoError(t, err)
	assert.Equal(t, int64(4), next.Sequence)

	records, err := reopened.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 4)
	for i, r := range records {
		assert.Equal(t, int64(i+1), r.Sequence)
	}
	assert.Equal(t, api.LabelFinal, records[2].Label)

	latest, err := reopened.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, next.Name, latest.Name)
}

func TestListIgnoresForeignFiles(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	db, _ := newTestDB(t, root)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "checkpoints"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "checkpoints", "checkpoint_notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "checkpoints", "results.json"), []byte("{}"), 0o644))

	records, err := db.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = db.Latest(ctx)
	assert.ErrorIs(t, err, api.ErrNotFound)
}

func TestLoadErrors(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	db, _ := newTestDB(t, root)

	_, err := db.Load(ctx, "checkpoint_000009_2026-01-01_00-00-00.json")
	assert.ErrorIs(t, err, api.ErrNotFound)

	_, err = db.Load(ctx, "../escape.json")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, api.ErrNotFound)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "checkpoints"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "checkpoints", "checkpoint_broken.json"), []byte("{"), 0o644))
	_, err = db.Load(ctx, "checkpoint_broken.json")
	assert.True(t, err != nil && strings.Contains(err.Error(), "decode"))
}

func TestSaveRejectsNil(t *testing.T) {
	db, _ := newTestDB(t, t.TempDir())
	_, err := db.Save(context.Background(), "", nil)
	assert.Error(t, err)
}
