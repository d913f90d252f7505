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

// This file provides a checkpoint database on top of a files store backend.

package files

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"sync"

	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/llm-d-incubation/batch-dispatcher/internal/api"
	fsapi "github.com/llm-d-incubation/batch-dispatcher/internal/files_store/api"
)

// DefaultSizeLimit bounds a single checkpoint document.
const DefaultSizeLimit int64 = 1 << 30

// CheckpointDB stores each checkpoint as one JSON document under dir.
type CheckpointDB struct {
	client    fsapi.FilesClient
	dir       string
	clock     clock.PassiveClock
	sizeLimit int64

	mu      sync.Mutex
	lastSeq int64
	scanned bool
}

var _ api.CheckpointDB = (*CheckpointDB)(nil)

type Option func(*CheckpointDB)

func WithClock(c clock.PassiveClock) Option {
	return func(db *CheckpointDB) { db.clock = c }
}

func WithSizeLimit(limit int64) Option {
	return func(db *CheckpointDB) { db.sizeLimit = limit }
}

// New creates a checkpoint DB writing under dir within the client's root. dir may be empty.
func New(client fsapi.FilesClient, dir string, opts ...Option) *CheckpointDB {
	db := &CheckpointDB{
		client:    client,
		dir:       dir,
		clock:     clock.RealClock{},
		sizeLimit: DefaultSizeLimit,
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

func (db *CheckpointDB) location(name string) string {
	if db.dir == "" {
		return name
	}
	return path.Join(db.dir, name)
}

func (db *CheckpointDB) Save(ctx context.Context, label string, cp *api.Checkpoint) (*api.Record, error) {
	if cp == nil {
		return nil, fmt.Errorf("checkpoint cannot be nil")
	}
	logger := klog.FromContext(ctx)

	db.mu.Lock()
	defer db.mu.Unlock()

	if !db.scanned {
		records, err := db.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			if r.Sequence > db.lastSeq {
				db.lastSeq = r.Sequence
			}
		}
		db.scanned = true
	}

	now := db.clock.Now()
	seq := db.lastSeq + 1
	cp.Sequence = seq
	cp.Label = label
	cp.Timestamp = now.Format(api.TimestampLayout)
	name := api.RecordName(seq, label, now)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cp); err != nil {
		return nil, fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	sctx, cancel := db.client.GetContext(ctx, 0)
	defer cancel()
	md, err := db.client.Store(sctx, db.location(name), db.sizeLimit, &buf)
	if err != nil {
		logger.Error(err, "Failed to save checkpoint", "name", name)
		return nil, fmt.Errorf("failed to store checkpoint %s: %w", name, err)
	}
	db.lastSeq = seq

	logger.Info("Checkpoint saved", "name", name, "processed", cp.ProcessedCount, "total", cp.TotalCount)
	return &api.Record{
		Name:      name,
		Sequence:  seq,
		Label:     label,
		CreatedAt: now,
		Size:      md.Size,
	}, nil
}

func (db *CheckpointDB) Load(ctx context.Context, name string) (*api.Checkpoint, error) {
	if name == "" || path.Base(name) != name {
		return nil, fmt.Errorf("invalid checkpoint name %q", name)
	}

	lctx, cancel := db.client.GetContext(ctx, 0)
	defer cancel()
	reader, _, err := db.client.Retrieve(lctx, db.location(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", name, api.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open checkpoint %s: %w", name, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", name, err)
	}
	var cp api.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s: %w", name, err)
	}
	return &cp, nil
}

func (db *CheckpointDB) List(ctx context.Context) ([]api.Record, error) {
	lctx, cancel := db.client.GetContext(ctx, 0)
	defer cancel()
	files, err := db.client.List(lctx, db.location(api.RecordPrefix()))
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	records := make([]api.Record, 0, len(files))
	for _, f := range files {
		rec, ok := api.ParseRecordName(path.Base(f.Location))
		if !ok {
			continue
		}
		rec.Size = f.Size
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = f.ModTime
		}
		records = append(records, rec)
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Sequence != records[j].Sequence {
			return records[i].Sequence < records[j].Sequence
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

func (db *CheckpointDB) Latest(ctx context.Context) (*api.Record, error) {
	records, err := db.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, api.ErrNotFound
	}
	latest := records[len(records)-1]
	return &latest, nil
}

func (db *CheckpointDB) Close() error {
	return db.client.Close()
}
