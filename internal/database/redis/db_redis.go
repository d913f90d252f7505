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

// This file provides a redis checkpoint database implementation.

package redis

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/llm-d-incubation/batch-dispatcher/internal/api"
	uredis "github.com/llm-d-incubation/batch-dispatcher/internal/util/redis"
)

const (
	keysPrefixDefault = "batch_dispatcher:"
	seqKeySuffix      = "checkpoint:seq"
	indexKeySuffix    = "checkpoint:index"
	docKeySuffix      = "checkpoint:doc:"
	timeoutDefault    = 5 * time.Second
)

var (
	//go:embed redis_save.lua
	saveLua         string
	redisScriptSave = goredis.NewScript(saveLua)
)

// CheckpointDBRedis keeps checkpoint documents as plain strings plus a sorted set index
// scored by sequence number.
type CheckpointDBRedis struct {
	redisClient *goredis.Client
	keysPrefix  string
	timeout     time.Duration
	clock       clock.PassiveClock
}

var _ api.CheckpointDB = (*CheckpointDBRedis)(nil)

func NewCheckpointDBRedis(ctx context.Context, conf *uredis.RedisClientConfig) (*CheckpointDBRedis, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := klog.FromContext(ctx)
	if conf == nil {
		err := fmt.Errorf("empty redis config")
		logger.Error(err, "NewCheckpointDBRedis:")
		return nil, err
	}
	redisClient, err := uredis.NewRedisClient(ctx, conf)
	if err != nil {
		return nil, err
	}
	prefix := conf.KeyPrefix
	if prefix == "" {
		prefix = keysPrefixDefault
	}
	timeout := conf.Timeout
	if timeout <= 0 {
		timeout = timeoutDefault
	}
	logger.Info("NewCheckpointDBRedis: succeeded", "serviceName", conf.ServiceName, "keysPrefix", prefix)
	return &CheckpointDBRedis{
		redisClient: redisClient,
		keysPrefix:  prefix,
		timeout:     timeout,
		clock:       clock.RealClock{},
	}, nil
}

// SetClock replaces the clock used to timestamp new checkpoints.
func (c *CheckpointDBRedis) SetClock(clk clock.PassiveClock) {
	c.clock = clk
}

func (c *CheckpointDBRedis) Close() (err error) {
	if c.redisClient != nil {
		err = c.redisClient.Close()
	}
	return err
}

func (c *CheckpointDBRedis) seqKey() string   { return c.keysPrefix + seqKeySuffix }
func (c *CheckpointDBRedis) indexKey() string { return c.keysPrefix + indexKeySuffix }
func (c *CheckpointDBRedis) docKey(name string) string {
	return c.keysPrefix + docKeySuffix + name
}

func (c *CheckpointDBRedis) Save(ctx context.Context, label string, cp *api.Checkpoint) (*api.Record, error) {
	logger := klog.FromContext(ctx)
	if cp == nil {
		err := fmt.Errorf("checkpoint cannot be nil")
		logger.Error(err, "Save:")
		return nil, err
	}

	cctx, ccancel := context.WithTimeout(ctx, c.timeout)
	defer ccancel()

	seq, err := c.redisClient.Incr(cctx, c.seqKey()).Result()
	if err != nil {
		logger.Error(err, "Save: failed to allocate sequence")
		return nil, err
	}

	now := c.clock.Now()
	cp.Sequence = seq
	cp.Label = label
	cp.Timestamp = now.Format(api.TimestampLayout)
	name := api.RecordName(seq, label, now)
	logger = logger.WithValues("name", name)

	doc, err := json.Marshal(cp)
	if err != nil {
		logger.Error(err, "Save: failed to encode checkpoint")
		return nil, err
	}

	res, err := redisScriptSave.Run(cctx, c.redisClient,
		[]string{c.docKey(name), c.indexKey()},
		doc, seq, name).Text()
	if err != nil {
		logger.Error(err, "Save: script failed")
		return nil, err
	}
	if len(res) > 0 {
		err = fmt.Errorf("%s", res)
		logger.Error(err, "Save: script failed")
		return nil, err
	}

	logger.Info("Save: succeeded", "sequence", seq, "processed", cp.ProcessedCount, "total", cp.TotalCount)
	return &api.Record{
		Name:      name,
		Sequence:  seq,
		Label:     label,
		CreatedAt: now,
		Size:      int64(len(doc)),
	}, nil
}

func (c *CheckpointDBRedis) Load(ctx context.Context, name string) (*api.Checkpoint, error) {
	cctx, ccancel := context.WithTimeout(ctx, c.timeout)
	defer ccancel()

	doc, err := c.redisClient.Get(cctx, c.docKey(name)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("%s: %w", name, api.ErrNotFound)
		}
		klog.FromContext(ctx).Error(err, "Load: get failed", "name", name)
		return nil, err
	}

	var cp api.Checkpoint
	if err := json.Unmarshal(doc, &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s: %w", name, err)
	}
	return &cp, nil
}

func (c *CheckpointDBRedis) List(ctx context.Context) ([]api.Record, error) {
	cctx, ccancel := context.WithTimeout(ctx, c.timeout)
	defer ccancel()

	entries, err := c.redisClient.ZRangeWithScores(cctx, c.indexKey(), 0, -1).Result()
	if err != nil {
		klog.FromContext(ctx).Error(err, "List: range failed")
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	sizes := make([]*goredis.IntCmd, len(entries))
	_, err = c.redisClient.Pipelined(cctx, func(pipe goredis.Pipeliner) error {
		for i, e := range entries {
			sizes[i] = pipe.StrLen(cctx, c.docKey(fmt.Sprint(e.Member)))
		}
		return nil
	})
	if err != nil {
		klog.FromContext(ctx).Error(err, "List: Pipelined failed")
		return nil, err
	}

	records := make([]api.Record, 0, len(entries))
	for i, e := range entries {
		records = append(records, c.record(e, sizes[i].Val()))
	}
	return records, nil
}

func (c *CheckpointDBRedis) Latest(ctx context.Context) (*api.Record, error) {
	cctx, ccancel := context.WithTimeout(ctx, c.timeout)
	defer ccancel()

	entries, err := c.redisClient.ZRevRangeWithScores(cctx, c.indexKey(), 0, 0).Result()
	if err != nil {
		klog.FromContext(ctx).Error(err, "Latest: range failed")
		return nil, err
	}
	if len(entries) == 0 {
		return nil, api.ErrNotFound
	}
	rec := c.record(entries[0], 0)
	return &rec, nil
}

func (c *CheckpointDBRedis) record(e goredis.Z, size int64) api.Record {
	name := fmt.Sprint(e.Member)
	rec, ok := api.ParseRecordName(name)
	if !ok {
		rec = api.Record{Name: name}
	}
	rec.Sequence = int64(e.Score)
	rec.Size = size
	return rec
}
