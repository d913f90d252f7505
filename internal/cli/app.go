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

// This file wires the configured components into a processor.

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/batch-dispatcher/internal/api"
	"github.com/llm-d-incubation/batch-dispatcher/internal/apiserver/health"
	"github.com/llm-d-incubation/batch-dispatcher/internal/apiserver/metrics"
	"github.com/llm-d-incubation/batch-dispatcher/internal/apiserver/progress"
	"github.com/llm-d-incubation/batch-dispatcher/internal/apiserver/server"
	dbfiles "github.com/llm-d-incubation/batch-dispatcher/internal/database/files"
	dbredis "github.com/llm-d-incubation/batch-dispatcher/internal/database/redis"
	"github.com/llm-d-incubation/batch-dispatcher/internal/dispatcher"
	"github.com/llm-d-incubation/batch-dispatcher/internal/files_store/fs"
	"github.com/llm-d-incubation/batch-dispatcher/internal/files_store/s3"
	"github.com/llm-d-incubation/batch-dispatcher/internal/inference"
	"github.com/llm-d-incubation/batch-dispatcher/internal/keypool"
	"github.com/llm-d-incubation/batch-dispatcher/internal/output"
	"github.com/llm-d-incubation/batch-dispatcher/internal/processor/config"
	"github.com/llm-d-incubation/batch-dispatcher/internal/processor/worker"
)

const serviceName = "batch-dispatcher"

type app struct {
	cfg         *config.ProcessorConfig
	pool        *keypool.Pool
	client      *inference.HTTPClient
	checkpoints api.CheckpointDB
	sink        *output.Sink
	processor   *worker.Processor
}

func newInferenceClient(cfg *config.ProcessorConfig) (*inference.HTTPClient, error) {
	systemPrompt, err := cfg.LoadSystemPrompt()
	if err != nil {
		return nil, err
	}
	return inference.NewHTTPClient(inference.HTTPClientConfig{
		URL:              cfg.APIURL,
		Timeout:          cfg.RequestTimeout,
		SystemPrompt:     systemPrompt,
		QuestionTemplate: cfg.QuestionInstruction,
		TLS:              cfg.APITLS,
	}), nil
}

func loadKeys(cfg *config.ProcessorConfig) ([]string, error) {
	keys, err := keypool.LoadKeys(cfg.APIKeysFile)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no API keys found in %s", cfg.APIKeysFile)
	}
	return keys, nil
}

// newCheckpointDB opens the configured checkpoint backend.
func newCheckpointDB(ctx context.Context, cfg *config.ProcessorConfig) (api.CheckpointDB, error) {
	switch cfg.CheckpointBackend {
	case config.BackendFS:
		client, err := fs.New(cfg.CheckpointDir)
		if err != nil {
			return nil, err
		}
		return dbfiles.New(client, ""), nil
	case config.BackendS3:
		client, err := s3.New(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return dbfiles.New(client, cfg.CheckpointDir), nil
	case config.BackendRedis:
		redisCfg := cfg.Redis
		if redisCfg.ServiceName == "" {
			redisCfg.ServiceName = serviceName
		}
		db, err := dbredis.NewCheckpointDBRedis(ctx, &redisCfg)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.CheckpointBackend)
	}
}

// newSink keeps the results document on local disk next to the configured output path.
func newSink(cfg *config.ProcessorConfig) (*output.Sink, error) {
	client, err := fs.New(filepath.Dir(cfg.OutputFile))
	if err != nil {
		return nil, err
	}
	return output.NewSink(client, filepath.Base(cfg.OutputFile)), nil
}

func writeSample(path string, client *inference.HTTPClient, question string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := client.WriteSample(f, question); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func newApp(ctx context.Context, cfg *config.ProcessorConfig) (*app, error) {
	keys, err := loadKeys(cfg)
	if err != nil {
		return nil, err
	}
	client, err := newInferenceClient(cfg)
	if err != nil {
		return nil, err
	}
	checkpoints, err := newCheckpointDB(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	sink, err := newSink(cfg)
	if err != nil {
		checkpoints.Close()
		return nil, fmt.Errorf("failed to open output: %w", err)
	}

	pool := keypool.New(keys, cfg.Pool, keypool.WithLogger(klog.FromContext(ctx)))
	d := dispatcher.New(cfg.Retry, pool, client)
	sample := func(_ context.Context, question string) error {
		return writeSample(cfg.SampleFile, client, question)
	}
	proc := worker.NewProcessor(cfg, worker.NewProcessorClients(d, pool, checkpoints, sink, sample))

	return &app{
		cfg:         cfg,
		pool:        pool,
		client:      client,
		checkpoints: checkpoints,
		sink:        sink,
		processor:   proc,
	}, nil
}

func (a *app) Close() error {
	return a.checkpoints.Close()
}

// serveStatus starts the status server unless it is disabled. The returned function stops
// it and waits for it to exit.
func (a *app) serveStatus(ctx context.Context) (func(), error) {
	if a.cfg.StatusAddress == "" {
		return func() {}, nil
	}
	checkpointsReachable := health.Check{
		Name: "checkpoints",
		Fn: func(ctx context.Context) error {
			_, err := a.checkpoints.Latest(ctx)
			if errors.Is(err, api.ErrNotFound) {
				return nil
			}
			return err
		},
	}
	srv, err := server.New(a.cfg.StatusAddress,
		health.NewHealthApiHandler(checkpointsReachable),
		metrics.NewMetricsApiHandler(),
		progress.NewProgressApiHandler(a.processor),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start status server: %w", err)
	}

	// The status server outlives the shutdown signal until the run has drained.
	srvCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Start(srvCtx); err != nil {
			klog.FromContext(ctx).Error(err, "status server failed")
		}
	}()
	return func() {
		cancel()
		<-done
	}, nil
}

// logSummary reports the outcome of a run.
func logSummary(ctx context.Context, p *worker.Progress) {
	logger := klog.FromContext(ctx)
	if p.Progress == nil {
		logger.Info("Nothing was processed", "status", p.Status)
		return
	}
	logger.Info("Processing finished",
		"status", p.Status,
		"total", p.Progress.Total,
		"processed", p.Progress.Processed,
		"successful", p.Progress.Successful,
		"errors", p.Progress.Errors,
		"elapsed", p.Performance.ElapsedTime,
	)
}
