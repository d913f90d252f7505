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

// This file provides the batch coordinator. It fans questions out to the dispatcher
// and keeps the checkpoints and the results document current.

package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/llm-d-incubation/batch-dispatcher/internal/api"
	"github.com/llm-d-incubation/batch-dispatcher/internal/dispatcher"
	"github.com/llm-d-incubation/batch-dispatcher/internal/keypool"
	"github.com/llm-d-incubation/batch-dispatcher/internal/processor/config"
	"github.com/llm-d-incubation/batch-dispatcher/internal/processor/metrics"
	"github.com/llm-d-incubation/batch-dispatcher/internal/util/logging"
)

// ErrRunInProgress is returned when a run is started while another one is active.
var ErrRunInProgress = errors.New("processing already in progress")

var errPanic = errors.New("panic while processing question")

// ItemDispatcher produces the terminal result for one question.
type ItemDispatcher interface {
	Dispatch(ctx context.Context, question string) (*dispatcher.Result, error)
}

type PoolStats interface {
	Stats() keypool.Stats
}

// ResultSink receives the full result list on every save.
type ResultSink interface {
	Write(ctx context.Context, results []api.Result) error
}

// SampleFunc records the request that will be sent for question.
type SampleFunc func(ctx context.Context, question string) error

type ProcessorClients struct {
	dispatcher  ItemDispatcher
	pool        PoolStats
	checkpoints api.CheckpointDB
	output      ResultSink
	sample      SampleFunc
}

func NewProcessorClients(
	d ItemDispatcher,
	pool PoolStats,
	checkpoints api.CheckpointDB,
	output ResultSink,
	sample SampleFunc,
) ProcessorClients {
	return ProcessorClients{
		dispatcher:  d,
		pool:        pool,
		checkpoints: checkpoints,
		output:      output,
		sample:      sample,
	}
}

// runState is guarded by Processor.mu. A closed run no longer accepts results.
type runState struct {
	id        string
	total     int
	processed int
	success   int
	errors    int
	seeded    int // results carried over from a checkpoint
	started   time.Time
	finished  time.Time
	running   bool
	closed    bool
	results   []api.Result
}

// Processor runs one batch at a time.
type Processor struct {
	cfg     *config.ProcessorConfig
	clients ProcessorClients
	clock   clock.Clock

	mu  sync.Mutex
	run *runState

	// persistMu orders checkpoint and output writes so a newer snapshot is never
	// overwritten by an older one.
	persistMu  sync.Mutex
	sampleOnce sync.Once
}

type Option func(*Processor)

func WithClock(c clock.Clock) Option {
	return func(p *Processor) { p.clock = c }
}

func NewProcessor(
	cfg *config.ProcessorConfig,
	clients ProcessorClients,
	opts ...Option,
) *Processor {
	p := &Processor{
		cfg:     cfg,
		clients: clients,
		clock:   clock.RealClock{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// pre-flight check
func (p *Processor) prepare(ctx context.Context) error {
	logger := klog.FromContext(ctx)

	if p.clients.dispatcher == nil || p.clients.pool == nil || p.clients.checkpoints == nil || p.clients.output == nil {
		return fmt.Errorf("critical clients are missing in Processor")
	}
	if p.cfg.CheckpointEvery <= 0 {
		return fmt.Errorf("checkpoint cadence must be positive, got %d", p.cfg.CheckpointEvery)
	}

	logger.V(logging.DEBUG).Info("Processor pre-flight check done", "concurrency", p.cfg.Concurrency)
	return nil
}

// Running reports whether a run is active.
func (p *Processor) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.run != nil && p.run.running
}

// Run processes questions from scratch. Results are recorded in completion order.
func (p *Processor) Run(ctx context.Context, questions []string) (*Progress, error) {
	return p.execute(ctx, nil, questions)
}

// Resume loads the checkpoint called name (or api.LatestCheckpoint) and processes the inputs
// that have no result in it yet. The loaded results are kept ahead of the new ones.
func (p *Processor) Resume(ctx context.Context, name string, inputs []string) (*Progress, error) {
	logger := klog.FromContext(ctx)
	if p.Running() {
		return nil, ErrRunInProgress
	}
	if p.clients.checkpoints == nil {
		return nil, fmt.Errorf("critical clients are missing in Processor")
	}

	cp, resolved, err := api.Resolve(ctx, p.clients.checkpoints, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint %s: %w", name, err)
	}
	remaining := api.Remaining(cp.Results, inputs)
	logger.Info("Resuming from checkpoint",
		"checkpoint", resolved, "loaded", len(cp.Results), "remaining", len(remaining))

	return p.execute(ctx, cp.Results, remaining)
}

func (p *Processor) execute(ctx context.Context, prior []api.Result, questions []string) (progress *Progress, err error) {
	if err := p.prepare(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare processor: %w", err)
	}
	run, err := p.begin(prior, questions)
	if err != nil {
		return nil, err
	}

	logger := klog.FromContext(ctx).WithValues("runID", run.id)
	ctx = klog.NewContext(ctx, logger)

	defer func() {
		if r := recover(); r != nil {
			logger.Error(fmt.Errorf("%v", r), "Run aborted, keeping the results collected so far")
			p.close(run)
			// The key pool may be what panicked, so its stats are left out.
			progress, err = p.report(run, nil), fmt.Errorf("run aborted: %v", r)
		}
	}()

	logger.Info("Processing questions",
		"questions", len(questions), "total", run.total,
		"keys", p.clients.pool.Stats().TotalKeys, "concurrency", p.cfg.Concurrency)

	wp := NewWorkerPool(p.cfg.Concurrency)
	launched := 0
	for i, q := range questions {
		if !wp.Acquire(ctx) {
			logger.Info("Shutdown requested, not starting new questions",
				"launched", launched, "notStarted", len(questions)-launched)
			break
		}
		launched++
		metrics.IncActiveWorkers()
		go p.processItem(ctx, wp, run, i, q)
	}

	if !p.wait(ctx, wp) {
		logger.Info("Drain timeout elapsed, leaving in-flight questions behind",
			"inFlight", wp.InFlight(), "drainTimeout", p.cfg.DrainTimeout)
	}

	p.close(run)
	p.persist(ctx, run, api.LabelFinal)

	p.mu.Lock()
	logger.Info("Processing completed",
		"successful", run.success, "errors", run.errors, "processed", run.processed, "total", run.total)
	p.mu.Unlock()
	return p.progress(run), nil
}

// begin resets the run state, seeding it with prior results.
func (p *Processor) begin(prior []api.Result, questions []string) (*runState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.run != nil && p.run.running {
		return nil, ErrRunInProgress
	}

	run := &runState{
		id:        uuid.NewString(),
		total:     len(prior) + len(questions),
		processed: len(prior),
		seeded:    len(prior),
		started:   p.clock.Now(),
		running:   true,
		results:   make([]api.Result, 0, len(prior)+len(questions)),
	}
	for _, r := range prior {
		if strings.HasPrefix(r.Response, dispatcher.ErrorPrefix) {
			run.errors++
		} else {
			run.success++
		}
	}
	run.results = append(run.results, prior...)
	p.run = run
	return run, nil
}

// close stops the run from accepting results.
func (p *Processor) close(run *runState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if run.closed {
		return
	}
	run.closed = true
	run.running = false
	run.finished = p.clock.Now()
}

// wait blocks until every launched question finished. After ctx is done it waits at most
// the drain timeout, and reports false if questions were left behind.
func (p *Processor) wait(ctx context.Context, wp *WorkerPool) bool {
	select {
	case <-wp.Done():
		return true
	case <-ctx.Done():
	}
	return wp.WaitTimeout(p.clock, p.cfg.DrainTimeout)
}

func (p *Processor) processItem(ctx context.Context, wp *WorkerPool, run *runState, idx int, question string) {
	logger := klog.FromContext(ctx).WithValues("itemIndex", idx)
	ctx = klog.NewContext(ctx, logger)
	startTime := p.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error(fmt.Errorf("%v", r), "Panic while recording result")
		}
		metrics.RecordItemDuration(p.clock.Since(startTime))
		wp.Release()
		metrics.DecActiveWorkers()
	}()

	p.saveSample(ctx, question)

	res, err := p.dispatch(ctx, question)
	if errors.Is(err, dispatcher.ErrInterrupted) {
		logger.V(logging.DEBUG).Info("Question interrupted, it stays pending")
		return
	}

	reason := metrics.ReasonNone
	switch {
	case err == nil:
	case errors.Is(err, errPanic):
		logger.Error(err, "Panic recovered in worker")
		reason = metrics.ReasonPanic
	case errors.Is(err, dispatcher.ErrNoCredentials):
		reason = metrics.ReasonNoCredential
	default:
		reason = metrics.ReasonExhausted
	}
	text := ""
	if res != nil {
		text = res.Text
	}
	if err != nil && !strings.HasPrefix(text, dispatcher.ErrorPrefix) {
		text = dispatcher.ErrorPrefix + err.Error()
	}

	p.complete(ctx, run, api.Result{Question: question, Response: text}, err == nil, reason)
}

// dispatch shields the run from a panicking dispatcher.
func (p *Processor) dispatch(ctx context.Context, question string) (res *dispatcher.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = &dispatcher.Result{Text: fmt.Sprintf("%sInternal error: %v", dispatcher.ErrorPrefix, r)}
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
	}()
	return p.clients.dispatcher.Dispatch(ctx, question)
}

func (p *Processor) complete(ctx context.Context, run *runState, result api.Result, success bool, reason string) {
	logger := klog.FromContext(ctx)

	p.mu.Lock()
	if run.closed {
		p.mu.Unlock()
		logger.Info("Result arrived after the run finished, it stays pending")
		return
	}
	run.results = append(run.results, result)
	run.processed++
	if success {
		run.success++
	} else {
		run.errors++
	}
	processed, total := run.processed, run.total
	qps := rate(run.processed-run.seeded, p.clock.Since(run.started))
	p.mu.Unlock()

	if success {
		metrics.RecordItemProcessed(metrics.ResultSuccess, reason)
	} else {
		metrics.RecordItemProcessed(metrics.ResultFailed, reason)
		logger.V(logging.DEBUG).Info("Question failed", "response", result.Response)
	}

	if processed%p.cfg.CheckpointEvery == 0 || processed == total {
		logger.Info("Progress", "processed", processed, "total", total, "questionsPerSecond", fmt.Sprintf("%.2f", qps))
		p.persist(ctx, run, "")
	}
}

// persist writes a checkpoint and the results document from one snapshot of run.
// Failures are logged and never abort the run.
func (p *Processor) persist(ctx context.Context, run *runState, label string) {
	ctx = context.WithoutCancel(ctx)
	logger := klog.FromContext(ctx)

	p.persistMu.Lock()
	defer p.persistMu.Unlock()

	cp := p.snapshot(run)
	cp.KeyStats = p.clients.pool.Stats()

	rec, err := p.clients.checkpoints.Save(ctx, label, cp)
	if err != nil {
		metrics.RecordCheckpoint(metrics.ResultFailed)
		logger.Error(err, "Failed to save checkpoint", "processed", cp.ProcessedCount)
	} else {
		metrics.RecordCheckpoint(metrics.ResultSuccess)
		logger.Info("Checkpoint saved", "checkpoint", rec.Name, "processed", cp.ProcessedCount)
	}

	if err := p.clients.output.Write(ctx, cp.Results); err != nil {
		logger.Error(err, "Failed to save results", "count", len(cp.Results))
	}
}

func (p *Processor) snapshot(run *runState) *api.Checkpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	end := p.clock.Now()
	if !run.finished.IsZero() {
		end = run.finished
	}
	return &api.Checkpoint{
		ProcessedCount: run.processed,
		TotalCount:     run.total,
		SuccessCount:   run.success,
		ErrorCount:     run.errors,
		ElapsedTime:    end.Sub(run.started).Seconds(),
		Results:        append([]api.Result(nil), run.results...),
	}
}

// Results returns a copy of the current run's results in completion order.
func (p *Processor) Results() []api.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.run == nil {
		return nil
	}
	return append([]api.Result(nil), p.run.results...)
}

func (p *Processor) saveSample(ctx context.Context, question string) {
	if !p.cfg.SaveSample || p.clients.sample == nil {
		return
	}
	p.sampleOnce.Do(func() {
		logger := klog.FromContext(ctx)
		if err := p.clients.sample(ctx, question); err != nil {
			logger.Error(err, "Failed to save sample request")
			return
		}
		logger.Info("Sample request saved")
	})
}
