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

// This file provides the bounded worker pool used by the processor.

package worker

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// WorkerPool bounds the number of questions in flight.
type WorkerPool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

func NewWorkerPool(maxWorkers int) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &WorkerPool{
		sem: make(chan struct{}, maxWorkers),
	}
}

// Acquire blocks until a worker slot is free. It returns false, without holding a slot,
// once ctx is done.
func (wp *WorkerPool) Acquire(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case wp.sem <- struct{}{}:
	case <-ctx.Done():
		return false
	}
	if ctx.Err() != nil {
		<-wp.sem
		return false
	}
	wp.wg.Add(1)
	return true
}

func (wp *WorkerPool) Release() {
	<-wp.sem
	wp.wg.Done()
}

// InFlight returns the number of held slots.
func (wp *WorkerPool) InFlight() int {
	return len(wp.sem)
}

// Done returns a channel closed once every acquired slot has been released.
// Call it only after the last Acquire.
func (wp *WorkerPool) Done() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()
	return done
}

// WaitTimeout waits for the workers for at most timeout and reports whether all of them
// finished. A non-positive timeout only checks.
func (wp *WorkerPool) WaitTimeout(clk clock.Clock, timeout time.Duration) bool {
	if timeout <= 0 {
		return wp.InFlight() == 0
	}
	timer := clk.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-wp.Done():
		return true
	case <-timer.C():
		return false
	}
}
