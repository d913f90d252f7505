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

// The entry point for the batch-dispatcher command.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/batch-dispatcher/internal/cli"
)

func main() {
	defer klog.Flush()

	// setup context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 2)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-signalChan
		klog.InfoS("Received shutdown signal, waiting for in-flight questions and saving a checkpoint...", "signal", sig)
		cancel()

		// a forced exit would lose the final checkpoint
		for sig := range signalChan {
			klog.InfoS("Shutdown already in progress, ignoring signal", "signal", sig)
		}
	}()

	ctx = klog.NewContext(ctx, klog.Background())
	if err := cli.Execute(ctx); err != nil {
		klog.ErrorS(err, "batch-dispatcher failed")
		klog.Flush()
		os.Exit(1)
	}
}
