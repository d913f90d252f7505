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

// Package cli implements the batch-dispatcher command line.
package cli

import (
	"context"
	"errors"
	"flag"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/batch-dispatcher/internal/processor/config"
	"github.com/llm-d-incubation/batch-dispatcher/internal/util/logging"
)

const defaultConfigPath = "config.yaml"

// globalOptions holds the flags shared by every subcommand. They override the config file.
type globalOptions struct {
	configPath    string
	apiKeysFile   string
	outputFile    string
	checkpointDir string
	concurrency   int
	systemPrompt  string
	saveSample    bool
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&globalOptions{})
}

func newRootCommand(opts *globalOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "batch-dispatcher",
		Short: "Send a batch of questions to a rate-limited generation API using a pool of API keys",
		Long: `batch-dispatcher answers every question of an input file through a generateContent
endpoint. Requests are spread over a pool of API keys, each with its own per-minute and
per-day quota, failed calls are retried with exponential backoff, and progress is
checkpointed so an interrupted batch can be resumed without repeating finished questions.`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", defaultConfigPath, "YAML config file; a missing default file means built-in defaults")
	pf.StringVar(&opts.apiKeysFile, "api-keys", "", "text file with one API key per line")
	pf.StringVar(&opts.outputFile, "output", "", "results file, rewritten on every checkpoint")
	pf.StringVar(&opts.checkpointDir, "checkpoint-dir", "", "directory (or object prefix) for checkpoints")
	pf.IntVar(&opts.concurrency, "concurrency", 0, "number of questions in flight")
	pf.StringVar(&opts.systemPrompt, "system-prompt", "", "file holding the system prompt")
	pf.BoolVar(&opts.saveSample, "save-sample", false, "write the first request to the sample file")

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	pf.AddGoFlagSet(klogFlags)

	root.AddCommand(
		newRunCommand(opts),
		newResumeCommand(opts),
		newSampleCommand(opts),
		newTestOneCommand(opts),
	)
	return root
}

// Execute runs the command line with ctx, which is cancelled on shutdown signals.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// loadConfig applies, in order: defaults, the config file, then explicitly set flags.
func (o *globalOptions) loadConfig(cmd *cobra.Command) (*config.ProcessorConfig, error) {
	logger := klog.FromContext(cmd.Context())
	flags := cmd.Flags()

	cfg := config.NewConfig()
	if err := cfg.LoadFromYAML(o.configPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) || flags.Changed("config") {
			return nil, err
		}
		logger.V(logging.DEBUG).Info("Config file not found, using defaults", "path", o.configPath)
	}

	o.apply(flags, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// apply copies the flags the user set onto cfg.
func (o *globalOptions) apply(flags *pflag.FlagSet, cfg *config.ProcessorConfig) {
	if flags.Changed("api-keys") {
		cfg.APIKeysFile = o.apiKeysFile
	}
	if flags.Changed("output") {
		cfg.OutputFile = o.outputFile
	}
	if flags.Changed("checkpoint-dir") {
		cfg.CheckpointDir = o.checkpointDir
	}
	if flags.Changed("concurrency") {
		cfg.Concurrency = o.concurrency
	}
	if flags.Changed("system-prompt") {
		cfg.SystemPromptFile = o.systemPrompt
	}
	if flags.Changed("save-sample") {
		cfg.SaveSample = o.saveSample
	}
}
