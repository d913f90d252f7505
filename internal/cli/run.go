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

package cli

import (
	"github.com/spf13/cobra"
)

func newRunCommand(opts *globalOptions) *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process every question of the input file",
		Example: `  # Run with config.yaml and the default key file
  batch-dispatcher run --input questions.json

  # More workers, checkpoints in another directory
  batch-dispatcher run --input questions.json --concurrency 10 --checkpoint-dir ./ckpt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			questions, err := LoadQuestions(input)
			if err != nil {
				return err
			}

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			stopStatus, err := a.serveStatus(ctx)
			if err != nil {
				return err
			}
			defer stopStatus()

			progress, err := a.processor.Run(ctx, questions)
			if err != nil {
				return err
			}
			logSummary(ctx, progress)
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "questions.json", `JSON file of the form {"questions": [...]}`)
	return cmd
}

func newResumeCommand(opts *globalOptions) *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "resume <checkpoint|latest>",
		Short: "Continue a batch from a checkpoint, skipping questions that already have a result",
		Long: `resume loads a checkpoint and processes the questions of --input that have no result in it.
The input must be the question set of the original run; questions are matched by exact text.
Pass "latest" to pick the checkpoint with the highest sequence number.`,
		Example: `  batch-dispatcher resume latest --input questions.json
  batch-dispatcher resume checkpoint_000012_2026-05-06_07-08-09.json --input questions.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			inputs, err := LoadQuestions(input)
			if err != nil {
				return err
			}

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			stopStatus, err := a.serveStatus(ctx)
			if err != nil {
				return err
			}
			defer stopStatus()

			progress, err := a.processor.Resume(ctx, args[0], inputs)
			if err != nil {
				return err
			}
			logSummary(ctx, progress)
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "questions.json", "the original input file of the interrupted run")
	return cmd
}
