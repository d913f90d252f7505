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
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/batch-dispatcher/internal/inference"
	"github.com/llm-d-incubation/batch-dispatcher/internal/util/logging"
)

const testResultFile = "test_result.json"

func newSampleCommand(opts *globalOptions) *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Write the request for the first question to the sample file without calling the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			questions, err := LoadQuestions(input)
			if err != nil {
				return err
			}
			client, err := newInferenceClient(cfg)
			if err != nil {
				return err
			}
			if err := writeSample(cfg.SampleFile, client, questions[0]); err != nil {
				return fmt.Errorf("failed to write sample request: %w", err)
			}
			klog.FromContext(cmd.Context()).Info("Sample request saved", "path", cfg.SampleFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "questions.json", `JSON file of the form {"questions": [...]}`)
	return cmd
}

// TestResult is written by the test-one command.
type TestResult struct {
	Question string `json:"question"`
	Response string `json:"response"`
	APIKey   string `json:"api_key"`
}

func newTestOneCommand(opts *globalOptions) *cobra.Command {
	var (
		input         string
		questionIndex int
		keyIndex      int
	)
	cmd := &cobra.Command{
		Use:   "test-one",
		Short: "Send one question with one API key, bypassing the pool and retries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := klog.FromContext(ctx)
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			questions, err := LoadQuestions(input)
			if err != nil {
				return err
			}
			if questionIndex < 0 || questionIndex >= len(questions) {
				return fmt.Errorf("question index %d out of range (0-%d)", questionIndex, len(questions)-1)
			}
			keys, err := loadKeys(cfg)
			if err != nil {
				return err
			}
			if keyIndex < 0 || keyIndex >= len(keys) {
				return fmt.Errorf("API key index %d out of range (0-%d)", keyIndex, len(keys)-1)
			}
			client, err := newInferenceClient(cfg)
			if err != nil {
				return err
			}

			question, key := questions[questionIndex], keys[keyIndex]
			if cfg.SaveSample {
				if err := writeSample(cfg.SampleFile, client, question); err != nil {
					logger.Error(err, "Failed to save sample request")
				}
			}
			logger.Info("Sending test request", "questionIndex", questionIndex, "credential", logging.Redact(key))
			resp, cerr := client.Generate(ctx, &inference.GenerateRequest{RequestID: uuid.NewString(), Question: question}, key)
			if cerr != nil {
				return fmt.Errorf("test request failed: %w", cerr)
			}
			logger.Info("Response received", "response", resp.Text)

			data, err := json.MarshalIndent(TestResult{
				Question: question,
				Response: resp.Text,
				APIKey:   logging.Redact(key),
			}, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(testResultFile, data, 0o644); err != nil {
				return err
			}
			logger.Info("Result saved", "path", testResultFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "questions.json", `JSON file of the form {"questions": [...]}`)
	cmd.Flags().IntVar(&questionIndex, "question-index", 0, "index of the question to send")
	cmd.Flags().IntVar(&keyIndex, "api-key-index", 0, "index of the API key to use")
	return cmd
}
