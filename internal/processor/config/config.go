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

// The processor's configuration definitions.

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/llm-d-incubation/batch-dispatcher/internal/dispatcher"
	"github.com/llm-d-incubation/batch-dispatcher/internal/files_store/s3"
	"github.com/llm-d-incubation/batch-dispatcher/internal/inference"
	"github.com/llm-d-incubation/batch-dispatcher/internal/keypool"
	uredis "github.com/llm-d-incubation/batch-dispatcher/internal/util/redis"
	utls "github.com/llm-d-incubation/batch-dispatcher/internal/util/tls"
)

// Checkpoint backends.
const (
	BackendFS    = "fs"
	BackendS3    = "s3"
	BackendRedis = "redis"
)

type ProcessorConfig struct {
	Pool  keypool.Config    `json:"pool" yaml:",inline"`
	Retry dispatcher.Config `json:"retry" yaml:",inline"`

	Concurrency     int           `json:"concurrency" yaml:"concurrency"`
	CheckpointEvery int           `json:"checkpoint_every" yaml:"checkpoint_every"`
	DrainTimeout    time.Duration `json:"drain_timeout" yaml:"drain_timeout"`

	APIURL              string        `json:"api_url" yaml:"api_url"`
	APIKeysFile         string        `json:"api_keys_file" yaml:"api_keys_file"`
	RequestTimeout      time.Duration `json:"request_timeout" yaml:"request_timeout"`
	SystemPromptFile    string        `json:"system_prompt_file" yaml:"system_prompt_file"`
	QuestionInstruction string        `json:"question_instruction" yaml:"question_instruction"`
	APITLS              utls.Options  `json:"api_tls" yaml:"api_tls"`

	OutputFile        string                   `json:"output_file" yaml:"output_file"`
	CheckpointBackend string                   `json:"checkpoint_backend" yaml:"checkpoint_backend"`
	CheckpointDir     string                   `json:"checkpoint_dir" yaml:"checkpoint_dir"`
	S3                s3.Config                `json:"s3" yaml:"s3"`
	Redis             uredis.RedisClientConfig `json:"redis" yaml:"redis"`

	SaveSample    bool   `json:"save_sample" yaml:"save_sample"`
	SampleFile    string `json:"sample_file" yaml:"sample_file"`
	StatusAddress string `json:"status_address" yaml:"status_address"` // empty disables the status server
}

// LoadFromYaml loads the configuration from a YAML file. Keys absent from the file keep
// their current values.
func (c *ProcessorConfig) LoadFromYAML(filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", filePath, err)
	}
	return nil
}

// NewConfig returns a new ProcessorConfig with default values.
func NewConfig() *ProcessorConfig {
	return &ProcessorConfig{
		Pool: keypool.DefaultConfig(),
		Retry: dispatcher.Config{
			MaxRetries:     dispatcher.DefaultMaxRetries,
			InitialBackoff: dispatcher.DefaultInitialBackoff,
			MaxBackoff:     dispatcher.DefaultMaxBackoff,
		},
		Concurrency:         5,
		CheckpointEvery:     10,
		DrainTimeout:        30 * time.Second,
		APIURL:              inference.DefaultAPIURL,
		APIKeysFile:         "api_keys.txt",
		RequestTimeout:      5 * time.Minute,
		QuestionInstruction: inference.DefaultQuestionTemplate,
		OutputFile:          "results.json",
		CheckpointBackend:   BackendFS,
		CheckpointDir:       "checkpoints",
		SampleFile:          "sample_request.txt",
		StatusAddress:       ":9090",
	}
}

// Validate reports every invalid setting at once.
func (c *ProcessorConfig) Validate() error {
	var errs []error
	if c.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("concurrency must be positive, got %d", c.Concurrency))
	}
	if c.CheckpointEvery <= 0 {
		errs = append(errs, fmt.Errorf("checkpoint_every must be positive, got %d", c.CheckpointEvery))
	}
	if c.Retry.MaxRetries <= 0 {
		errs = append(errs, fmt.Errorf("max_retries must be positive, got %d", c.Retry.MaxRetries))
	}
	if c.Retry.InitialBackoff <= 0 || c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		errs = append(errs, fmt.Errorf("backoff must satisfy 0 < initial_backoff (%s) <= max_backoff (%s)",
			c.Retry.InitialBackoff, c.Retry.MaxBackoff))
	}
	if c.Retry.MaxCredentialWait < 0 {
		errs = append(errs, fmt.Errorf("max_credential_wait must not be negative, got %s", c.Retry.MaxCredentialWait))
	}
	if c.Pool.RPMLimit <= 0 || c.Pool.DailyLimit <= 0 {
		errs = append(errs, fmt.Errorf("rpm_limit and daily_limit must be positive"))
	}
	if c.Pool.FailureThreshold <= 0 {
		errs = append(errs, fmt.Errorf("failure_threshold must be positive, got %d", c.Pool.FailureThreshold))
	}
	if c.Pool.Cooldown <= 0 {
		errs = append(errs, fmt.Errorf("cooldown must be positive, got %s", c.Pool.Cooldown))
	}
	if c.Pool.MinSpacing < 0 {
		errs = append(errs, fmt.Errorf("min_spacing cannot be negative, got %s", c.Pool.MinSpacing))
	}
	if c.DrainTimeout < 0 {
		errs = append(errs, fmt.Errorf("drain_timeout cannot be negative, got %s", c.DrainTimeout))
	}
	if c.APIURL == "" {
		errs = append(errs, errors.New("api_url cannot be empty"))
	}
	if !strings.Contains(c.QuestionInstruction, inference.QuestionPlaceholder) {
		errs = append(errs, fmt.Errorf("question_instruction must contain %s", inference.QuestionPlaceholder))
	}
	if c.OutputFile == "" {
		errs = append(errs, errors.New("output_file cannot be empty"))
	}

	switch c.CheckpointBackend {
	case BackendFS:
		if c.CheckpointDir == "" {
			errs = append(errs, errors.New("checkpoint_dir cannot be empty for the fs backend"))
		}
	case BackendS3:
		if c.S3.Bucket == "" {
			errs = append(errs, errors.New("s3.bucket cannot be empty for the s3 backend"))
		}
	case BackendRedis:
		if c.Redis.Url == "" {
			errs = append(errs, errors.New("redis.url cannot be empty for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown checkpoint_backend %q, expected %s, %s or %s",
			c.CheckpointBackend, BackendFS, BackendS3, BackendRedis))
	}
	return errors.Join(errs...)
}

// LoadSystemPrompt returns the contents of SystemPromptFile, or an empty prompt when unset.
func (c *ProcessorConfig) LoadSystemPrompt() (string, error) {
	if c.SystemPromptFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.SystemPromptFile)
	if err != nil {
		return "", fmt.Errorf("failed to read system prompt %s: %w", c.SystemPromptFile, err)
	}
	return strings.TrimSpace(string(data)), nil
}
