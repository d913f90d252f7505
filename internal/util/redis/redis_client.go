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

// This file provides redis client utilities.

package redis

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	gredis "github.com/redis/go-redis/v9"
	"k8s.io/klog/v2"

	utls "github.com/llm-d-incubation/batch-dispatcher/internal/util/tls"
)

const (
	REDIS_PING_WAIT_SEC = 10
)

type RedisClientConfig struct {
	Url             string        `yaml:"url"`
	DbIdx           int           `yaml:"db_index"`
	EnableTLS       bool          `yaml:"enable_tls"`
	TLS             utls.Options  `yaml:"tls"`
	ServiceName     string        `yaml:"service_name"`
	KeyPrefix       string        `yaml:"key_prefix"`
	Timeout         time.Duration `yaml:"timeout"`           // Timeout for socket operations: dial, read, write.
	MaxRetries      int           `yaml:"max_retries"`       // Default is 3 retries; -1 (not 0) disables retries.
	MinRetryBackoff time.Duration `yaml:"min_retry_backoff"` // Default is 8 milliseconds; -1 disables backoff.
	MaxRetryBackoff time.Duration `yaml:"max_retry_backoff"` // Default is 512 milliseconds; -1 disables backoff.
}

func NewRedisClient(ctx context.Context, cnf *RedisClientConfig) (*gredis.Client, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := klog.FromContext(ctx)
	if cnf == nil {
		err := fmt.Errorf("redis config was not provided")
		logger.Error(err, "NewRedisClient")
		return nil, err
	}
	if cnf.Url == "" {
		err := fmt.Errorf("redis config has empty url")
		logger.Error(err, "NewRedisClient")
		return nil, err
	}
	redisOps, err := gredis.ParseURL(cnf.Url)
	if err != nil {
		logger.Error(err, "NewRedisClient")
		return nil, err
	}
	if redisOps.ClientName == "" {
		redisOps.ClientName = clientName(cnf.ServiceName)
	}
	if cnf.DbIdx > 0 {
		redisOps.DB = cnf.DbIdx
	}
	if cnf.Timeout != 0 {
		redisOps.DialTimeout = cnf.Timeout
		redisOps.ReadTimeout = cnf.Timeout
		redisOps.WriteTimeout = cnf.Timeout
	}
	redisOps.ContextTimeoutEnabled = true
	if cnf.MaxRetries != 0 {
		redisOps.MaxRetries = cnf.MaxRetries
	}
	if cnf.MinRetryBackoff != 0 {
		redisOps.MinRetryBackoff = cnf.MinRetryBackoff
	}
	if cnf.MaxRetryBackoff != 0 {
		redisOps.MaxRetryBackoff = cnf.MaxRetryBackoff
	}
	if cnf.EnableTLS {
		tlsConfig, err := utls.BuildClientConfig(cnf.TLS)
		if err != nil {
			logger.Error(err, "NewRedisClient")
			return nil, err
		}
		if tlsConfig != nil {
			redisOps.TLSConfig = tlsConfig
		}
	}

	rds := gredis.NewClient(redisOps)
	pctx, cancel := context.WithTimeout(ctx, REDIS_PING_WAIT_SEC*time.Second)
	defer cancel()
	if _, err = rds.Ping(pctx).Result(); err != nil {
		logger.Error(err, "NewRedisClient: ping failed", "addr", redisOps.Addr)
		rds.Close()
		return nil, err
	}
	logger.Info("NewRedisClient", "clientName", redisOps.ClientName)
	return rds, nil
}

func clientName(serviceName string) string {
	hostname, _ := os.Hostname()
	suffix := uuid.NewString()[:8]
	if serviceName != "" {
		return fmt.Sprintf("%s-%s-%d-%s", serviceName, hostname, os.Getpid(), suffix)
	}
	return fmt.Sprintf("%s-%d-%s", hostname, os.Getpid(), suffix)
}
