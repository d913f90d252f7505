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

// This file provides tls utilities shared by the inference and redis clients.

package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
)

// Options describes the client side TLS settings. Relative file names are resolved against Dir.
type Options struct {
	Dir                string `yaml:"dir"`
	CaCertFile         string `yaml:"ca_cert_file"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	MinVersion         uint16 `yaml:"min_version"`
	MaxVersion         uint16 `yaml:"max_version"`
}

func (o Options) IsEmpty() bool {
	return reflect.ValueOf(o).IsZero()
}

// BuildClientConfig returns nil when no option is set, so callers keep Go's defaults
// (system root CAs, TLS 1.2+).
func BuildClientConfig(o Options) (*tls.Config, error) {
	if o.IsEmpty() {
		return nil, nil
	}
	conf := &tls.Config{}

	if o.InsecureSkipVerify {
		conf.InsecureSkipVerify = true
	}

	if caFile := JoinCertPath(o.Dir, o.CaCertFile); caFile != "" && !o.InsecureSkipVerify {
		ca, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("BuildClientConfig: could not read CA certificate file %s: %w", caFile, err) // pragma: allowlist secret
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(ca) {
			return nil, fmt.Errorf("BuildClientConfig: failed to parse CA certificate from %s", caFile) // pragma: allowlist secret
		}
		conf.RootCAs = pool
	}

	certFile, keyFile := JoinCertPath(o.Dir, o.CertFile), JoinCertPath(o.Dir, o.KeyFile)
	switch {
	case certFile != "" && keyFile != "":
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("BuildClientConfig: LoadX509KeyPair failed: %w", err) // pragma: allowlist secret
		}
		conf.Certificates = []tls.Certificate{cert}
	case certFile != "" || keyFile != "":
		return nil, fmt.Errorf("BuildClientConfig: both cert_file and key_file must be specified for mTLS")
	}

	if o.MinVersion != 0 {
		conf.MinVersion = o.MinVersion
	}
	if o.MaxVersion != 0 {
		conf.MaxVersion = o.MaxVersion
	}
	return conf, nil
}

// Return the cert path only when file is not empty.
func JoinCertPath(dir, file string) string {
	if len(file) > 0 {
		return filepath.Join(dir, file)
	}
	return ""
}
