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

package tls

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"
)

func TestBuildClientConfig(t *testing.T) {
	t.Run("returns nil for empty options", func(t *testing.T) {
		conf, err := BuildClientConfig(Options{})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if conf != nil {
			t.Fatalf("expected nil config, got %+v", conf)
		}
	})

	t.Run("sets insecure skip verify", func(t *testing.T) {
		conf, err := BuildClientConfig(Options{InsecureSkipVerify: true})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !conf.InsecureSkipVerify {
			t.Error("expected InsecureSkipVerify to be set")
		}
	})

	t.Run("applies version bounds", func(t *testing.T) {
		conf, err := BuildClientConfig(Options{MinVersion: tls.VersionTLS12, MaxVersion: tls.VersionTLS13})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if conf.MinVersion != tls.VersionTLS12 || conf.MaxVersion != tls.VersionTLS13 {
			t.Errorf("unexpected versions: min=%x max=%x", conf.MinVersion, conf.MaxVersion)
		}
	})

	t.Run("fails on missing CA file", func(t *testing.T) {
		_, err := BuildClientConfig(Options{CaCertFile: filepath.Join(t.TempDir(), "missing.pem")})
		if err == nil {
			t.Fatal("expected error for missing CA file")
		}
	})

	t.Run("fails on unparsable CA file", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "ca.pem"), []byte("not a cert"), 0o600); err != nil {
			t.Fatal(err)
		}
		_, err := BuildClientConfig(Options{Dir: dir, CaCertFile: "ca.pem"})
		if err == nil {
			t.Fatal("expected error for invalid CA file")
		}
	})

	t.Run("requires both cert and key", func(t *testing.T) {
		_, err := BuildClientConfig(Options{CertFile: "client.crt"})
		if err == nil {
			t.Fatal("expected error when key file is missing")
		}
	})
}

func TestJoinCertPath(t *testing.T) {
	if got := JoinCertPath("/certs", ""); got != "" {
		t.Errorf("expected empty path, got %q", got)
	}
	if got := JoinCertPath("/certs", "ca.pem"); got != filepath.Join("/certs", "ca.pem") {
		t.Errorf("unexpected path %q", got)
	}
}
