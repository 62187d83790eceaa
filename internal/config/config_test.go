package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
collector:
  base_url: https://collector.example.com
  token: tok-123
  poll_interval_seconds: 2
  page_size: 50
  network_retries: 5
  max_reviews_default: 25
db:
  dsn: postgres://harvester:pw@localhost:5432/reviews
  max_conns: 8
writer:
  max_retries: 4
  backoff_initial_ms: 100
  backoff_max_ms: 500
dispatch:
  concurrency: 6
  queue_depth: 128
pubsub:
  project_id: proj
  topic_name: harvest-done
archive:
  backend: local
  local_dir: /tmp/raw
  prefix: payloads
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Collector.Token != "tok-123" || cfg.Collector.MaxReviewsDefault != 25 {
		t.Fatalf("expected collector overrides to apply: %+v", cfg.Collector)
	}
	if cfg.Dispatch.Concurrency != 6 || cfg.Dispatch.QueueDepth != 128 {
		t.Fatalf("expected dispatch overrides to apply: %+v", cfg.Dispatch)
	}
	if cfg.Archive.Backend != "local" || cfg.Archive.Prefix != "payloads" {
		t.Fatalf("expected archive overrides to apply: %+v", cfg.Archive)
	}
	if got := cfg.PollInterval(); got != 2*time.Second {
		t.Fatalf("expected poll interval 2s, got %v", got)
	}
	initial, max := cfg.WriterBackoff()
	if initial != 100*time.Millisecond || max != 500*time.Millisecond {
		t.Fatalf("expected writer backoff 100ms/500ms, got %v/%v", initial, max)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if got := cfg.RequestTimeout(); got != 60*time.Second {
		t.Fatalf("expected default request timeout 60s, got %v", got)
	}
	if cfg.Collector.MaxReviewsDefault != 0 {
		t.Fatalf("expected unlimited max reviews by default, got %d", cfg.Collector.MaxReviewsDefault)
	}
	if cfg.Writer.MaxRetries != 3 {
		t.Fatalf("expected default writer retries 3, got %d", cfg.Writer.MaxRetries)
	}
	if cfg.Archive.Backend != "memory" {
		t.Fatalf("expected default archive backend memory, got %q", cfg.Archive.Backend)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*Config)
		keyword string
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"zero concurrency", func(c *Config) { c.Dispatch.Concurrency = 0 }, "dispatch.concurrency"},
		{"auth without key", func(c *Config) { c.Auth.Enabled = true; c.Auth.APIKey = "" }, "auth.api_key"},
		{"unknown archive backend", func(c *Config) { c.Archive.Backend = "s3" }, "archive.backend"},
		{"gcs without bucket", func(c *Config) { c.Archive.Backend = "gcs"; c.Archive.GCSBucket = "" }, "gcs_bucket"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tc.mutate(&cfg)
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.keyword) {
				t.Fatalf("expected error mentioning %q, got %v", tc.keyword, err)
			}
		})
	}
}
