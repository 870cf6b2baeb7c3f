package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAndValidate(t *testing.T) {
	yaml := `
backend: nats

nats:
  url: "nats://localhost:4222"
  reconnect_wait: "500ms"

prefetch:
  initial_window: "64KB"
  max_window: "1MiB"
  part_size: 524288
  sequential_growth_factor: 2

bench:
  iterations: 3
  read_size: "128KB"
  concurrency: 4

results:
  enabled: true
  path: "/tmp/prefetch/results.db"
  max_age: "24h"
`
	path := filepath.Join(t.TempDir(), "prefetch.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Backend != BackendNATS {
		t.Errorf("unexpected backend: %s", cfg.Backend)
	}
	if cfg.NATS.ReconnectWait.Duration() != 500*time.Millisecond {
		t.Errorf("unexpected reconnect_wait: %v", cfg.NATS.ReconnectWait.Duration())
	}
	if cfg.Bench.Iterations != 3 || cfg.Bench.Concurrency != 4 {
		t.Errorf("unexpected bench config: %+v", cfg.Bench)
	}
	if cfg.Results.MaxAge.Duration() != 24*time.Hour {
		t.Errorf("unexpected max_age: %v", cfg.Results.MaxAge.Duration())
	}
	// Unset sections keep their defaults.
	if cfg.S3.Region != "us-east-1" {
		t.Errorf("unexpected default region: %s", cfg.S3.Region)
	}

	eng := cfg.Prefetch.Engine()
	if eng.InitialWindowBytes != 64*1024 || eng.MaxWindowBytes != 1024*1024 || eng.PartSize != 512*1024 {
		t.Errorf("unexpected engine config: %+v", eng)
	}
	if eng.SequentialGrowthFactor != 2 {
		t.Errorf("unexpected growth factor: %d", eng.SequentialGrowthFactor)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDefaultConfigValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Backend = "gcs" }},
		{"nats without url", func(c *Config) { c.Backend = BackendNATS; c.NATS.URL = "" }},
		{"s3 without region or endpoint", func(c *Config) { c.S3.Region = "" }},
		{"negative throughput target", func(c *Config) { c.S3.ThroughputTargetGbps = -1 }},
		{"initial window above max", func(c *Config) { c.Prefetch.InitialWindow = c.Prefetch.MaxWindow + 1 }},
		{"negative part size", func(c *Config) { c.Prefetch.PartSize = -1 }},
		{"zero iterations", func(c *Config) { c.Bench.Iterations = 0 }},
		{"zero read size", func(c *Config) { c.Bench.ReadSize = 0 }},
		{"zero concurrency", func(c *Config) { c.Bench.Concurrency = 0 }},
		{"results without path", func(c *Config) { c.Results.Enabled = true; c.Results.Path = "" }},
		{"bad log level", func(c *Config) { c.Observability.Logging.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestParseByteSizes(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"1KB", 1024},
		{"256MB", 256 * 1024 * 1024},
		{"8MiB", 8 * 1024 * 1024},
		{"10GB", 10 * 1024 * 1024 * 1024},
		{"1TB", 1024 * 1024 * 1024 * 1024},
		{"100B", 100},
		{"4096", 4096},
	}
	for _, tt := range tests {
		result, err := ParseByteSize(tt.input)
		if err != nil {
			t.Errorf("ParseByteSize(%q) error: %v", tt.input, err)
			continue
		}
		if result != tt.expected {
			t.Errorf("ParseByteSize(%q) = %d, want %d", tt.input, result, tt.expected)
		}
	}

	if _, err := ParseByteSize("lots"); err == nil {
		t.Error("expected error for non-numeric size")
	}
}
