package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gftdcojp/s3-prefetch/pkg/prefetch"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const (
	BackendS3   = "s3"
	BackendNATS = "nats"
)

type Config struct {
	Backend       string              `yaml:"backend"`
	S3            S3Config            `yaml:"s3"`
	NATS          NATSConfig          `yaml:"nats"`
	Prefetch      PrefetchConfig      `yaml:"prefetch"`
	Bench         BenchConfig         `yaml:"bench"`
	Results       ResultsConfig       `yaml:"results"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type S3Config struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	// ThroughputTargetGbps paces body reads across all streams; 0 disables pacing.
	ThroughputTargetGbps float64  `yaml:"throughput_target_gbps"`
	ChunkSize            ByteSize `yaml:"chunk_size"`
}

type NATSConfig struct {
	URL             string    `yaml:"url"`
	CredentialsFile string    `yaml:"credentials_file"`
	NKeySeedFile    string    `yaml:"nkey_seed_file"`
	TLS             TLSConfig `yaml:"tls"`
	ConnectionName  string    `yaml:"connection_name"`
	MaxReconnects   int       `yaml:"max_reconnects"`
	ReconnectWait   Duration  `yaml:"reconnect_wait"`
	ChunkSize       ByteSize  `yaml:"chunk_size"`
}

type TLSConfig struct {
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type PrefetchConfig struct {
	InitialWindow          ByteSize `yaml:"initial_window"`
	MaxWindow              ByteSize `yaml:"max_window"`
	PartSize               ByteSize `yaml:"part_size"`
	SequentialGrowthFactor int      `yaml:"sequential_growth_factor"`
	ReadWindow             ByteSize `yaml:"read_window"`
	MaxForwardSeek         ByteSize `yaml:"max_forward_seek"`
	MaxBackwardSeek        ByteSize `yaml:"max_backward_seek"`
}

type BenchConfig struct {
	Iterations  int      `yaml:"iterations"`
	ReadSize    ByteSize `yaml:"read_size"`
	Concurrency int      `yaml:"concurrency"`
	// PoolSize bounds concurrent range GETs per iteration; 0 starts a
	// goroutine per GET.
	PoolSize int      `yaml:"pool_size"`
	Timeout  Duration `yaml:"timeout"`
}

type ResultsConfig struct {
	Enabled bool     `yaml:"enabled"`
	Path    string   `yaml:"path"`
	NoSync  bool     `yaml:"no_sync"`
	MaxRuns int      `yaml:"max_runs"`
	MaxAge  Duration `yaml:"max_age"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Health  HealthConfig  `yaml:"health"`
	Logging LoggingConfig `yaml:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

type HealthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	LivenessPath  string `yaml:"liveness_path"`
	ReadinessPath string `yaml:"readiness_path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendS3:
		if c.S3.Region == "" && c.S3.Endpoint == "" {
			return fmt.Errorf("s3.region or s3.endpoint is required")
		}
		if c.S3.ThroughputTargetGbps < 0 {
			return fmt.Errorf("s3.throughput_target_gbps must be >= 0")
		}
	case BackendNATS:
		if c.NATS.URL == "" {
			return fmt.Errorf("nats.url is required")
		}
	default:
		return fmt.Errorf("backend must be %q or %q, got %q", BackendS3, BackendNATS, c.Backend)
	}

	p := c.Prefetch
	for name, v := range map[string]ByteSize{
		"initial_window":    p.InitialWindow,
		"max_window":        p.MaxWindow,
		"part_size":         p.PartSize,
		"read_window":       p.ReadWindow,
		"max_forward_seek":  p.MaxForwardSeek,
		"max_backward_seek": p.MaxBackwardSeek,
	} {
		if v < 0 {
			return fmt.Errorf("prefetch.%s must be >= 0, got %d", name, v)
		}
	}
	if p.SequentialGrowthFactor < 0 {
		return fmt.Errorf("prefetch.sequential_growth_factor must be >= 0")
	}
	if err := p.Engine().Validate(); err != nil {
		return fmt.Errorf("prefetch: %w", err)
	}

	if c.Bench.Iterations < 1 {
		return fmt.Errorf("bench.iterations must be >= 1")
	}
	if c.Bench.ReadSize <= 0 {
		return fmt.Errorf("bench.read_size must be > 0")
	}
	if c.Bench.Concurrency < 1 {
		return fmt.Errorf("bench.concurrency must be >= 1")
	}
	if c.Bench.PoolSize < 0 {
		return fmt.Errorf("bench.pool_size must be >= 0")
	}

	if c.Results.Enabled && c.Results.Path == "" {
		return fmt.Errorf("results.path is required when results are enabled")
	}

	if _, err := zapcore.ParseLevel(c.Observability.Logging.Level); err != nil {
		return fmt.Errorf("observability.logging.level: %w", err)
	}

	return nil
}

// Engine converts the YAML settings to the prefetch engine's configuration.
// Zero values fall back to the engine defaults.
func (p PrefetchConfig) Engine() prefetch.Config {
	return prefetch.Config{
		InitialWindowBytes:     uint64(max(p.InitialWindow, 0)),
		MaxWindowBytes:         uint64(max(p.MaxWindow, 0)),
		PartSize:               uint64(max(p.PartSize, 0)),
		SequentialGrowthFactor: uint64(max(p.SequentialGrowthFactor, 0)),
		ReadWindowBytes:        uint64(max(p.ReadWindow, 0)),
		MaxForwardSeekBytes:    uint64(max(p.MaxForwardSeek, 0)),
		MaxBackwardSeekBytes:   uint64(max(p.MaxBackwardSeek, 0)),
	}
}

// Duration wraps time.Duration for YAML unmarshaling of strings like "5m", "24h".
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// ByteSize wraps int64 for YAML unmarshaling of strings like "256KB", "8MiB".
type ByteSize int64

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		// Try as integer
		var n int64
		if err2 := value.Decode(&n); err2 != nil {
			return err
		}
		*b = ByteSize(n)
		return nil
	}
	parsed, err := ParseByteSize(s)
	if err != nil {
		return err
	}
	*b = ByteSize(parsed)
	return nil
}

// ParseByteSize parses sizes like "512", "100B", "256KB", "8MiB" or "1GB".
// Units are binary.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if len(s) == 0 {
		return 0, fmt.Errorf("empty byte size")
	}

	var multiplier int64 = 1
	numStr := strings.TrimSuffix(s, "iB")
	if numStr != s {
		numStr += "B"
	}

	switch {
	case strings.HasSuffix(numStr, "KB"):
		multiplier = 1 << 10
		numStr = numStr[:len(numStr)-2]
	case strings.HasSuffix(numStr, "MB"):
		multiplier = 1 << 20
		numStr = numStr[:len(numStr)-2]
	case strings.HasSuffix(numStr, "GB"):
		multiplier = 1 << 30
		numStr = numStr[:len(numStr)-2]
	case strings.HasSuffix(numStr, "TB"):
		multiplier = 1 << 40
		numStr = numStr[:len(numStr)-2]
	case strings.HasSuffix(numStr, "B"):
		numStr = numStr[:len(numStr)-1]
	}

	var n int64
	_, err := fmt.Sscanf(numStr, "%d", &n)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return n * multiplier, nil
}
