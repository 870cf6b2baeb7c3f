package config

import "time"

func DefaultConfig() *Config {
	return &Config{
		Backend: BackendS3,
		S3: S3Config{
			Region:    "us-east-1",
			ChunkSize: ByteSize(256 * 1024),
		},
		NATS: NATSConfig{
			URL:            "nats://localhost:4222",
			ConnectionName: "prefetch-bench",
			MaxReconnects:  -1,
			ReconnectWait:  Duration(2 * time.Second),
			ChunkSize:      ByteSize(128 * 1024),
		},
		Prefetch: PrefetchConfig{
			InitialWindow:          ByteSize(256 * 1024),
			MaxWindow:              ByteSize(64 * 1024 * 1024),
			PartSize:               ByteSize(8 * 1024 * 1024), // 8MB
			SequentialGrowthFactor: 8,
			ReadWindow:             ByteSize(8 * 1024 * 1024),
			MaxForwardSeek:         ByteSize(16 * 1024 * 1024),
			MaxBackwardSeek:        ByteSize(1024 * 1024),
		},
		Bench: BenchConfig{
			Iterations:  1,
			ReadSize:    ByteSize(256 * 1024),
			Concurrency: 1,
		},
		Results: ResultsConfig{
			Enabled: false,
			Path:    "prefetch-results.db",
			MaxRuns: 1000,
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: false,
				Listen:  ":9090",
				Path:    "/metrics",
			},
			Health: HealthConfig{
				Enabled:       true,
				LivenessPath:  "/healthz",
				ReadinessPath: "/readyz",
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "console",
				Output: "stderr",
			},
		},
	}
}
