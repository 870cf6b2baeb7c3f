package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gftdcojp/s3-prefetch/internal/bench"
	"github.com/gftdcojp/s3-prefetch/internal/config"
	"github.com/gftdcojp/s3-prefetch/internal/metrics"
	"github.com/gftdcojp/s3-prefetch/internal/results"
	"github.com/gftdcojp/s3-prefetch/pkg/natsobj"
	"github.com/gftdcojp/s3-prefetch/pkg/natsutil"
	"github.com/gftdcojp/s3-prefetch/pkg/prefetch"
	"github.com/gftdcojp/s3-prefetch/pkg/s3util"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

// objectClient is a prefetch client that can also resolve object metadata.
type objectClient interface {
	prefetch.Client
	Stat(ctx context.Context, bucket, key string) (uint64, prefetch.ETag, error)
}

type flags struct {
	configPath     string
	backend        string
	region         string
	partSize       uint64
	iterations     int
	throughputGbps float64
	readWindowMiB  int
	readSize       string
	concurrency    int
	poolSize       int
	showVersion    bool
}

func main() {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "path to configuration file (optional)")
	flag.StringVar(&f.backend, "backend", "", "object store backend: s3 or nats")
	flag.StringVar(&f.region, "region", "", "S3 region")
	flag.Uint64Var(&f.partSize, "part-size", 0, "maximum bytes per range GET")
	flag.IntVar(&f.iterations, "iterations", 0, "number of times to read the object")
	flag.Float64Var(&f.throughputGbps, "throughput-target-gbps", 0, "pace S3 body reads to this many Gbps")
	flag.IntVar(&f.readWindowMiB, "initial-read-window-size-mib", 0, "read window announced to the client per range GET, in MiB")
	flag.StringVar(&f.readSize, "read-size", "", "bytes requested per read, e.g. 256KB")
	flag.IntVar(&f.concurrency, "concurrency", 0, "concurrent readers of the object per iteration")
	flag.IntVar(&f.poolSize, "pool-size", 0, "bound concurrent range GETs per iteration (0: unbounded)")
	flag.BoolVar(&f.showVersion, "version", false, "show version")
	flag.Usage = printUsage
	flag.Parse()

	if f.showVersion {
		fmt.Printf("prefetch-bench %s\n", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) < 2 || len(args) > 4 {
		printUsage()
		os.Exit(2)
	}

	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Observability.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, args, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("benchmark failed", zap.Error(err))
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `prefetch-bench - read-ahead prefetch throughput benchmark

Usage:
  prefetch-bench [flags] <bucket> <key> [size] [etag]

Size and etag are looked up when omitted or given as "-".

Flags:`)
	flag.PrintDefaults()
}

// loadConfig reads the config file, if any, and applies the flags the user
// set on top of it.
func loadConfig(f flags) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	var flagErr error
	flag.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "backend":
			cfg.Backend = f.backend
		case "region":
			cfg.S3.Region = f.region
		case "part-size":
			cfg.Prefetch.PartSize = config.ByteSize(f.partSize)
		case "iterations":
			cfg.Bench.Iterations = f.iterations
		case "throughput-target-gbps":
			cfg.S3.ThroughputTargetGbps = f.throughputGbps
		case "initial-read-window-size-mib":
			cfg.Prefetch.ReadWindow = config.ByteSize(f.readWindowMiB) * config.ByteSize(prefetch.MiB)
		case "read-size":
			n, err := config.ParseByteSize(f.readSize)
			if err != nil {
				flagErr = fmt.Errorf("-read-size: %w", err)
				return
			}
			cfg.Bench.ReadSize = config.ByteSize(n)
		case "concurrency":
			cfg.Bench.Concurrency = f.concurrency
		case "pool-size":
			cfg.Bench.PoolSize = f.poolSize
		}
	})
	if flagErr != nil {
		return nil, flagErr
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func run(cfg *config.Config, args []string, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	target := bench.Target{Backend: cfg.Backend, Bucket: args[0], Key: args[1]}

	var (
		client   objectClient
		s3Client *s3util.Client
		nc       *nats.Conn
	)
	switch cfg.Backend {
	case config.BackendS3:
		c, err := s3util.NewClient(ctx, cfg.S3, logger)
		if err != nil {
			return fmt.Errorf("creating S3 client: %w", err)
		}
		s3Client, client = c, c
	case config.BackendNATS:
		conn, js, err := natsutil.ConnectJetStream(cfg.NATS, logger.Named("nats"))
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer conn.Close()
		nc = conn
		client = natsobj.New(js, int(cfg.NATS.ChunkSize), logger)
	}

	if err := resolveObject(ctx, client, &target, args[2:]); err != nil {
		return err
	}

	var store results.Store
	if cfg.Results.Enabled {
		s, err := results.NewBoltStore(cfg.Results.Path, cfg.Results.NoSync, logger.Named("results"))
		if err != nil {
			return fmt.Errorf("opening results store: %w", err)
		}
		defer s.Close()
		store = s
	}

	g, gctx := errgroup.WithContext(ctx)
	srvCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	if cfg.Observability.Metrics.Enabled {
		checker := metrics.NewHealthChecker(nc, store, s3Client, target.Bucket)
		g.Go(func() error { return metrics.RunServer(srvCtx, cfg.Observability, checker) })
	}

	runner := bench.NewRunner(client, target, cfg, store, os.Stdout, logger)
	g.Go(func() error {
		defer stopServer()
		_, err := runner.Run(gctx)
		return err
	})

	return g.Wait()
}

// resolveObject fills in size and etag from args, looking up whatever is
// missing or given as "-".
func resolveObject(ctx context.Context, client objectClient, target *bench.Target, args []string) error {
	haveSize := len(args) > 0 && args[0] != "-"
	haveETag := len(args) > 1 && args[1] != "-"

	if haveSize {
		size, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid size %q: %w", args[0], err)
		}
		target.Size = size
	}
	if haveETag {
		target.ETag = prefetch.ETag(args[1])
	}
	if haveSize && haveETag {
		return nil
	}

	size, etag, err := client.Stat(ctx, target.Bucket, target.Key)
	if err != nil {
		return fmt.Errorf("looking up %s/%s: %w", target.Bucket, target.Key, err)
	}
	if !haveSize {
		target.Size = size
	}
	if !haveETag {
		target.ETag = etag
	}
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zapCfg.Level.SetLevel(level)

	if cfg.Output != "" {
		zapCfg.OutputPaths = []string{cfg.Output}
	}
	return zapCfg.Build()
}
