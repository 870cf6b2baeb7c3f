package bench

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/gftdcojp/s3-prefetch/internal/config"
	"github.com/gftdcojp/s3-prefetch/internal/metrics"
	"github.com/gftdcojp/s3-prefetch/internal/results"
	"github.com/gftdcojp/s3-prefetch/pkg/prefetch"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Target is the object a benchmark reads.
type Target struct {
	Backend string
	Bucket  string
	Key     string
	Size    uint64
	ETag    prefetch.ETag
}

// Runner drives the prefetch engine over one object and reports throughput
// per iteration.
type Runner struct {
	client  prefetch.Client
	target  Target
	engine  prefetch.Config
	bench   config.BenchConfig
	retain  config.ResultsConfig
	results results.Store
	out     io.Writer
	logger  *zap.Logger
}

// NewRunner creates a runner. store may be nil to skip recording runs.
func NewRunner(client prefetch.Client, target Target, cfg *config.Config, store results.Store, out io.Writer, logger *zap.Logger) *Runner {
	return &Runner{
		client:  client,
		target:  target,
		engine:  cfg.Prefetch.Engine(),
		bench:   cfg.Bench,
		retain:  cfg.Results,
		results: store,
		out:     out,
		logger:  logger.Named("bench"),
	}
}

// Run executes every configured iteration. It stops at the first failed
// iteration; the failed run is still printed and recorded.
func (r *Runner) Run(ctx context.Context) ([]results.Run, error) {
	r.logger.Info("starting benchmark",
		zap.String("backend", r.target.Backend),
		zap.String("bucket", r.target.Bucket),
		zap.String("key", r.target.Key),
		zap.Uint64("size", r.target.Size),
		zap.Int("iterations", r.bench.Iterations),
		zap.Int("concurrency", r.bench.Concurrency),
	)

	var runs []results.Run
	for i := 0; i < r.bench.Iterations; i++ {
		run, err := r.iterate(ctx, i)
		r.report(ctx, &run)
		runs = append(runs, run)
		if err != nil {
			return runs, fmt.Errorf("iteration %d: %w", i, err)
		}
	}

	if r.results != nil && (r.retain.MaxAge > 0 || r.retain.MaxRuns > 0) {
		if _, err := r.results.Prune(ctx, r.retain.MaxAge.Duration(), r.retain.MaxRuns); err != nil {
			r.logger.Warn("pruning run history failed", zap.Error(err))
		}
	}
	return runs, nil
}

// iterate runs one iteration on a fresh executor and prefetcher.
func (r *Runner) iterate(ctx context.Context, i int) (results.Run, error) {
	if r.bench.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.bench.Timeout.Duration())
		defer cancel()
	}

	var exec prefetch.Executor = prefetch.GoExecutor{}
	if r.bench.PoolSize > 0 {
		exec = prefetch.NewPool(r.bench.PoolSize)
	}
	p := prefetch.New(exec, r.engine,
		prefetch.WithObserver(metrics.NewObserver(r.target.Backend)),
		prefetch.WithLogger(r.logger),
	)

	run := results.Run{
		Backend:       r.target.Backend,
		Bucket:        r.target.Bucket,
		Key:           r.target.Key,
		Size:          r.target.Size,
		ETag:          string(r.target.ETag),
		Iteration:     i,
		PartSize:      p.Config().PartSize,
		InitialWindow: p.Config().InitialWindowBytes,
		MaxWindow:     p.Config().MaxWindowBytes,
		ReadWindow:    p.Config().ReadWindowBytes,
		ReadSize:      uint64(r.bench.ReadSize),
		Concurrency:   r.bench.Concurrency,
		StartedAt:     time.Now(),
	}

	var received atomic.Uint64
	g, gctx := errgroup.WithContext(ctx)
	for j := 0; j < r.bench.Concurrency; j++ {
		g.Go(func() error {
			req := p.Prefetch(r.client, r.target.Bucket, r.target.Key, r.target.Size, r.target.ETag)
			defer req.Close()
			return drain(gctx, req, int(r.bench.ReadSize), &received)
		})
	}
	err := g.Wait()

	run.Duration = time.Since(run.StartedAt)
	run.Bytes = received.Load()
	run.Gbps = Gbps(run.Bytes, run.Duration)
	if err != nil {
		run.Error = err.Error()
	}
	return run, err
}

// drain reads the whole object sequentially in readSize strides.
func drain(ctx context.Context, req *prefetch.Request, readSize int, received *atomic.Uint64) error {
	size := req.Object().Size
	var offset uint64
	for offset < size {
		data, err := req.Read(ctx, offset, readSize)
		if err != nil {
			return fmt.Errorf("read at offset %d: %w", offset, err)
		}
		if len(data) == 0 {
			return fmt.Errorf("read at offset %d: %w", offset, io.ErrUnexpectedEOF)
		}
		offset += uint64(len(data))
		received.Add(uint64(len(data)))
	}
	return nil
}

// report prints, exports and records an iteration.
func (r *Runner) report(ctx context.Context, run *results.Run) {
	fmt.Fprintf(r.out, "%d: received %d bytes in %.2fs: %.2fGbps\n",
		run.Iteration, run.Bytes, run.Duration.Seconds(), run.Gbps)

	status := "ok"
	if !run.OK() {
		status = "error"
		r.logger.Error("iteration failed", zap.Int("iteration", run.Iteration), zap.String("error", run.Error))
	}
	metrics.BenchIterations.WithLabelValues(r.target.Backend, status).Inc()
	metrics.BenchIterationDuration.WithLabelValues(r.target.Backend).Observe(run.Duration.Seconds())
	metrics.BenchThroughput.WithLabelValues(r.target.Backend).Set(run.Gbps)

	if r.results == nil {
		return
	}
	// Interrupted iterations are still kept.
	id, err := r.results.Record(context.WithoutCancel(ctx), *run)
	if err != nil {
		r.logger.Warn("recording run failed", zap.Error(err))
		return
	}
	run.ID = id
}

// Gbps converts a byte count over a duration to gigabits per second, where a
// gigabit is 2^30 bits.
func Gbps(bytes uint64, d time.Duration) float64 {
	secs := d.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(bytes) * 8 / secs / (1 << 30)
}
