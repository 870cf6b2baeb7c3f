package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/gftdcojp/s3-prefetch/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Planner metrics
	WindowsPlanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prefetch_windows_planned_total",
		Help: "Read-ahead windows planned",
	}, []string{"backend"})

	WindowSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "prefetch_window_size_bytes",
		Help:    "Size of planned read-ahead windows before clipping",
		Buckets: prometheus.ExponentialBuckets(64*1024, 2, 12),
	}, []string{"backend"})

	// Fetch metrics
	RangeFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prefetch_range_fetches_total",
		Help: "Range GETs by outcome",
	}, []string{"backend", "outcome"})

	RangeFetchBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prefetch_range_fetch_bytes_total",
		Help: "Bytes delivered by range GETs",
	}, []string{"backend"})

	FetchesInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "prefetch_fetches_in_flight",
		Help: "Range GETs started and not yet finished",
	}, []string{"backend"})

	WindowGrowthBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prefetch_read_window_growth_bytes_total",
		Help: "Bytes of read window granted to clients after the initial window",
	}, []string{"backend"})

	// Consumer metrics
	BytesServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prefetch_bytes_served_total",
		Help: "Bytes returned to readers",
	}, []string{"backend"})

	Seeks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prefetch_seeks_total",
		Help: "Non-sequential reads by direction",
	}, []string{"backend", "direction"})

	// Benchmark metrics
	BenchThroughput = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "prefetch_bench_throughput_gbps",
		Help: "Throughput of the last benchmark iteration",
	}, []string{"backend"})

	BenchIterationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "prefetch_bench_iteration_duration_seconds",
		Help:    "Wall time of benchmark iterations",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"backend"})

	BenchIterations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prefetch_bench_iterations_total",
		Help: "Benchmark iterations by status",
	}, []string{"backend", "status"})
)

// NewMux builds the HTTP handler serving metrics and, when checker is set,
// the liveness and readiness probes.
func NewMux(cfg config.ObservabilityConfig, checker *HealthChecker) *http.ServeMux {
	mux := http.NewServeMux()
	path := cfg.Metrics.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, promhttp.Handler())

	if checker != nil && cfg.Health.Enabled {
		livenessPath := cfg.Health.LivenessPath
		if livenessPath == "" {
			livenessPath = "/healthz"
		}
		readinessPath := cfg.Health.ReadinessPath
		if readinessPath == "" {
			readinessPath = "/readyz"
		}
		mux.HandleFunc(livenessPath, checker.handle(checker.Liveness))
		mux.HandleFunc(readinessPath, checker.handle(checker.Readiness))
	}
	return mux
}

// RunServer serves NewMux on cfg.Metrics.Listen until ctx is done.
func RunServer(ctx context.Context, cfg config.ObservabilityConfig, checker *HealthChecker) error {
	srv := &http.Server{
		Addr:    cfg.Metrics.Listen,
		Handler: NewMux(cfg, checker),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
