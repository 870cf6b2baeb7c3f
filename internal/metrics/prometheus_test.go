package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gftdcojp/s3-prefetch/internal/config"
	"github.com/gftdcojp/s3-prefetch/pkg/prefetch"
)

func TestMetricsServer_MetricsEndpoint(t *testing.T) {
	// Vec metrics only show up after WithLabelValues() is called.
	WindowsPlanned.WithLabelValues("test").Add(0)
	WindowSize.WithLabelValues("test").Observe(0)
	RangeFetches.WithLabelValues("test", "ok").Add(0)
	RangeFetchBytes.WithLabelValues("test").Add(0)
	FetchesInFlight.WithLabelValues("test").Set(0)
	WindowGrowthBytes.WithLabelValues("test").Add(0)
	BytesServed.WithLabelValues("test").Add(0)
	Seeks.WithLabelValues("test", "forward").Add(0)
	BenchThroughput.WithLabelValues("test").Set(0)
	BenchIterationDuration.WithLabelValues("test").Observe(0)
	BenchIterations.WithLabelValues("test", "ok").Add(0)

	cfg := config.DefaultConfig().Observability
	mux := NewMux(cfg, nil)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	body := w.Body.String()
	expectedMetrics := []string{
		"prefetch_windows_planned_total",
		"prefetch_window_size_bytes",
		"prefetch_range_fetches_total",
		"prefetch_range_fetch_bytes_total",
		"prefetch_fetches_in_flight",
		"prefetch_read_window_growth_bytes_total",
		"prefetch_bytes_served_total",
		"prefetch_seeks_total",
		"prefetch_bench_throughput_gbps",
		"prefetch_bench_iteration_duration_seconds",
		"prefetch_bench_iterations_total",
	}
	for _, name := range expectedMetrics {
		if !strings.Contains(body, name) {
			t.Errorf("expected /metrics to contain %q", name)
		}
	}

	ct := w.Header().Get("Content-Type")
	if !strings.Contains(ct, "text/plain") && !strings.Contains(ct, "text/openmetrics") {
		t.Errorf("expected text/plain or openmetrics content type, got %s", ct)
	}

	// Health endpoints are only mounted with a checker.
	req = httptest.NewRequest("GET", "/healthz", nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without checker, got %d", w.Code)
	}
}

func scrape(t *testing.T) string {
	t.Helper()
	mux := NewMux(config.DefaultConfig().Observability, nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	return w.Body.String()
}

func TestObserverRecordsEvents(t *testing.T) {
	obs := NewObserver("observer-test")
	rng := prefetch.Range{Start: 0, End: 1024}

	obs.WindowPlanned(prefetch.WindowPlan{Range: rng, Window: 1024, Parts: []prefetch.Range{rng}})
	obs.FetchStarted(rng)
	if body := scrape(t); !strings.Contains(body, `prefetch_fetches_in_flight{backend="observer-test"} 1`) {
		t.Fatal("expected one fetch in flight")
	}
	obs.WindowGrown(rng, 512)
	obs.FetchFinished(rng, 1024, nil)
	obs.ReadServed(0, 1024)
	obs.Seek(1024, 0)
	obs.Seek(0, 4096)

	body := scrape(t)
	want := []string{
		`prefetch_windows_planned_total{backend="observer-test"} 1`,
		`prefetch_fetches_in_flight{backend="observer-test"} 0`,
		`prefetch_range_fetches_total{backend="observer-test",outcome="ok"} 1`,
		`prefetch_range_fetch_bytes_total{backend="observer-test"} 1024`,
		`prefetch_read_window_growth_bytes_total{backend="observer-test"} 512`,
		`prefetch_bytes_served_total{backend="observer-test"} 1024`,
		`prefetch_seeks_total{backend="observer-test",direction="backward"} 1`,
		`prefetch_seeks_total{backend="observer-test",direction="forward"} 1`,
	}
	for _, line := range want {
		if !strings.Contains(body, line+"\n") {
			t.Errorf("expected /metrics to contain %q", line)
		}
	}
}

func TestOutcome(t *testing.T) {
	rng := prefetch.Range{Start: 0, End: 10}
	wrap := func(kind error) error {
		return &prefetch.Error{Kind: kind, Bucket: "b", Key: "k", Range: rng, Err: errors.New("boom")}
	}
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("open: %w", context.Canceled), "canceled"},
		{wrap(prefetch.ErrIntegrity), "integrity"},
		{wrap(prefetch.ErrInvalidOffset), "invalid_offset"},
		{wrap(prefetch.ErrBackpressureProtocol), "backpressure"},
		{wrap(prefetch.ErrRangeFetch), "error"},
	}
	for _, tt := range tests {
		if got := Outcome(tt.err); got != tt.want {
			t.Errorf("Outcome(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
