package bench

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gftdcojp/s3-prefetch/internal/config"
	"github.com/gftdcojp/s3-prefetch/internal/results"
	"github.com/gftdcojp/s3-prefetch/pkg/prefetch"
	"github.com/gftdcojp/s3-prefetch/pkg/prefetch/prefetchtest"
	"go.uber.org/zap"
)

const objectSize = 1_000_000

func newTestResults(t *testing.T) *results.BoltStore {
	t.Helper()
	store, err := results.NewBoltStore(filepath.Join(t.TempDir(), "results.db"), false, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testTarget(etag prefetch.ETag) Target {
	return Target{Backend: "memory", Bucket: "bench", Key: "blob", Size: objectSize, ETag: etag}
}

func TestRunnerReadsWholeObject(t *testing.T) {
	tests := []struct {
		name        string
		concurrency int
		poolSize    int
	}{
		{"single reader", 1, 0},
		{"concurrent readers", 3, 0},
		{"concurrent readers on a pool", 3, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := prefetchtest.NewMemoryClient(prefetchtest.Data(objectSize), "e1")
			cfg := config.DefaultConfig()
			cfg.Bench.Iterations = 2
			cfg.Bench.Concurrency = tt.concurrency
			cfg.Bench.PoolSize = tt.poolSize
			cfg.Bench.Timeout = config.Duration(30 * time.Second)
			store := newTestResults(t)
			var out bytes.Buffer

			runs, err := NewRunner(client, testTarget("e1"), cfg, store, &out, zap.NewNop()).Run(context.Background())
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}
			if len(runs) != 2 {
				t.Fatalf("expected 2 runs, got %d", len(runs))
			}
			want := uint64(objectSize * tt.concurrency)
			for i, run := range runs {
				if !run.OK() {
					t.Errorf("run %d failed: %s", i, run.Error)
				}
				if run.Bytes != want {
					t.Errorf("run %d received %d bytes, want %d", i, run.Bytes, want)
				}
				if run.ID == 0 {
					t.Errorf("run %d was not recorded", i)
				}
				if run.ReadSize != 256*1024 || run.Concurrency != tt.concurrency {
					t.Errorf("run %d has unexpected settings: %+v", i, run)
				}
			}

			lines := strings.Split(strings.TrimSpace(out.String()), "\n")
			if len(lines) != 2 {
				t.Fatalf("expected 2 output lines, got %q", out.String())
			}
			for i, line := range lines {
				prefix := fmt.Sprintf("%d: received %d bytes in ", i, want)
				if !strings.HasPrefix(line, prefix) || !strings.HasSuffix(line, "Gbps") {
					t.Errorf("unexpected output line %q", line)
				}
			}

			stored, err := store.List(context.Background(), 0)
			if err != nil {
				t.Fatal(err)
			}
			if len(stored) != 2 {
				t.Fatalf("expected 2 stored runs, got %d", len(stored))
			}
			if client.Opens() != client.Closes() {
				t.Errorf("opens %d != closes %d", client.Opens(), client.Closes())
			}
		})
	}
}

func TestRunnerStopsOnFailure(t *testing.T) {
	client := prefetchtest.NewMemoryClient(prefetchtest.Data(objectSize), "e2")
	cfg := config.DefaultConfig()
	cfg.Bench.Iterations = 3
	store := newTestResults(t)
	var out bytes.Buffer

	runs, err := NewRunner(client, testTarget("e1"), cfg, store, &out, zap.NewNop()).Run(context.Background())
	if !errors.Is(err, prefetch.ErrIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected the first iteration only, got %d runs", len(runs))
	}
	if runs[0].OK() {
		t.Fatal("failed run should carry its error")
	}
	if !strings.HasPrefix(out.String(), "0: received 0 bytes in ") {
		t.Errorf("unexpected output %q", out.String())
	}

	stored, err := store.Get(context.Background(), runs[0].ID)
	if err != nil {
		t.Fatalf("failed run not recorded: %v", err)
	}
	if stored.Error == "" {
		t.Error("stored run lost its error")
	}
}

func TestRunnerPrunesHistory(t *testing.T) {
	client := prefetchtest.NewMemoryClient(prefetchtest.Data(objectSize), "e1")
	cfg := config.DefaultConfig()
	cfg.Bench.Iterations = 4
	cfg.Results.MaxRuns = 2
	store := newTestResults(t)
	var out bytes.Buffer

	if _, err := NewRunner(client, testTarget("e1"), cfg, store, &out, zap.NewNop()).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	stored, err := store.List(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected 2 runs after pruning, got %d", len(stored))
	}
	if stored[0].Iteration != 3 || stored[1].Iteration != 2 {
		t.Errorf("expected the newest runs to survive, got iterations %d and %d", stored[0].Iteration, stored[1].Iteration)
	}
}

func TestRunnerWithoutResults(t *testing.T) {
	client := prefetchtest.NewMemoryClient(prefetchtest.Data(objectSize), "e1")
	var out bytes.Buffer

	runs, err := NewRunner(client, testTarget(""), config.DefaultConfig(), nil, &out, zap.NewNop()).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != 0 {
		t.Fatalf("unexpected runs: %+v", runs)
	}
}

func TestGbps(t *testing.T) {
	tests := []struct {
		bytes uint64
		d     time.Duration
		want  float64
	}{
		{1 << 30, 8 * time.Second, 1},
		{1 << 30, time.Second, 8},
		{1 << 20, 0, 0},
	}
	for _, tt := range tests {
		if got := Gbps(tt.bytes, tt.d); got != tt.want {
			t.Errorf("Gbps(%d, %v) = %v, want %v", tt.bytes, tt.d, got, tt.want)
		}
	}
}
