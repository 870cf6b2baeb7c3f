package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gftdcojp/s3-prefetch/internal/config"
	"github.com/gftdcojp/s3-prefetch/internal/results"
	"github.com/gftdcojp/s3-prefetch/pkg/s3util"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

func startEmbeddedNATS(t *testing.T) (*server.Server, string) {
	t.Helper()
	tmpDir := t.TempDir()

	opts := &server.Options{
		Host:     "127.0.0.1",
		Port:     -1,
		NoLog:    true,
		NoSigs:   true,
		StoreDir: filepath.Join(tmpDir, "jetstream"),
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		t.Fatalf("failed to create nats-server: %v", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats-server failed to start")
	}

	t.Cleanup(func() { ns.Shutdown() })
	return ns, ns.ClientURL()
}

func newTestResults(t *testing.T) results.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "results.db")
	store, err := results.NewBoltStore(path, false, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestHealthChecker_Liveness(t *testing.T) {
	checker := NewHealthChecker(nil, nil, nil, "")
	status := checker.Liveness()
	if !status.OK {
		t.Fatal("liveness should always return OK=true")
	}
}

func TestHealthChecker_Readiness_AllOK(t *testing.T) {
	_, url := startEmbeddedNATS(t)
	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()

	store := newTestResults(t)
	checker := NewHealthChecker(nc, store, nil, "")

	status := checker.Readiness()
	if !status.OK {
		t.Fatalf("expected readiness OK=true, got checks: %+v", status.Checks)
	}

	// Verify individual checks
	found := map[string]bool{}
	for _, c := range status.Checks {
		found[c.Name] = true
		if c.Name == "nats" && c.Status != "connected" {
			t.Fatalf("expected nats connected, got %s", c.Status)
		}
		if c.Name == "results" && c.Status != "ok" {
			t.Fatalf("expected results ok, got %s", c.Status)
		}
	}
	if !found["nats"] {
		t.Error("nats check missing")
	}
	if !found["results"] {
		t.Error("results check missing")
	}
}

func TestHealthChecker_Readiness_NATSDown(t *testing.T) {
	ns, url := startEmbeddedNATS(t)
	nc, err := nats.Connect(url, nats.NoReconnect())
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()

	// Shut down the server to make the connection stale
	ns.Shutdown()
	time.Sleep(100 * time.Millisecond)

	checker := NewHealthChecker(nc, nil, nil, "")
	status := checker.Readiness()
	if status.OK {
		t.Fatal("expected readiness OK=false when NATS is down")
	}

	for _, c := range status.Checks {
		if c.Name == "nats" && c.Status != "disconnected" {
			t.Fatalf("expected nats disconnected, got %s", c.Status)
		}
	}
}

func TestHealthChecker_Readiness_ResultsError(t *testing.T) {
	store := newTestResults(t)
	// Close the store to make Ping fail
	store.Close()

	checker := NewHealthChecker(nil, store, nil, "")
	status := checker.Readiness()
	if status.OK {
		t.Fatal("expected readiness OK=false when results store is closed")
	}

	for _, c := range status.Checks {
		if c.Name == "results" {
			if c.Status != "error" {
				t.Fatalf("expected results error, got %s", c.Status)
			}
			if c.Error == "" {
				t.Fatal("expected error message for results check")
			}
		}
	}
}

func TestHealthChecker_Readiness_NilDeps(t *testing.T) {
	checker := NewHealthChecker(nil, nil, nil, "")
	// Should not panic
	status := checker.Readiness()
	if !status.OK {
		t.Fatal("expected readiness OK=true with nil dependencies (no checks fail)")
	}
}

func TestHealthServer_Endpoints(t *testing.T) {
	_, url := startEmbeddedNATS(t)
	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()

	store := newTestResults(t)
	checker := NewHealthChecker(nc, store, nil, "")

	cfg := config.DefaultConfig().Observability
	mux := NewMux(cfg, checker)

	// Test liveness
	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("liveness: expected 200, got %d", w.Code)
	}
	var liveResp HealthStatus
	json.Unmarshal(w.Body.Bytes(), &liveResp)
	if !liveResp.OK {
		t.Fatal("liveness response should have OK=true")
	}

	// Test readiness
	req = httptest.NewRequest("GET", "/readyz", nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("readiness: expected 200, got %d", w.Code)
	}
	var readyResp HealthStatus
	json.Unmarshal(w.Body.Bytes(), &readyResp)
	if !readyResp.OK {
		t.Fatalf("readiness response should have OK=true, checks: %+v", readyResp.Checks)
	}
}

type bucketAPI struct {
	s3util.API
	err error
}

func (b *bucketAPI) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &s3.HeadBucketOutput{}, nil
}

func TestHealthChecker_Readiness_S3(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		ok     bool
		status string
	}{
		{"bucket reachable", nil, true, "ok"},
		{"bucket unreachable", errors.New("connection refused"), false, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := s3util.NewFromAPI(&bucketAPI{err: tt.err}, config.DefaultConfig().S3, zap.NewNop())
			checker := NewHealthChecker(nil, nil, client, "bench")

			status := checker.Readiness()
			if status.OK != tt.ok {
				t.Fatalf("expected OK=%v, got checks: %+v", tt.ok, status.Checks)
			}
			if len(status.Checks) != 1 || status.Checks[0].Name != "s3" || status.Checks[0].Status != tt.status {
				t.Fatalf("unexpected checks: %+v", status.Checks)
			}
		})
	}
}
