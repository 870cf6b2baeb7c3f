package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gftdcojp/s3-prefetch/internal/results"
	"github.com/gftdcojp/s3-prefetch/pkg/s3util"
	"github.com/nats-io/nats.go"
)

// HealthStatus represents the overall health state.
type HealthStatus struct {
	OK     bool    `json:"ok"`
	Checks []Check `json:"checks,omitempty"`
}

// Check represents an individual health check.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthChecker runs health probes against the benchmark's dependencies.
// Nil dependencies are skipped.
type HealthChecker struct {
	natsConn *nats.Conn
	results  results.Store
	s3Client *s3util.Client
	s3Bucket string
}

// NewHealthChecker creates a new health checker.
func NewHealthChecker(nc *nats.Conn, store results.Store, s3Client *s3util.Client, bucket string) *HealthChecker {
	return &HealthChecker{
		natsConn: nc,
		results:  store,
		s3Client: s3Client,
		s3Bucket: bucket,
	}
}

// Liveness checks if the process is alive.
func (h *HealthChecker) Liveness() HealthStatus {
	return HealthStatus{OK: true}
}

// Readiness checks if the benchmark can reach its object store.
func (h *HealthChecker) Readiness() HealthStatus {
	status := HealthStatus{OK: true}

	if h.natsConn != nil {
		if !h.natsConn.IsConnected() {
			status.OK = false
			status.Checks = append(status.Checks, Check{
				Name: "nats", Status: "disconnected",
			})
		} else {
			status.Checks = append(status.Checks, Check{
				Name: "nats", Status: "connected",
			})
		}
	}

	if h.results != nil {
		if err := h.results.Ping(); err != nil {
			status.OK = false
			status.Checks = append(status.Checks, Check{
				Name: "results", Status: "error", Error: err.Error(),
			})
		} else {
			status.Checks = append(status.Checks, Check{
				Name: "results", Status: "ok",
			})
		}
	}

	if h.s3Client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.s3Client.Ping(ctx, h.s3Bucket); err != nil {
			status.OK = false
			status.Checks = append(status.Checks, Check{
				Name: "s3", Status: "error", Error: err.Error(),
			})
		} else {
			status.Checks = append(status.Checks, Check{
				Name: "s3", Status: "ok",
			})
		}
	}

	return status
}

func (h *HealthChecker) handle(probe func() HealthStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := probe()
		code := http.StatusOK
		if !status.OK {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(status)
	}
}
