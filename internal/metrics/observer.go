package metrics

import (
	"context"
	"errors"

	"github.com/gftdcojp/s3-prefetch/pkg/prefetch"
)

// Observer exports prefetch engine events as Prometheus metrics labeled
// with the backend name.
type Observer struct {
	backend string
}

var _ prefetch.Observer = (*Observer)(nil)

// NewObserver creates an observer for the given backend ("s3", "nats").
func NewObserver(backend string) *Observer {
	return &Observer{backend: backend}
}

func (o *Observer) WindowPlanned(plan prefetch.WindowPlan) {
	WindowsPlanned.WithLabelValues(o.backend).Inc()
	WindowSize.WithLabelValues(o.backend).Observe(float64(plan.Window))
}

func (o *Observer) FetchStarted(prefetch.Range) {
	FetchesInFlight.WithLabelValues(o.backend).Inc()
}

func (o *Observer) FetchFinished(_ prefetch.Range, delivered uint64, err error) {
	FetchesInFlight.WithLabelValues(o.backend).Dec()
	RangeFetches.WithLabelValues(o.backend, Outcome(err)).Inc()
	RangeFetchBytes.WithLabelValues(o.backend).Add(float64(delivered))
}

func (o *Observer) WindowGrown(_ prefetch.Range, delta uint64) {
	WindowGrowthBytes.WithLabelValues(o.backend).Add(float64(delta))
}

func (o *Observer) ReadServed(_ uint64, n int) {
	BytesServed.WithLabelValues(o.backend).Add(float64(n))
}

func (o *Observer) Seek(from, to uint64) {
	direction := "forward"
	if to < from {
		direction = "backward"
	}
	Seeks.WithLabelValues(o.backend, direction).Inc()
}

// Outcome classifies a fetch result for the outcome label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, prefetch.ErrIntegrity):
		return "integrity"
	case errors.Is(err, prefetch.ErrInvalidOffset):
		return "invalid_offset"
	case errors.Is(err, prefetch.ErrBackpressureProtocol):
		return "backpressure"
	default:
		return "error"
	}
}
