package prefetchtest

import (
	"sync"

	"github.com/gftdcojp/s3-prefetch/pkg/prefetch"
)

// SeekEvent is one recorded seek.
type SeekEvent struct {
	From, To uint64
}

// Recorder is a prefetch.Observer that keeps every event for inspection.
type Recorder struct {
	mu       sync.Mutex
	plans    []prefetch.WindowPlan
	seeks    []SeekEvent
	started  int
	finished int
	failed   []error
	grown    uint64
	served   uint64
}

var _ prefetch.Observer = (*Recorder)(nil)

func (r *Recorder) WindowPlanned(plan prefetch.WindowPlan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans = append(r.plans, plan)
}

func (r *Recorder) FetchStarted(prefetch.Range) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func (r *Recorder) FetchFinished(_ prefetch.Range, _ uint64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished++
	if err != nil {
		r.failed = append(r.failed, err)
	}
}

func (r *Recorder) WindowGrown(_ prefetch.Range, delta uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.grown += delta
}

func (r *Recorder) ReadServed(_ uint64, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.served += uint64(n)
}

func (r *Recorder) Seek(from, to uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seeks = append(r.seeks, SeekEvent{From: from, To: to})
}

// Windows returns the window size of every plan, in order.
func (r *Recorder) Windows() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, len(r.plans))
	for i, p := range r.plans {
		out[i] = p.Window
	}
	return out
}

// Plans returns every recorded plan.
func (r *Recorder) Plans() []prefetch.WindowPlan {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]prefetch.WindowPlan(nil), r.plans...)
}

// Seeks returns every recorded seek.
func (r *Recorder) Seeks() []SeekEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SeekEvent(nil), r.seeks...)
}

// Fetches returns the number of started and finished fetches.
func (r *Recorder) Fetches() (started, finished int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started, r.finished
}

// Failures returns the errors of failed fetches.
func (r *Recorder) Failures() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.failed...)
}

// Served returns the total bytes returned to the consumer.
func (r *Recorder) Served() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.served
}

// Grown returns the total bytes of window growth accepted by clients.
func (r *Recorder) Grown() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.grown
}

// Data returns n bytes of deterministic test content.
func Data(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}
