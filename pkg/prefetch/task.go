package prefetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

type taskStatus int

const (
	taskPending taskStatus = iota
	taskDelivering
	taskComplete
	taskFailed
)

func (s taskStatus) String() string {
	switch s {
	case taskPending:
		return "pending"
	case taskDelivering:
		return "delivering"
	case taskComplete:
		return "complete"
	case taskFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// fetchTask owns one range GET. Its goroutine publishes chunks; the request's
// consumer takes them with next. Both sides synchronize on mu, and the
// consumer is woken by closing notify.
type fetchTask struct {
	rng        Range
	obj        ObjectIdentity
	client     Client
	readWindow uint64
	obs        Observer
	logger     *zap.Logger
	onFatal    func(*Error)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	status    taskStatus
	segs      [][]byte
	delivered uint64 // absolute offset of the next byte from the client
	consumed  uint64 // absolute offset of the next byte for the consumer
	windowEnd uint64 // absolute offset up to which the client may deliver
	stream    GetStream
	err       error
	notify    chan struct{}
}

func newFetchTask(parent context.Context, rng Range, r *Request) *fetchTask {
	ctx, cancel := context.WithCancel(parent)
	window := min(rng.Len(), r.cfg.ReadWindowBytes)
	return &fetchTask{
		rng:        rng,
		obj:        r.obj,
		client:     r.client,
		readWindow: r.cfg.ReadWindowBytes,
		obs:        r.obs,
		logger:     r.logger,
		onFatal:    r.setPoison,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		delivered:  rng.Start,
		consumed:   rng.Start,
		windowEnd:  rng.Start + window,
		notify:     make(chan struct{}),
	}
}

func (t *fetchTask) run(ctx context.Context) {
	defer close(t.done)
	t.obs.FetchStarted(t.rng)

	if err := ctx.Err(); err != nil {
		t.finish(t.newError(ErrRangeFetch, err))
		return
	}

	t.mu.Lock()
	announced := t.windowEnd
	t.mu.Unlock()

	stream, err := t.client.GetObjectRange(ctx, t.obj.Bucket, t.obj.Key, t.rng, GetOptions{
		ETag:   t.obj.ETag,
		Window: announced - t.rng.Start,
	})
	if err != nil {
		t.finish(t.newError(kindOf(err), err))
		return
	}
	defer stream.Close()

	t.mu.Lock()
	if t.status == taskPending {
		t.status = taskDelivering
	}
	t.stream = stream
	pending := t.windowEnd - announced
	t.mu.Unlock()

	if pending > 0 {
		t.grow(stream, pending)
	}

	for {
		chunk, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			if t.delivered < t.rng.End {
				t.finish(t.newError(ErrRangeFetch,
					fmt.Errorf("stream ended at offset %d: %w", t.delivered, io.ErrUnexpectedEOF)))
				return
			}
			t.finish(nil)
			return
		}
		if err != nil {
			t.finish(t.newError(kindOf(err), err))
			return
		}
		if err := t.deliver(chunk); err != nil {
			t.finish(err)
			return
		}
	}
}

// deliver validates a chunk and publishes it to the consumer.
func (t *fetchTask) deliver(c Chunk) error {
	if len(c.Data) == 0 {
		return nil
	}
	n := uint64(len(c.Data))
	if c.Offset != t.delivered {
		return t.newError(ErrRangeFetch, fmt.Errorf("chunk at offset %d, expected %d", c.Offset, t.delivered))
	}
	if t.delivered+n > t.rng.End {
		return t.newError(ErrRangeFetch, fmt.Errorf("chunk [%d, %d) overruns range", c.Offset, c.Offset+n))
	}
	if c.ETag != "" && t.obj.ETag != "" && !c.ETag.Equal(t.obj.ETag) {
		return t.newError(ErrIntegrity, fmt.Errorf("server reported etag %s, expected %s", c.ETag, t.obj.ETag))
	}
	if c.ObjectSize != 0 && c.ObjectSize != t.obj.Size {
		return t.newError(ErrInvalidOffset, fmt.Errorf("server reported size %d, expected %d", c.ObjectSize, t.obj.Size))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.delivered+n > t.windowEnd {
		return t.newError(ErrBackpressureProtocol,
			fmt.Errorf("chunk end %d past granted window %d", t.delivered+n, t.windowEnd))
	}
	if t.status != taskDelivering {
		return nil
	}
	t.segs = append(t.segs, c.Data)
	t.delivered += n
	t.wakeLocked()
	return nil
}

// finish moves the task to a terminal state. Only the first call has effect.
func (t *fetchTask) finish(err error) {
	t.mu.Lock()
	if t.status == taskComplete || t.status == taskFailed {
		t.mu.Unlock()
		return
	}
	if err == nil {
		t.status = taskComplete
	} else {
		t.status = taskFailed
		t.err = err
	}
	delivered := t.delivered - t.rng.Start
	t.wakeLocked()
	t.mu.Unlock()

	t.obs.FetchFinished(t.rng, delivered, err)
	if err == nil {
		t.logger.Debug("range fetch complete", zap.Stringer("range", t.rng))
		return
	}

	var pe *Error
	if errors.As(err, &pe) && pe.Fatal() {
		t.logger.Warn("range fetch failed, request poisoned", zap.Stringer("range", t.rng), zap.Error(err))
		t.onFatal(pe)
		return
	}
	if t.ctx.Err() == nil {
		t.logger.Debug("range fetch failed", zap.Stringer("range", t.rng), zap.Error(err))
	}
}

// next returns up to max bytes of delivered data, blocking until some are
// available. It returns io.EOF once the whole range has been consumed.
func (t *fetchTask) next(ctx context.Context, max uint64) ([]byte, error) {
	for {
		t.mu.Lock()
		if len(t.segs) > 0 {
			head := t.segs[0]
			n := min(uint64(len(head)), max)
			data := head[:n:n]
			if n == uint64(len(head)) {
				t.segs[0] = nil
				t.segs = t.segs[1:]
			} else {
				t.segs[0] = head[n:]
			}
			t.consumed += n
			delta := t.nextGrowthLocked()
			stream := t.stream
			t.mu.Unlock()

			if delta > 0 && stream != nil {
				t.grow(stream, delta)
			}
			return data, nil
		}
		if t.err != nil {
			err := t.err
			t.mu.Unlock()
			return nil, err
		}
		if t.status == taskComplete {
			t.mu.Unlock()
			return nil, io.EOF
		}
		wait := t.notify
		t.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// nextGrowthLocked extends the granted window once less than half a read
// window remains unconsumed.
func (t *fetchTask) nextGrowthLocked() uint64 {
	if t.windowEnd >= t.rng.End {
		return 0
	}
	if t.windowEnd-t.consumed > t.readWindow/2 {
		return 0
	}
	target := min(t.consumed+t.readWindow, t.rng.End)
	if target <= t.windowEnd {
		return 0
	}
	delta := target - t.windowEnd
	t.windowEnd = target
	return delta
}

func (t *fetchTask) grow(stream GetStream, delta uint64) {
	if err := stream.GrowWindow(delta); err != nil {
		t.finish(t.newError(ErrBackpressureProtocol, err))
		t.cancel()
		return
	}
	t.obs.WindowGrown(t.rng, delta)
}

// discard cancels the task and drops its buffered bytes.
func (t *fetchTask) discard() {
	t.cancel()
	t.mu.Lock()
	t.segs = nil
	t.mu.Unlock()
}

func (t *fetchTask) state() taskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *fetchTask) wakeLocked() {
	close(t.notify)
	t.notify = make(chan struct{})
}

func (t *fetchTask) newError(kind, err error) *Error {
	return &Error{Kind: kind, Bucket: t.obj.Bucket, Key: t.obj.Key, Range: t.rng, Err: err}
}
