package prefetch

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Request is one streaming read session over an object. Reads are
// serialized; fetch tasks run concurrently on the Prefetcher's executor.
//
// The bytes available to the consumer, starting at offset, are laid out as:
// replay segments, then the remaining bytes of each task in order, up to
// planEnd. Nothing beyond planEnd has been requested.
type Request struct {
	obj    ObjectIdentity
	client Client
	cfg    Config
	exec   Executor
	obs    Observer
	logger *zap.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	poison    atomic.Pointer[Error]

	mu         sync.Mutex
	closed     bool
	offset     uint64
	planEnd    uint64
	windowSize uint64
	sequential bool
	tasks      []*fetchTask
	replay     [][]byte
	seekWin    seekWindow
}

func newRequest(p *Prefetcher, client Client, obj ObjectIdentity) *Request {
	ctx, cancel := context.WithCancel(context.Background())
	return &Request{
		obj:    obj,
		client: client,
		cfg:    p.cfg,
		exec:   p.exec,
		obs:    p.obs,
		logger: p.logger.With(zap.String("bucket", obj.Bucket), zap.String("key", obj.Key)),
		ctx:    ctx,
		cancel: cancel,
		seekWin: seekWindow{
			max: p.cfg.MaxBackwardSeekBytes,
		},
	}
}

// Object returns the identity the request was created with.
func (r *Request) Object() ObjectIdentity { return r.obj }

// Offset returns the position the next sequential read is expected at.
func (r *Request) Offset() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offset
}

// WindowSize returns the lookahead window the planner will grow from.
func (r *Request) WindowSize() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.windowSize
}

// Read returns up to length bytes starting at offset. Fewer bytes are
// returned only at the end of the object, and a read at or past the end
// returns no bytes and no error.
//
// The returned slice may share memory with the request's buffers and must
// not be modified.
func (r *Request) Read(ctx context.Context, offset uint64, length int) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if err := r.poisoned(); err != nil {
		return nil, err
	}
	if offset >= r.obj.Size || length <= 0 {
		return nil, nil
	}
	n := min(uint64(length), r.obj.Size-offset)

	if offset != r.offset {
		if err := r.seek(ctx, offset); err != nil {
			return nil, err
		}
	}

	segs, err := r.fill(ctx, n)
	if err != nil {
		r.replay = append(segs, r.replay...)
		return nil, r.fail(err)
	}
	for _, s := range segs {
		r.seekWin.push(s)
	}
	r.offset += n
	r.obs.ReadServed(offset, int(n))

	if r.offset == r.obj.Size {
		r.discardTasks()
	} else {
		r.readAhead()
	}
	return join(segs, n), nil
}

// Close cancels all outstanding fetches, waits for them to release their
// client streams, and drops buffered data. It is safe to call more than once.
func (r *Request) Close() error {
	r.closeOnce.Do(func() {
		r.cancel()
		r.mu.Lock()
		r.closed = true
		r.discardTasks()
		r.replay = nil
		r.seekWin.clear()
		r.mu.Unlock()
		r.wg.Wait()
		r.logger.Debug("prefetch request closed")
	})
	return nil
}

// fill collects exactly n bytes from the current offset.
func (r *Request) fill(ctx context.Context, n uint64) ([][]byte, error) {
	var segs [][]byte
	for n > 0 {
		if err := r.poisoned(); err != nil {
			return segs, err
		}
		if len(r.replay) > 0 {
			seg := r.takeReplay(n)
			segs = append(segs, seg)
			n -= uint64(len(seg))
			continue
		}
		if len(r.tasks) == 0 {
			r.plan()
		}
		t := r.tasks[0]
		data, err := t.next(ctx, n)
		if errors.Is(err, io.EOF) {
			r.popTask()
			continue
		}
		if err != nil {
			return segs, err
		}
		segs = append(segs, data)
		n -= uint64(len(data))
	}
	return segs, nil
}

// seek repositions the consumer at target. Data already buffered around the
// target is kept; the window restarts from its initial size either way.
func (r *Request) seek(ctx context.Context, target uint64) error {
	from := r.offset
	r.obs.Seek(from, target)
	r.sequential = false
	r.windowSize = r.cfg.InitialWindowBytes

	if target < from {
		if back := from - target; back <= r.seekWin.len() {
			r.replay = append(r.seekWin.readBack(back), r.replay...)
			r.offset = target
			r.logger.Debug("backward seek served from retained data",
				zap.Uint64("from", from), zap.Uint64("to", target))
			return nil
		}
		r.reset(target)
		return nil
	}

	if target < r.planEnd && target-from <= r.cfg.MaxForwardSeekBytes {
		err := r.skip(ctx, target-from)
		if err == nil {
			return nil
		}
		var pe *Error
		if !errors.As(err, &pe) {
			return err
		}
		if pe.Fatal() {
			return r.fail(err)
		}
	}
	r.reset(target)
	return nil
}

// skip advances the consumer by n bytes without returning them. Tasks that
// end before the target are dropped without waiting for their data.
func (r *Request) skip(ctx context.Context, n uint64) error {
	for n > 0 {
		if len(r.replay) > 0 {
			seg := r.takeReplay(n)
			r.seekWin.push(seg)
			r.offset += uint64(len(seg))
			n -= uint64(len(seg))
			continue
		}
		if len(r.tasks) == 0 {
			r.reset(r.offset + n)
			return nil
		}
		t := r.tasks[0]
		if t.rng.End <= r.offset+n {
			skipped := t.rng.End - r.offset
			r.popTask()
			r.seekWin.clear()
			r.offset += skipped
			n -= skipped
			continue
		}
		data, err := t.next(ctx, n)
		if errors.Is(err, io.EOF) {
			r.popTask()
			continue
		}
		if err != nil {
			return err
		}
		r.seekWin.push(data)
		r.offset += uint64(len(data))
		n -= uint64(len(data))
	}
	return nil
}

// fail records the consequence of a read error and returns the error to
// hand to the caller.
func (r *Request) fail(err error) error {
	if r.ctx.Err() != nil {
		return ErrClosed
	}
	var pe *Error
	if !errors.As(err, &pe) {
		// Caller cancellation: the session is intact.
		return err
	}
	if pe.Fatal() {
		r.setPoison(pe)
		r.discardTasks()
		r.replay = nil
		r.seekWin.clear()
		return r.poisoned()
	}

	r.logger.Info("range fetch failed, replanning on next read",
		zap.Stringer("range", pe.Range), zap.Error(err))
	r.discardTasks()
	r.planEnd = r.offset + replayLen(r.replay)
	r.sequential = false
	r.windowSize = r.cfg.InitialWindowBytes
	return err
}

// plan asks the planner for the next window and starts its fetch tasks.
func (r *Request) plan() {
	p := PlanWindow(r.cfg, PlanInput{
		Offset:         r.planEnd,
		Size:           r.obj.Size,
		PreviousWindow: r.windowSize,
		Sequential:     r.sequential,
	})
	r.windowSize = p.Window
	r.sequential = true
	r.planEnd = p.Range.End
	r.obs.WindowPlanned(p)
	r.logger.Debug("planned read-ahead window",
		zap.Stringer("range", p.Range),
		zap.Uint64("window", p.Window),
		zap.Int("parts", len(p.Parts)),
	)

	for _, part := range p.Parts {
		t := newFetchTask(r.ctx, part, r)
		r.tasks = append(r.tasks, t)
		r.wg.Add(1)
		r.exec.Go(t.ctx, func(ctx context.Context) {
			defer r.wg.Done()
			t.run(ctx)
		})
	}
}

// readAhead plans the next window once the consumer has eaten into the
// lookahead far enough. Keeping the trigger at half a window stops new range
// GETs while the consumer lags behind delivery.
func (r *Request) readAhead() {
	if r.windowSize == 0 || r.planEnd >= r.obj.Size {
		return
	}
	if r.planEnd-r.offset >= r.windowSize/2 {
		return
	}
	r.plan()
}

// reset drops every buffer and restarts planning at target.
func (r *Request) reset(target uint64) {
	r.discardTasks()
	r.replay = nil
	r.seekWin.clear()
	r.offset = target
	r.planEnd = target
}

func (r *Request) popTask() {
	r.tasks[0].discard()
	r.tasks[0] = nil
	r.tasks = r.tasks[1:]
}

func (r *Request) discardTasks() {
	for _, t := range r.tasks {
		t.discard()
	}
	r.tasks = nil
}

func (r *Request) takeReplay(max uint64) []byte {
	head := r.replay[0]
	if uint64(len(head)) <= max {
		r.replay[0] = nil
		r.replay = r.replay[1:]
		return head
	}
	r.replay[0] = head[max:]
	return head[:max:max]
}

func (r *Request) setPoison(e *Error) {
	r.poison.CompareAndSwap(nil, e)
}

func (r *Request) poisoned() error {
	if e := r.poison.Load(); e != nil {
		return e
	}
	return nil
}

func replayLen(segs [][]byte) uint64 {
	var n uint64
	for _, s := range segs {
		n += uint64(len(s))
	}
	return n
}

// join returns segs as one slice, reusing the only segment when there is one.
func join(segs [][]byte, n uint64) []byte {
	if len(segs) == 1 {
		return segs[0]
	}
	if n > math.MaxInt {
		n = math.MaxInt
	}
	out := make([]byte, 0, n)
	for _, s := range segs {
		out = append(out, s...)
	}
	return out
}
