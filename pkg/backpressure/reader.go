// Package backpressure adapts a streaming response body to the windowed
// prefetch.GetStream contract.
package backpressure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/gftdcojp/s3-prefetch/pkg/prefetch"
	"golang.org/x/time/rate"
)

// DefaultChunkSize is the largest chunk returned by Next unless
// Options.ChunkSize says otherwise.
const DefaultChunkSize = 256 * prefetch.KiB

// Options tune a Reader.
type Options struct {
	ChunkSize int
	// Limiter, if set, paces delivery in bytes per second.
	Limiter *rate.Limiter
	// ETag and ObjectSize are attached to every chunk.
	ETag       prefetch.ETag
	ObjectSize uint64
}

// Reader delivers a body as ordered chunks of the range r, never reading
// beyond the granted window. Bytes past the window stay unread in the body,
// which leaves flow control to the transport.
type Reader struct {
	body io.ReadCloser
	rng  prefetch.Range
	opts Options

	mu        sync.Mutex
	pos       uint64
	windowEnd uint64
	closed    bool
	notify    chan struct{}
}

var _ prefetch.GetStream = (*Reader)(nil)

// NewReader wraps body, which must yield the bytes of r in order. A zero
// window grants the whole range.
func NewReader(body io.ReadCloser, r prefetch.Range, window uint64, opts Options) *Reader {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	windowEnd := r.End
	if window > 0 && window < r.Len() {
		windowEnd = r.Start + window
	}
	return &Reader{
		body:      body,
		rng:       r,
		opts:      opts,
		pos:       r.Start,
		windowEnd: windowEnd,
		notify:    make(chan struct{}),
	}
}

func (r *Reader) Next(ctx context.Context) (prefetch.Chunk, error) {
	n, off, err := r.reserve(ctx)
	if err != nil {
		return prefetch.Chunk{}, err
	}

	if l := r.opts.Limiter; l != nil {
		if b := l.Burst(); b > 0 && n > uint64(b) {
			n = uint64(b)
		}
		if err := l.WaitN(ctx, int(n)); err != nil {
			return prefetch.Chunk{}, fmt.Errorf("throttle: %w", err)
		}
	}

	buf := make([]byte, n)
	read, err := io.ReadFull(r.body, buf)
	if read > 0 {
		r.mu.Lock()
		r.pos += uint64(read)
		r.mu.Unlock()
		return prefetch.Chunk{
			Offset:     off,
			Data:       buf[:read],
			ETag:       r.opts.ETag,
			ObjectSize: r.opts.ObjectSize,
		}, nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return prefetch.Chunk{}, io.EOF
	}
	return prefetch.Chunk{}, err
}

// reserve waits until the window allows reading and returns how much.
func (r *Reader) reserve(ctx context.Context) (uint64, uint64, error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return 0, 0, io.ErrClosedPipe
		}
		if r.pos >= r.rng.End {
			r.mu.Unlock()
			return 0, 0, io.EOF
		}
		if r.pos < r.windowEnd {
			n := min(uint64(r.opts.ChunkSize), r.windowEnd-r.pos)
			off := r.pos
			r.mu.Unlock()
			return n, off, nil
		}
		wait := r.notify
		r.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return 0, 0, ctx.Err()
		}
	}
}

// GrowWindow grants n more bytes. Growth past the end of the range is a
// protocol violation.
func (r *Reader) GrowWindow(n uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return io.ErrClosedPipe
	}
	if n > r.rng.End-r.windowEnd {
		return fmt.Errorf("grow by %d past end of %s: %w", n, r.rng, prefetch.ErrBackpressureProtocol)
	}
	r.windowEnd += n
	r.wakeLocked()
	return nil
}

// Window returns the absolute offset up to which delivery is granted.
func (r *Reader) Window() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.windowEnd
}

func (r *Reader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.wakeLocked()
	r.mu.Unlock()
	return r.body.Close()
}

func (r *Reader) wakeLocked() {
	close(r.notify)
	r.notify = make(chan struct{})
}
