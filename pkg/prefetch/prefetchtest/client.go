// Package prefetchtest provides in-memory implementations of the prefetch
// interfaces for tests.
package prefetchtest

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/gftdcojp/s3-prefetch/pkg/prefetch"
)

// DefaultChunkSize is the chunk size used when MemoryClient.ChunkSize is 0.
const DefaultChunkSize = 64 * prefetch.KiB

// MemoryClient serves range GETs from a byte slice and enforces the read
// window the way a real backpressure-aware client does.
type MemoryClient struct {
	Data      []byte
	ETag      prefetch.ETag
	ChunkSize int

	mu         sync.Mutex
	opens      int
	closes     int
	grows      int
	ranges     []prefetch.Range
	failOpen   map[uint64]error
	truncateAt uint64
	etagAt     uint64
	newETag    prefetch.ETag
	reportSize uint64
	growErr    error
}

// NewMemoryClient returns a client serving data under the given fingerprint.
func NewMemoryClient(data []byte, etag prefetch.ETag) *MemoryClient {
	return &MemoryClient{Data: data, ETag: etag}
}

// FailOpenOnce makes the next GET starting at start fail with err.
func (c *MemoryClient) FailOpenOnce(start uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failOpen == nil {
		c.failOpen = make(map[uint64]error)
	}
	c.failOpen[start] = err
}

// TruncateAt ends every stream early once it reaches off.
func (c *MemoryClient) TruncateAt(off uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.truncateAt = off
}

// ChangeETagAt reports etag on every chunk at or past off.
func (c *MemoryClient) ChangeETagAt(off uint64, etag prefetch.ETag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.etagAt = off
	c.newETag = etag
}

// ReportSize makes chunks claim the object is n bytes long.
func (c *MemoryClient) ReportSize(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reportSize = n
}

// RejectGrowth makes every GrowWindow call fail with err.
func (c *MemoryClient) RejectGrowth(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.growErr = err
}

// Opens returns the number of streams opened.
func (c *MemoryClient) Opens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens
}

// Closes returns the number of streams closed.
func (c *MemoryClient) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// Grows returns the number of accepted window grows.
func (c *MemoryClient) Grows() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.grows
}

// Ranges returns the ranges of every opened stream, in open order.
func (c *MemoryClient) Ranges() []prefetch.Range {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]prefetch.Range(nil), c.ranges...)
}

func (c *MemoryClient) GetObjectRange(ctx context.Context, bucket, key string, r prefetch.Range, opts prefetch.GetOptions) (prefetch.GetStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err, ok := c.failOpen[r.Start]; ok {
		delete(c.failOpen, r.Start)
		return nil, err
	}
	if opts.ETag != "" && c.newETag == "" && !opts.ETag.Equal(c.ETag) {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, prefetch.ErrIntegrity)
	}
	if r.End > uint64(len(c.Data)) {
		return nil, fmt.Errorf("get %s/%s %s: %w", bucket, key, r, prefetch.ErrInvalidOffset)
	}

	c.opens++
	c.ranges = append(c.ranges, r)

	windowEnd := r.End
	if opts.Window > 0 && r.Start+opts.Window < r.End {
		windowEnd = r.Start + opts.Window
	}
	return &memoryStream{
		c:         c,
		rng:       r,
		pos:       r.Start,
		windowEnd: windowEnd,
		notify:    make(chan struct{}),
	}, nil
}

type memoryStream struct {
	c   *MemoryClient
	rng prefetch.Range

	mu        sync.Mutex
	pos       uint64
	windowEnd uint64
	closed    bool
	notify    chan struct{}
}

func (s *memoryStream) Next(ctx context.Context) (prefetch.Chunk, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return prefetch.Chunk{}, io.ErrClosedPipe
		}
		if s.pos >= s.rng.End {
			s.mu.Unlock()
			return prefetch.Chunk{}, io.EOF
		}
		if s.pos < s.windowEnd {
			chunk, ok := s.c.chunk(s.pos, s.windowEnd, s.rng.End)
			if !ok {
				s.mu.Unlock()
				return prefetch.Chunk{}, io.EOF
			}
			s.pos += uint64(len(chunk.Data))
			s.mu.Unlock()
			return chunk, nil
		}
		wait := s.notify
		s.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return prefetch.Chunk{}, ctx.Err()
		}
	}
}

func (s *memoryStream) GrowWindow(n uint64) error {
	if err := s.c.growError(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.windowEnd+n > s.rng.End {
		return fmt.Errorf("grow by %d past %s: %w", n, s.rng, prefetch.ErrBackpressureProtocol)
	}
	s.windowEnd += n
	close(s.notify)
	s.notify = make(chan struct{})

	s.c.mu.Lock()
	s.c.grows++
	s.c.mu.Unlock()
	return nil
}

func (s *memoryStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.notify)
	s.notify = make(chan struct{})

	s.c.mu.Lock()
	s.c.closes++
	s.c.mu.Unlock()
	return nil
}

func (c *MemoryClient) growError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.growErr
}

// chunk cuts the next chunk at pos. ok is false when the stream is
// truncated at pos.
func (c *MemoryClient) chunk(pos, windowEnd, end uint64) (prefetch.Chunk, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := uint64(c.ChunkSize)
	if size == 0 {
		size = DefaultChunkSize
	}
	stop := min(pos+size, windowEnd, end)
	if c.truncateAt > 0 {
		if pos >= c.truncateAt {
			return prefetch.Chunk{}, false
		}
		stop = min(stop, c.truncateAt)
	}

	etag := c.ETag
	if c.newETag != "" && pos >= c.etagAt {
		etag = c.newETag
	}
	objectSize := uint64(len(c.Data))
	if c.reportSize > 0 {
		objectSize = c.reportSize
	}
	data := make([]byte, stop-pos)
	copy(data, c.Data[pos:stop])
	return prefetch.Chunk{
		Offset:     pos,
		Data:       data,
		ETag:       etag,
		ObjectSize: objectSize,
	}, true
}
