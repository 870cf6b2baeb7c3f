// Package natsobj serves prefetch range GETs from a NATS JetStream Object
// Store. The store's bucket plays the role of the S3 bucket and the object's
// SHA-256 digest is its fingerprint.
package natsobj

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/gftdcojp/s3-prefetch/pkg/backpressure"
	"github.com/gftdcojp/s3-prefetch/pkg/prefetch"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// ErrNotFound is returned by Stat when the bucket or object does not exist.
var ErrNotFound = errors.New("object not found")

// Client implements prefetch.Client over JetStream Object Stores.
type Client struct {
	js        jetstream.JetStream
	chunkSize int
	logger    *zap.Logger

	mu     sync.Mutex
	stores map[string]jetstream.ObjectStore
}

var _ prefetch.Client = (*Client)(nil)

// New creates a client. chunkSize caps the bytes per delivered chunk.
func New(js jetstream.JetStream, chunkSize int, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if chunkSize <= 0 {
		chunkSize = backpressure.DefaultChunkSize
	}
	return &Client{
		js:        js,
		chunkSize: chunkSize,
		logger:    logger.Named("natsobj"),
		stores:    make(map[string]jetstream.ObjectStore),
	}
}

func (c *Client) store(ctx context.Context, bucket string) (jetstream.ObjectStore, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.stores[bucket]; ok {
		return st, nil
	}
	st, err := c.js.ObjectStore(ctx, bucket)
	if err != nil {
		return nil, err
	}
	c.stores[bucket] = st
	return st, nil
}

// GetObjectRange streams r of the object. Object Store reads are sequential,
// so the bytes before r.Start are read and discarded.
func (c *Client) GetObjectRange(ctx context.Context, bucket, key string, r prefetch.Range, opts prefetch.GetOptions) (prefetch.GetStream, error) {
	if r.Len() == 0 {
		return nil, fmt.Errorf("get %s/%s: empty range %s: %w", bucket, key, r, prefetch.ErrRangeFetch)
	}
	st, err := c.store(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("opening object store %s: %w", bucket, err)
	}

	res, err := st.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	info, err := res.Info()
	if err != nil {
		res.Close()
		return nil, fmt.Errorf("get %s/%s info: %w", bucket, key, err)
	}

	digest := prefetch.ETag(info.Digest)
	if opts.ETag != "" && !digest.Equal(opts.ETag) {
		res.Close()
		return nil, fmt.Errorf("get %s/%s: digest %s, expected %s: %w", bucket, key, digest, opts.ETag, prefetch.ErrIntegrity)
	}
	if info.Size < r.End {
		res.Close()
		return nil, fmt.Errorf("get %s/%s %s: object is %d bytes: %w", bucket, key, r, info.Size, prefetch.ErrInvalidOffset)
	}

	if r.Start > 0 {
		if _, err := io.CopyN(io.Discard, res, int64(r.Start)); err != nil {
			res.Close()
			return nil, fmt.Errorf("get %s/%s: skipping to %d: %w", bucket, key, r.Start, err)
		}
	}

	c.logger.Debug("object range opened",
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.Stringer("range", r),
	)

	body := &limitedBody{Reader: io.LimitReader(res, int64(r.Len())), Closer: res}
	return backpressure.NewReader(body, r, opts.Window, backpressure.Options{
		ChunkSize:  c.chunkSize,
		ETag:       digest,
		ObjectSize: info.Size,
	}), nil
}

// Stat resolves the size and digest of an object.
func (c *Client) Stat(ctx context.Context, bucket, key string) (uint64, prefetch.ETag, error) {
	st, err := c.store(ctx, bucket)
	if err != nil {
		if errors.Is(err, jetstream.ErrBucketNotFound) {
			return 0, "", fmt.Errorf("stat %s/%s: %w", bucket, key, ErrNotFound)
		}
		return 0, "", fmt.Errorf("opening object store %s: %w", bucket, err)
	}
	info, err := st.GetInfo(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return 0, "", fmt.Errorf("stat %s/%s: %w", bucket, key, ErrNotFound)
		}
		return 0, "", fmt.Errorf("stat %s/%s: %w", bucket, key, err)
	}
	return info.Size, prefetch.ETag(info.Digest), nil
}

type limitedBody struct {
	io.Reader
	io.Closer
}
