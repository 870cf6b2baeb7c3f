// Package s3util creates S3-compatible clients (AWS S3, MinIO, Cloudflare R2)
// and adapts them to the prefetch engine's windowed range GET contract.
package s3util

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/gftdcojp/s3-prefetch/internal/config"
	"github.com/gftdcojp/s3-prefetch/pkg/backpressure"
	"github.com/gftdcojp/s3-prefetch/pkg/prefetch"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrNotFound is returned by Stat when the object does not exist.
var ErrNotFound = errors.New("object not found")

// API is the subset of the S3 client used here.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Client implements prefetch.Client over S3 range GETs.
type Client struct {
	S3        API
	chunkSize int
	limiter   *rate.Limiter
	logger    *zap.Logger
}

var _ prefetch.Client = (*Client)(nil)

// NewClient creates a new S3-compatible client from config.
func NewClient(ctx context.Context, cfg config.S3Config, logger *zap.Logger) (*Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	s3Opts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return NewFromAPI(s3.NewFromConfig(awsCfg, s3Opts...), cfg, logger), nil
}

// NewFromAPI wraps an existing S3 API implementation.
func NewFromAPI(api API, cfg config.S3Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		S3:        api,
		chunkSize: int(cfg.ChunkSize),
		logger:    logger.Named("s3"),
	}
	if c.chunkSize <= 0 {
		c.chunkSize = backpressure.DefaultChunkSize
	}
	if cfg.ThroughputTargetGbps > 0 {
		bytesPerSec := cfg.ThroughputTargetGbps * (1 << 30) / 8
		c.limiter = rate.NewLimiter(rate.Limit(bytesPerSec), c.chunkSize)
		c.logger.Info("pacing S3 reads",
			zap.Float64("throughput_target_gbps", cfg.ThroughputTargetGbps),
		)
	}
	return c
}

// GetObjectRange issues a ranged GET conditioned on the expected ETag and
// returns its body as a windowed stream.
func (c *Client) GetObjectRange(ctx context.Context, bucket, key string, r prefetch.Range, opts prefetch.GetOptions) (prefetch.GetStream, error) {
	if r.Len() == 0 {
		return nil, fmt.Errorf("get s3://%s/%s: empty range %s: %w", bucket, key, r, prefetch.ErrRangeFetch)
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", r.Start, r.End-1)),
	}
	if opts.ETag != "" {
		input.IfMatch = aws.String(opts.ETag.Quoted())
	}

	out, err := c.S3.GetObject(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s %s: %w", bucket, key, r, classifyError(err))
	}

	if out.ContentLength != nil && *out.ContentLength != int64(r.Len()) {
		total := totalFromContentRange(aws.ToString(out.ContentRange))
		out.Body.Close()
		if total > 0 && total < r.End {
			return nil, fmt.Errorf("get s3://%s/%s %s: object is %d bytes: %w", bucket, key, r, total, prefetch.ErrInvalidOffset)
		}
		return nil, fmt.Errorf("get s3://%s/%s %s: content length %d: %w", bucket, key, r, *out.ContentLength, prefetch.ErrRangeFetch)
	}

	c.logger.Debug("range GET opened",
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.Stringer("range", r),
		zap.Uint64("window", opts.Window),
	)

	return backpressure.NewReader(out.Body, r, opts.Window, backpressure.Options{
		ChunkSize:  c.chunkSize,
		Limiter:    c.limiter,
		ETag:       prefetch.ETag(aws.ToString(out.ETag)),
		ObjectSize: totalFromContentRange(aws.ToString(out.ContentRange)),
	}), nil
}

// Stat resolves the current size and ETag of an object.
func (c *Client) Stat(ctx context.Context, bucket, key string) (uint64, prefetch.ETag, error) {
	out, err := c.S3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, "", fmt.Errorf("head s3://%s/%s: %w", bucket, key, ErrNotFound)
		}
		return 0, "", fmt.Errorf("head s3://%s/%s: %w", bucket, key, err)
	}
	size := aws.ToInt64(out.ContentLength)
	if size < 0 {
		size = 0
	}
	return uint64(size), prefetch.ETag(aws.ToString(out.ETag)), nil
}

// Ping checks connectivity by performing a HeadBucket operation.
func (c *Client) Ping(ctx context.Context, bucket string) error {
	_, err := c.S3.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	return err
}

// classifyError maps S3 error codes onto the prefetch error taxonomy.
func classifyError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "412":
			return fmt.Errorf("%w: %w", prefetch.ErrIntegrity, err)
		case "InvalidRange", "416":
			return fmt.Errorf("%w: %w", prefetch.ErrInvalidOffset, err)
		}
	}
	return err
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey" || code == "404"
	}
	return false
}

// totalFromContentRange returns the total size from a header like
// "bytes 0-99/1000", or 0 when it is absent or unknown.
func totalFromContentRange(v string) uint64 {
	i := strings.LastIndexByte(v, '/')
	if i < 0 {
		return 0
	}
	total, err := strconv.ParseUint(strings.TrimSpace(v[i+1:]), 10, 64)
	if err != nil {
		return 0
	}
	return total
}
