package prefetch

import "go.uber.org/zap"

// Prefetcher creates read sessions that share an executor and a
// configuration.
type Prefetcher struct {
	exec   Executor
	cfg    Config
	obs    Observer
	logger *zap.Logger
}

// Option configures a Prefetcher.
type Option func(*Prefetcher)

// WithObserver reports engine events to obs.
func WithObserver(obs Observer) Option {
	return func(p *Prefetcher) {
		if obs != nil {
			p.obs = obs
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Prefetcher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a Prefetcher. Zero config fields take their defaults and a nil
// executor starts one goroutine per fetch.
func New(exec Executor, cfg Config, opts ...Option) *Prefetcher {
	if exec == nil {
		exec = GoExecutor{}
	}
	p := &Prefetcher{
		exec:   exec,
		cfg:    cfg.withDefaults(),
		obs:    NopObserver{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("prefetch")
	return p
}

// Config returns the normalized configuration.
func (p *Prefetcher) Config() Config { return p.cfg }

// Prefetch opens a read session over bucket/key. Nothing is fetched until
// the first Read. size and etag are trusted here and verified against what
// the client reports while reading.
func (p *Prefetcher) Prefetch(client Client, bucket, key string, size uint64, etag ETag) *Request {
	return newRequest(p, client, ObjectIdentity{
		Bucket: bucket,
		Key:    key,
		Size:   size,
		ETag:   etag,
	})
}
