package main

import (
	"context"
	"testing"

	"github.com/gftdcojp/s3-prefetch/internal/bench"
	"github.com/gftdcojp/s3-prefetch/pkg/prefetch"
	"github.com/gftdcojp/s3-prefetch/pkg/prefetch/prefetchtest"
)

type statClient struct {
	*prefetchtest.MemoryClient
	stats int
}

func (c *statClient) Stat(_ context.Context, _, _ string) (uint64, prefetch.ETag, error) {
	c.stats++
	return uint64(len(c.Data)), c.ETag, nil
}

func TestResolveObject(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantSize  uint64
		wantETag  prefetch.ETag
		wantStats int
	}{
		{"nothing given", nil, 1000, "e1", 1},
		{"size given", []string{"10"}, 10, "e1", 1},
		{"size looked up", []string{"-", "e9"}, 1000, "e9", 1},
		{"both given", []string{"10", "e9"}, 10, "e9", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &statClient{MemoryClient: prefetchtest.NewMemoryClient(prefetchtest.Data(1000), "e1")}
			target := bench.Target{Bucket: "bench", Key: "blob"}
			if err := resolveObject(context.Background(), client, &target, tt.args); err != nil {
				t.Fatal(err)
			}
			if target.Size != tt.wantSize || target.ETag != tt.wantETag {
				t.Errorf("got size %d etag %q, want %d %q", target.Size, target.ETag, tt.wantSize, tt.wantETag)
			}
			if client.stats != tt.wantStats {
				t.Errorf("stat called %d times, want %d", client.stats, tt.wantStats)
			}
		})
	}
}

func TestResolveObjectBadSize(t *testing.T) {
	client := &statClient{MemoryClient: prefetchtest.NewMemoryClient(prefetchtest.Data(10), "e1")}
	target := bench.Target{Bucket: "bench", Key: "blob"}
	if err := resolveObject(context.Background(), client, &target, []string{"ten"}); err == nil {
		t.Fatal("expected error for non-numeric size")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(flags{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend != "s3" || cfg.Bench.Iterations != 1 {
		t.Errorf("unexpected defaults: backend %s iterations %d", cfg.Backend, cfg.Bench.Iterations)
	}
}
