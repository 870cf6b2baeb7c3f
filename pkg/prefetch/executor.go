package prefetch

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Executor runs fetch tasks. Go must eventually call fn exactly once, even if
// ctx is already done; fn returns promptly in that case.
type Executor interface {
	Go(ctx context.Context, fn func(ctx context.Context))
}

// GoExecutor runs every task on its own goroutine.
type GoExecutor struct{}

func (GoExecutor) Go(ctx context.Context, fn func(ctx context.Context)) {
	go fn(ctx)
}

// Pool runs at most size tasks at once. Slots are handed out in submission
// order: a task holding a slot while it waits on backpressure is always
// older than every queued task of the same request, so a consumer that keeps
// reading always makes progress.
type Pool struct {
	sem *semaphore.Weighted

	mu   sync.Mutex
	tail chan struct{}
}

// NewPool creates a pool with the given number of slots (minimum 1).
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

func (p *Pool) Go(ctx context.Context, fn func(ctx context.Context)) {
	p.mu.Lock()
	prev := p.tail
	turn := make(chan struct{})
	p.tail = turn
	p.mu.Unlock()

	go func() {
		if prev != nil {
			select {
			case <-prev:
			case <-ctx.Done():
			}
		}
		err := p.sem.Acquire(ctx, 1)
		close(turn)
		if err != nil {
			fn(ctx)
			return
		}
		defer p.sem.Release(1)
		fn(ctx)
	}()
}
