package pipeline

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many conversions run at once across all pipelines that
// share it. Each pipeline still runs at most one conversion at a time.
type Pool struct {
	sem  *semaphore.Weighted
	size int64
}

// NewPool returns a pool with size slots; size <= 0 means GOMAXPROCS.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: int64(size)}
}

// Size returns the number of slots.
func (p *Pool) Size() int { return int(p.size) }

// Do runs fn once a slot is free. It returns ctx.Err() without running fn if
// ctx ends first.
func (p *Pool) Do(ctx context.Context, fn func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	fn()
	return nil
}

var (
	defaultPoolOnce sync.Once
	defaultPool     *Pool
)

// DefaultPool is the process-wide pool used when Options.Pool is nil.
func DefaultPool() *Pool {
	defaultPoolOnce.Do(func() {
		defaultPool = NewPool(0)
	})
	return defaultPool
}
