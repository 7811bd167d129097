// Package pipeline serializes a stream of inputs through a conversion
// function: one background drainer per pipeline, results delivered in
// enqueue order on a caller-supplied Dispatcher.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

var (
	ErrClosed = errors.New("pipeline is closed")
	ErrPanic  = errors.New("conversion panicked")
)

// Request is the immutable snapshot of one enqueued input.
type Request[In any] struct {
	Seq   uint64
	Input In
}

// Result is what the drainer hands to the delivery callback.
type Result[In, Out any] struct {
	Request[In]
	Output Out
	Err    error
}

// ConvertFunc performs one conversion. It runs on a background goroutine.
type ConvertFunc[In, Out any] func(ctx context.Context, in In) (Out, error)

// DeliverFunc receives results, in enqueue order, on the Dispatcher.
type DeliverFunc[In, Out any] func(Result[In, Out])

// Options configures a Pipeline. Zero values are usable.
type Options struct {
	// Name identifies the pipeline in logs.
	Name string
	// Dispatcher runs DeliverFunc. Defaults to Inline, which delivers on the
	// drainer goroutine.
	Dispatcher Dispatcher
	// Pool bounds concurrent conversions across pipelines. Defaults to DefaultPool().
	Pool *Pool
	// Attrs are added to every log record.
	Attrs []any
}

// Pipeline is an unbounded FIFO drained by at most one goroutine at a time.
// Every enqueued input is converted and delivered; nothing is skipped or
// cancelled. The drainer exits when the queue is empty and the next Enqueue
// starts a new one.
type Pipeline[In, Out any] struct {
	convert  ConvertFunc[In, Out]
	deliver  DeliverFunc[In, Out]
	dispatch Dispatcher
	pool     *Pool
	log      *slog.Logger

	mu       sync.Mutex
	queue    []Request[In]
	seq      uint64
	draining bool
	closed   bool
	idle     chan struct{}
}

// New builds a pipeline. No goroutine runs until the first Enqueue.
func New[In, Out any](convert ConvertFunc[In, Out], deliver DeliverFunc[In, Out], opts Options) *Pipeline[In, Out] {
	if opts.Dispatcher == nil {
		opts.Dispatcher = Inline
	}
	if opts.Pool == nil {
		opts.Pool = DefaultPool()
	}
	attrs := append([]any{"pipeline", opts.Name}, opts.Attrs...)
	idle := make(chan struct{})
	close(idle)
	return &Pipeline[In, Out]{
		convert:  convert,
		deliver:  deliver,
		dispatch: opts.Dispatcher,
		pool:     opts.Pool,
		log:      slog.Default().With(attrs...),
		idle:     idle,
	}
}

// Enqueue appends in to the queue and makes sure a drainer is running.
// It never blocks on conversion work and returns the request's sequence
// number, which increases by one per call.
func (p *Pipeline[In, Out]) Enqueue(in In) (uint64, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	p.seq++
	req := Request[In]{Seq: p.seq, Input: in}
	p.queue = append(p.queue, req)
	start := !p.draining
	if start {
		p.draining = true
		p.idle = make(chan struct{})
	}
	p.mu.Unlock()

	if start {
		go p.drain()
	}
	return req.Seq, nil
}

// Pending returns the number of queued requests not yet picked up.
func (p *Pipeline[In, Out]) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Wait blocks until the queue is empty and no drainer is running. Results
// may still be waiting on the Dispatcher.
func (p *Pipeline[In, Out]) Wait(ctx context.Context) error {
	for {
		p.mu.Lock()
		idle, draining := p.idle, p.draining
		p.mu.Unlock()
		if !draining {
			return nil
		}
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops accepting input and waits for queued work to be converted.
func (p *Pipeline[In, Out]) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.Wait(ctx)
}

func (p *Pipeline[In, Out]) drain() {
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			// Cleared under the same lock Enqueue checks, so a concurrent
			// Enqueue either sees this drainer or starts the next one.
			p.draining = false
			close(p.idle)
			p.mu.Unlock()
			return
		}
		req := p.queue[0]
		p.queue[0] = Request[In]{}
		p.queue = p.queue[1:]
		p.mu.Unlock()

		res := p.run(req)
		p.dispatch.Post(func() { p.deliver(res) })
	}
}

func (p *Pipeline[In, Out]) run(req Request[In]) Result[In, Out] {
	res := Result[In, Out]{Request: req}
	ctx := context.Background()
	err := p.pool.Do(ctx, func() {
		defer func() {
			if r := recover(); r != nil {
				p.log.Error("pipeline.convert.panic", "seq", req.Seq, "panic", r, "stack", string(debug.Stack()))
				var zero Out
				res.Output = zero
				res.Err = fmt.Errorf("%w: %v", ErrPanic, r)
			}
		}()
		res.Output, res.Err = p.convert(ctx, req.Input)
	})
	if err != nil {
		res.Err = err
	}
	if res.Err != nil {
		p.log.Debug("pipeline.convert.failed", "seq", req.Seq, "error", res.Err)
	}
	return res
}
