package pipeline

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// Dispatcher runs delivery callbacks on the consumer's execution context.
// Post must not block on the posted function.
type Dispatcher interface {
	Post(fn func())
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(fn func())

func (f DispatcherFunc) Post(fn func()) { f(fn) }

// Inline runs posted functions immediately on the posting goroutine.
var Inline Dispatcher = DispatcherFunc(func(fn func()) { fn() })

// SerialDispatcher runs posted functions one at a time, in posting order, on
// a single dedicated goroutine. Its queue is unbounded so Post never blocks.
type SerialDispatcher struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

// NewSerialDispatcher starts the dispatcher goroutine. Call Close to stop it.
func NewSerialDispatcher() *SerialDispatcher {
	d := &SerialDispatcher{done: make(chan struct{})}
	d.cond = sync.NewCond(&d.mu)
	go d.loop()
	return d
}

// Post schedules fn. Functions posted after Close are discarded.
func (d *SerialDispatcher) Post(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		slog.Warn("dispatcher.post.closed")
		return
	}
	d.queue = append(d.queue, fn)
	d.cond.Signal()
}

// Sync blocks until every function posted before the call has run.
func (d *SerialDispatcher) Sync() {
	done := make(chan struct{})
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.queue = append(d.queue, func() { close(done) })
	d.cond.Signal()
	d.mu.Unlock()
	<-done
}

// Close runs what is already queued, then stops the goroutine.
func (d *SerialDispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		d.cond.Broadcast()
	}
	d.mu.Unlock()
	<-d.done
}

func (d *SerialDispatcher) loop() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		fn := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()

		runSafely(fn)
	}
}

func runSafely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("dispatcher.callback.panic", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}
