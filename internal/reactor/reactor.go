// Package reactor provides a goroutine-confined single-threaded event loop:
// the Go realization of the cooperative reactor model described in §5 (one
// thread, no locks on the hot path, software events for deferred work).
//
// Posted tasks, triggered software-event callbacks and timer callbacks are
// enqueued onto the loop goroutine's channel and always run on that one
// goroutine; registration and timer bookkeeping happen synchronously in the
// calling goroutine under a mutex. This mirrors the BFD session's single select loop over its
// receive channel and timers (internal/bfd/session.go's runLoop), scaled up
// to a shared loop serving many RemoteServers instead of one goroutine per
// session.
//
// Reactor implements internal/client's Reactor and TimerManager interfaces,
// using that package's handle types: the consumer (internal/client) defines
// the interfaces, and this provider depends on the consumer, not the other
// way around, so internal/client never imports a concrete transport or
// scheduling package (§6.1, §9).
package reactor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dantte-lp/someipd/internal/client"
)

// ErrClosed is returned by RegisterSoftwareEvent after the Reactor has been
// stopped, and by TriggerSoftwareEvent for a handle that is not registered.
var ErrClosed = errors.New("reactor: closed")

type task func()

// Reactor is a single-goroutine event loop. The zero value is not usable;
// construct with New.
type Reactor struct {
	tasks chan task

	mu       sync.Mutex
	nextSWE  client.SoftwareEventHandle
	swEvents map[client.SoftwareEventHandle]func()

	nextTimer client.TimerHandle
	timers    map[client.TimerHandle]*timerState

	closed chan struct{}
	done   chan struct{}
	once   sync.Once
}

type timerState struct {
	t  *time.Timer
	cb func()
}

// defaultQueueSize is the task channel capacity used when no WithQueueSize
// option is given.
const defaultQueueSize = 256

// Option configures a Reactor at construction.
type Option func(*options)

type options struct {
	queueSize int
}

// WithQueueSize sets the task channel's buffer capacity (the "tick budget"
// of §5.1: how many posted tasks may queue before Post starts blocking its
// caller). n <= 0 is ignored.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// New starts a Reactor's loop goroutine and returns it. Cancel ctx, or call
// Close, to terminate the loop.
func New(ctx context.Context, opts ...Option) *Reactor {
	o := options{queueSize: defaultQueueSize}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Reactor{
		tasks:    make(chan task, o.queueSize),
		swEvents: make(map[client.SoftwareEventHandle]func()),
		timers:   make(map[client.TimerHandle]*timerState),
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go r.run(ctx)
	return r
}

func (r *Reactor) run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return
		case <-r.closed:
			r.shutdown()
			return
		case fn := <-r.tasks:
			fn()
		}
	}
}

func (r *Reactor) shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ts := range r.timers {
		ts.t.Stop()
	}
}

// Close terminates the loop goroutine and waits for it to exit.
func (r *Reactor) Close() {
	r.once.Do(func() { close(r.closed) })
	<-r.done
}

// Post submits fn to run on the loop goroutine. Post does not block waiting
// for fn to run; it only blocks if the task queue is full.
func (r *Reactor) Post(fn func()) {
	select {
	case r.tasks <- fn:
	case <-r.done:
	}
}

// RegisterSoftwareEvent registers cb to be invoked (on the loop goroutine)
// whenever TriggerSoftwareEvent is called with the returned handle.
func (r *Reactor) RegisterSoftwareEvent(cb func()) (client.SoftwareEventHandle, error) {
	select {
	case <-r.done:
		return 0, ErrClosed
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSWE++
	h := r.nextSWE
	r.swEvents[h] = cb
	return h, nil
}

// TriggerSoftwareEvent schedules h's callback to run on the loop goroutine.
func (r *Reactor) TriggerSoftwareEvent(h client.SoftwareEventHandle) error {
	r.mu.Lock()
	cb, ok := r.swEvents[h]
	r.mu.Unlock()
	if !ok {
		return ErrClosed
	}
	r.Post(cb)
	return nil
}

// UnregisterSoftwareEvent removes h. A trigger already in flight still runs.
func (r *Reactor) UnregisterSoftwareEvent(h client.SoftwareEventHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.swEvents, h)
	return nil
}

// CreateTimer creates a new, initially stopped timer whose callback runs on
// the loop goroutine when it fires.
func (r *Reactor) CreateTimer(cb func()) client.TimerHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextTimer++
	h := r.nextTimer
	r.timers[h] = &timerState{cb: cb}
	return h
}

// Start arms h to fire once after d. A prior pending fire is canceled.
func (r *Reactor) Start(h client.TimerHandle, d time.Duration) {
	r.mu.Lock()
	ts, ok := r.timers[h]
	r.mu.Unlock()
	if !ok {
		return
	}
	if ts.t != nil {
		ts.t.Stop()
	}
	ts.t = time.AfterFunc(d, func() { r.Post(ts.cb) })
}

// Stop cancels h's pending fire, if any.
func (r *Reactor) Stop(h client.TimerHandle) {
	r.mu.Lock()
	ts, ok := r.timers[h]
	r.mu.Unlock()
	if !ok || ts.t == nil {
		return
	}
	ts.t.Stop()
}
