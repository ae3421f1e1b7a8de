// Package concurrency provides the cooperative primitives the runtime
// layers task execution on: a fair Semaphore and a sequential Queue
// (spec.md §4.8). Grounded on the root package's mutex-and-counters
// style (pumped-fn-pumped-go's PoolManager/PoolMetrics), generalised
// from pool accounting to blocking admission control.
package concurrency

import (
	"container/list"
	"context"
	"sync"
	"time"

	runner "github.com/module-dev/runner"
)

// SemaphoreEvent names a lifecycle transition a Semaphore reports to
// its subscribers.
type SemaphoreEvent string

const (
	EventQueued   SemaphoreEvent = "queued"
	EventAcquired SemaphoreEvent = "acquired"
	EventReleased SemaphoreEvent = "released"
	EventTimeout  SemaphoreEvent = "timeout"
	EventAborted  SemaphoreEvent = "aborted"
	EventDisposed SemaphoreEvent = "disposed"
)

// Semaphore is a fair (FIFO) counting semaphore. Waiters form an
// intrusive doubly-linked list so a timed-out or aborted waiter can
// remove itself in O(1) without scanning (spec.md §4.8, invariant 9).
type Semaphore struct {
	mu       sync.Mutex
	permits  int
	waiters  *list.List // of *waiter
	disposed bool

	listeners []func(SemaphoreEvent)
}

type waiter struct {
	result chan error // nil => granted a permit; non-nil => rejected (timeout/abort/dispose)
	done   bool
}

// NewSemaphore constructs a Semaphore with maxPermits available slots.
func NewSemaphore(maxPermits int) (*Semaphore, error) {
	if maxPermits < 1 {
		return nil, runner.SemaphoreInvalidPermits.Throw(map[string]any{"permits": maxPermits})
	}
	return &Semaphore{permits: maxPermits, waiters: list.New()}, nil
}

// NewSemaphoreFromConfig accepts permits as a float64, matching a
// config-driven call site (e.g. parsed from JSON/viper) where a
// fractional value is a caller error rather than a compile-time
// impossibility.
func NewSemaphoreFromConfig(permits float64) (*Semaphore, error) {
	if permits != float64(int(permits)) {
		return nil, runner.SemaphoreNonIntegerPermits.Throw(map[string]any{"permits": permits})
	}
	return NewSemaphore(int(permits))
}

// OnEvent subscribes fn to every lifecycle transition this semaphore
// reports. There is no unsubscribe; callers scope the semaphore's
// lifetime to the subscription's.
func (s *Semaphore) OnEvent(fn func(SemaphoreEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Semaphore) notify(ev SemaphoreEvent) {
	for _, l := range s.listeners {
		l(ev)
	}
}

// AcquireOptions configures Acquire.
type AcquireOptions struct {
	Timeout time.Duration // zero means no timeout
	Ctx     context.Context
}

// Acquire blocks until a permit is available, opts.Timeout elapses, or
// opts.Ctx is cancelled — whichever comes first.
func (s *Semaphore) Acquire(opts AcquireOptions) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return runner.SemaphoreDisposedErr.Throw(nil)
	}
	if s.permits > 0 {
		s.permits--
		s.mu.Unlock()
		s.notify(EventAcquired)
		return nil
	}

	w := &waiter{result: make(chan error, 1)}
	el := s.waiters.PushBack(w)
	s.mu.Unlock()
	s.notify(EventQueued)

	var timeoutCh <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	var ctxDone <-chan struct{}
	if opts.Ctx != nil {
		ctxDone = opts.Ctx.Done()
	}

	select {
	case err := <-w.result:
		if err == nil {
			s.notify(EventAcquired)
		}
		return err
	case <-timeoutCh:
		s.removeWaiter(el, w, runner.SemaphoreAcquireTimeout.Throw(nil))
		s.notify(EventTimeout)
		return runner.SemaphoreAcquireTimeout.Throw(nil)
	case <-ctxDone:
		s.removeWaiter(el, w, runner.CancellationErr.Throw(nil))
		s.notify(EventAborted)
		return runner.CancellationErr.Throw(nil)
	}
}

// removeWaiter drops el from the list and rejects it with rejectErr,
// unless a permit was already granted to it concurrently — in which
// case that grant must not be silently dropped, so it is handed
// forward to the next waiter (or returned to the pool) via Release.
func (s *Semaphore) removeWaiter(el *list.Element, w *waiter, rejectErr error) {
	s.mu.Lock()
	if w.done {
		s.mu.Unlock()
		select {
		case err := <-w.result:
			if err == nil {
				s.Release()
			}
		default:
		}
		return
	}
	w.done = true
	s.waiters.Remove(el)
	s.mu.Unlock()
	w.result <- rejectErr
}

// Release returns one permit, granting it to the longest-waiting waiter
// still in the queue if any (invariant 9).
func (s *Semaphore) Release() {
	s.mu.Lock()
	if front := s.waiters.Front(); front != nil {
		w := front.Value.(*waiter)
		w.done = true
		s.waiters.Remove(front)
		s.mu.Unlock()
		w.result <- nil
		s.notify(EventReleased)
		return
	}
	s.permits++
	s.mu.Unlock()
	s.notify(EventReleased)
}

// WithPermit acquires, runs fn, and releases even if fn panics.
func (s *Semaphore) WithPermit(opts AcquireOptions, fn func() error) error {
	if err := s.Acquire(opts); err != nil {
		return err
	}
	defer s.Release()
	return fn()
}

// Dispose rejects every queued waiter with SemaphoreDisposed and marks
// the semaphore unusable.
func (s *Semaphore) Dispose() {
	s.mu.Lock()
	s.disposed = true
	var toReject []*waiter
	for el := s.waiters.Front(); el != nil; el = el.Next() {
		w := el.Value.(*waiter)
		w.done = true
		toReject = append(toReject, w)
	}
	s.waiters.Init()
	s.mu.Unlock()
	for _, w := range toReject {
		w.result <- runner.SemaphoreDisposedErr.Throw(nil)
	}
	s.notify(EventDisposed)
}
