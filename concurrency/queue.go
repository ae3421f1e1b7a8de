package concurrency

import (
	"sync"

	"github.com/google/uuid"
	runner "github.com/module-dev/runner"
)

// job is a unit of work submitted to a Queue: a thunk plus the channel
// its caller is waiting on.
type job struct {
	id     string
	run    func() (any, error)
	result chan jobResult
}

type jobResult struct {
	value any
	err   error
}

// Queue runs jobs FIFO, one at a time, on a single background
// goroutine (spec.md §4.8 "Queue"). Grounded on the root package's
// engine initializer's layered, ordered execution (initializer.go),
// generalised from a one-shot topological pass to a long-lived
// sequential worker.
type Queue struct {
	mu       sync.Mutex
	pending  []*job
	disposed bool
	current  *job

	wake chan struct{}
	done chan struct{}
}

// NewQueue starts the queue's background worker.
func NewQueue() *Queue {
	q := &Queue{wake: make(chan struct{}, 1), done: make(chan struct{})}
	go q.loop()
	return q
}

// Enqueue appends fn and returns its job id plus a result channel that
// receives exactly one value: fn's (value, err), or QueueDisposed if
// the queue is disposed before fn runs. The id lets a job already
// running on this queue be checked for deadlock via CheckLiveness.
func (q *Queue) Enqueue(fn func() (any, error)) (string, <-chan jobResult) {
	j := &job{id: uuid.NewString(), run: fn, result: make(chan jobResult, 1)}
	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		j.result <- jobResult{err: runner.QueueDisposedErr.Throw(nil)}
		return j.id, j.result
	}
	q.pending = append(q.pending, j)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return j.id, j.result
}

// Run enqueues fn and blocks for its result.
func (q *Queue) Run(fn func() (any, error)) (any, error) {
	_, ch := q.Enqueue(fn)
	res := <-ch
	return res.value, res.err
}

func (q *Queue) loop() {
	defer close(q.done)
	for range q.wake {
		for {
			q.mu.Lock()
			if len(q.pending) == 0 {
				q.mu.Unlock()
				break
			}
			j := q.pending[0]
			q.pending = q.pending[1:]
			q.current = j
			q.mu.Unlock()

			value, err := j.run()
			j.result <- jobResult{value: value, err: err}

			q.mu.Lock()
			q.current = nil
			disposed := q.disposed
			q.mu.Unlock()
			if disposed {
				return
			}
		}
		q.mu.Lock()
		stop := q.disposed
		q.mu.Unlock()
		if stop {
			return
		}
	}
}

// Dispose stops accepting new jobs and rejects every job still pending
// with QueueDisposed; an in-flight job is left to finish.
func (q *Queue) Dispose() {
	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return
	}
	q.disposed = true
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, j := range pending {
		j.result <- jobResult{err: runner.QueueDisposedErr.Throw(nil)}
	}
	close(q.wake)
}

// CheckLiveness reports QueueDeadlock when the in-flight job is itself
// blocked waiting on waitingOnJobId and that job is still sitting in
// pending — the running job can never complete because the result it
// needs is queued behind it on the same sequential worker (spec.md
// §4.8 "liveness check").
func (q *Queue) CheckLiveness(waitingOnJobId string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return nil
	}
	for _, j := range q.pending {
		if j.id == waitingOnJobId {
			return runner.QueueDeadlockErr.Throw(map[string]any{"jobId": waitingOnJobId})
		}
	}
	return nil
}
