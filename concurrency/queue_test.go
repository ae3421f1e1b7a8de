package concurrency

import (
	"sync"
	"testing"

	runner "github.com/module-dev/runner"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	defer q.Dispose()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		i := i
		_, ch := q.Enqueue(func() (any, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i, nil
		})
		go func() {
			defer wg.Done()
			<-ch
		}()
	}
	wg.Wait()

	if len(order) != 5 {
		t.Fatalf("expected 5 jobs to run, got %d", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("expected jobs to run in enqueue order, got %v", order)
		}
	}
}

func TestQueueSequential(t *testing.T) {
	q := NewQueue()
	defer q.Dispose()

	var concurrent int
	var maxConcurrent int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ch := q.Enqueue(func() (any, error) {
				mu.Lock()
				concurrent++
				if concurrent > maxConcurrent {
					maxConcurrent = concurrent
				}
				mu.Unlock()

				mu.Lock()
				concurrent--
				mu.Unlock()
				return nil, nil
			})
			<-ch
		}()
	}
	wg.Wait()

	if maxConcurrent != 1 {
		t.Fatalf("expected strictly sequential execution, saw %d concurrent", maxConcurrent)
	}
}

func TestQueueDisposeRejectsPending(t *testing.T) {
	q := NewQueue()
	q.Dispose()

	_, ch := q.Enqueue(func() (any, error) { return nil, nil })
	res := <-ch
	if !runner.QueueDisposedErr.Is(res.err) {
		t.Fatalf("expected QueueDisposed, got %v", res.err)
	}
}

func TestQueueRun(t *testing.T) {
	q := NewQueue()
	defer q.Dispose()

	v, err := q.Run(func() (any, error) { return 42, nil })
	if err != nil {
		t.Fatal(err)
	}
	if v.(int) != 42 {
		t.Fatalf("expected 42, got %v", v)
	}
}

func TestQueueLivenessDeadlock(t *testing.T) {
	q := NewQueue()
	defer q.Dispose()

	running := make(chan struct{})
	release := make(chan struct{})
	_, firstCh := q.Enqueue(func() (any, error) {
		close(running)
		<-release
		return nil, nil
	})
	<-running

	secondId, secondCh := q.Enqueue(func() (any, error) { return nil, nil })

	if err := q.CheckLiveness(secondId); err == nil {
		t.Fatal("expected QueueDeadlock while the running job waits on a still-pending job")
	} else if !runner.QueueDeadlockErr.Is(err) {
		t.Fatalf("expected QueueDeadlock, got %v", err)
	}

	close(release)
	<-firstCh
	<-secondCh
}
