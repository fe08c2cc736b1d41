package async

import (
	"fmt"
	"sync"

	"github.com/roach88/datakit/internal/metrics"
	"github.com/roach88/datakit/internal/storeerr"
)

// taskQueue is a thread-safe unbounded FIFO of pending tasks.
//
// The signal channel (buffered, size 1) lets the worker wait without
// polling. Multiple enqueues between two waits coalesce into one signal;
// the worker drains with TryDequeue until the queue is empty.
type taskQueue struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
	signal chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		tasks:  make([]func(), 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends t. Returns false if the queue is closed.
func (q *taskQueue) Enqueue(t func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.tasks = append(q.tasks, t)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the front task without blocking.
func (q *taskQueue) TryDequeue() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return nil, false
	}
	t := q.tasks[0]
	q.tasks[0] = nil // release the closure for GC
	if len(q.tasks) == 1 {
		q.tasks = q.tasks[:0]
	} else {
		q.tasks = q.tasks[1:]
	}
	return t, true
}

// Wait returns a channel that signals when tasks may be available. It is
// closed once the queue is closed.
func (q *taskQueue) Wait() <-chan struct{} {
	return q.signal
}

func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// drained reports whether the queue is closed and empty.
func (q *taskQueue) drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.tasks) == 0
}

// Close stops accepting tasks and wakes the worker.
func (q *taskQueue) Close() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.closed = true
	close(q.signal)
	return true
}

// Worker runs submitted tasks one at a time, in submission order, on a
// single goroutine owned by one store handle. Two workers never share
// ordering; there is no global lock.
type Worker struct {
	subsystem string
	q         *taskQueue
	done      chan struct{}
}

// NewWorker starts a worker. subsystem labels its queue depth metric.
func NewWorker(subsystem string) *Worker {
	w := &Worker{
		subsystem: subsystem,
		q:         newTaskQueue(),
		done:      make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Worker) run() {
	defer close(w.done)
	for {
		if t, ok := w.q.TryDequeue(); ok {
			metrics.QueueDepth.WithLabelValues(w.subsystem).Dec()
			t()
			continue
		}
		if w.q.drained() {
			return
		}
		<-w.q.Wait()
	}
}

func (w *Worker) enqueue(t func()) bool {
	depth := metrics.QueueDepth.WithLabelValues(w.subsystem)
	// Counted before the task becomes visible to run, which decrements it.
	depth.Inc()
	if !w.q.Enqueue(t) {
		depth.Dec()
		return false
	}
	return true
}

// Len returns the number of tasks waiting to start.
func (w *Worker) Len() int { return w.q.Len() }

// Closed reports whether the worker has stopped accepting tasks.
func (w *Worker) Closed() bool {
	w.q.mu.Lock()
	defer w.q.mu.Unlock()
	return w.q.closed
}

// Close stops accepting tasks, lets already queued tasks finish, and waits
// for the worker goroutine to exit. Close must not be called from a task
// running on the same worker; use Shutdown there.
func (w *Worker) Close() {
	w.q.Close()
	<-w.done
}

// Shutdown stops accepting tasks without waiting for the queue to drain.
func (w *Worker) Shutdown() {
	w.q.Close()
}

// Stopped selects once the worker goroutine has exited.
func (w *Worker) Stopped() <-chan struct{} { return w.done }

// Submit schedules fn on w and returns a Future for its result. If w is
// closed the future fails with STORE_CLOSED. A panic inside fn fails the
// future instead of killing the worker.
func Submit[T any](w *Worker, fn func() (T, error)) *Future[T] {
	f := NewFuture[T]()
	ok := w.enqueue(func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				f.Resolve(zero, fmt.Errorf("task panicked: %v", r))
			}
		}()
		v, err := fn()
		f.Resolve(v, err)
	})
	if !ok {
		var zero T
		f.Resolve(zero, storeerr.ErrStoreClosed)
	}
	return f
}

// Do is Submit for operations without a result value.
func Do(w *Worker, fn func() error) *Future[struct{}] {
	return Submit(w, func() (struct{}, error) {
		return struct{}{}, fn()
	})
}
