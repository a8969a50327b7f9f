// Package queue holds the ready queue: the FIFO handoff between the timer
// subsystem's producers and the dispatcher.
package queue

import (
	"errors"
	"sync"

	"timed-dispatch/internal/domain"
	"timed-dispatch/internal/metrics"

	"github.com/eapache/queue"
)

var (
	// ErrShutdown is returned by Enqueue once the queue has been shut down.
	ErrShutdown = errors.New("ready queue is shut down")
	// ErrNilTask is returned when a nil task is enqueued.
	ErrNilTask = errors.New("nil task")
)

// ReadyQueue is a FIFO of ready tasks plus the shutdown flag. Both live under
// one mutex/condition pair, so a producer's signal can never fall between a
// consumer's emptiness check and its wait.
type ReadyQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   *queue.Queue
	stopped bool
}

// New creates an empty, running ReadyQueue.
func New() *ReadyQueue {
	q := &ReadyQueue{tasks: queue.New()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends task at the tail and wakes one waiting consumer.
// It never waits for a consumer.
func (q *ReadyQueue) Enqueue(task domain.Task) error {
	if task == nil {
		return ErrNilTask
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return ErrShutdown
	}
	q.tasks.Add(task)
	q.reportDepth()
	q.cond.Signal()
	return nil
}

// DequeueBlocking removes and returns the head task, waiting while the queue
// is empty. It returns false, removing nothing, once the queue is shut down.
func (q *ReadyQueue) DequeueBlocking() (domain.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.stopped && q.tasks.Length() == 0 {
		q.cond.Wait()
	}
	if q.stopped {
		return nil, false
	}
	task := q.tasks.Remove().(domain.Task)
	q.reportDepth()
	return task, true
}

// Shutdown sets the shutdown flag and wakes every waiter in the same critical
// section. Calling it again has no further effect.
func (q *ReadyQueue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	q.stopped = true
	q.cond.Broadcast()
}

// Stopped reports whether Shutdown has been called.
func (q *ReadyQueue) Stopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}

// Len returns the number of pending tasks.
func (q *ReadyQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks.Length()
}

// Drain removes and returns every pending task, oldest first.
func (q *ReadyQueue) Drain() []domain.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]domain.Task, 0, q.tasks.Length())
	for q.tasks.Length() > 0 {
		out = append(out, q.tasks.Remove().(domain.Task))
	}
	q.reportDepth()
	return out
}

// reportDepth publishes the backlog size. Callers hold q.mu.
func (q *ReadyQueue) reportDepth() {
	metrics.ReadyQueueDepth.Set(float64(q.tasks.Length()))
}
