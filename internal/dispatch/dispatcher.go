package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"timed-dispatch/internal/domain"
	"timed-dispatch/internal/logging"
	"timed-dispatch/internal/metrics"
	"timed-dispatch/internal/queue"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SlowTaskThreshold is the elapsed time above which a completed task is reported as slow.
const SlowTaskThreshold = 1000 * time.Millisecond

// State is the dispatcher lifecycle state. Running is the only state a
// dispatcher starts in; Stopped is terminal.
type State int32

const (
	StateRunning State = iota
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Stats is a point-in-time snapshot of dispatcher counters.
type Stats struct {
	State    string `json:"state"`
	Fired    uint64 `json:"fired"`
	Failed   uint64 `json:"failed"`
	Panicked uint64 `json:"panicked"`
	Slow     uint64 `json:"slow"`
	Pending  int    `json:"pending"`
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock replaces the clock used to time tasks.
func WithClock(clock domain.Clock) Option {
	return func(d *Dispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithSlowTaskThreshold overrides SlowTaskThreshold. Non-positive values are ignored.
func WithSlowTaskThreshold(threshold time.Duration) Option {
	return func(d *Dispatcher) {
		if threshold > 0 {
			d.threshold = threshold
		}
	}
}

// Dispatcher is the single consumer of a ReadyQueue.
type Dispatcher struct {
	queue     *queue.ReadyQueue
	diag      domain.DiagnosticLogger
	clock     domain.Clock
	threshold time.Duration
	logger    *slog.Logger
	tracer    trace.Tracer

	state    atomic.Int32
	done     chan struct{}
	fired    atomic.Uint64
	failed   atomic.Uint64
	panicked atomic.Uint64
	slow     atomic.Uint64
}

// Start launches the dispatch goroutine bound to q and returns it already running.
// diag receives failure and slow-task reports; wrap it with logging.Lazy to
// defer building it until the first report.
func Start(q *queue.ReadyQueue, diag domain.DiagnosticLogger, logger *slog.Logger, opts ...Option) *Dispatcher {
	if q == nil {
		panic("dispatch: Start called with nil ready queue")
	}
	if diag == nil {
		diag = logging.Discard()
	}
	if logger == nil {
		logger = logging.Nop()
	}

	d := &Dispatcher{
		queue:     q,
		diag:      diag,
		clock:     domain.SystemClock{},
		threshold: SlowTaskThreshold,
		logger:    logger.With("component", "dispatcher"),
		tracer:    otel.Tracer("timed-dispatch-dispatcher"),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.state.Store(int32(StateRunning))
	metrics.DispatcherRunning.Set(1)
	go d.loop()
	return d
}

// Shutdown stops the loop: the queue's stop flag is set and the blocked
// consumer is woken in one step. Safe to call more than once.
func (d *Dispatcher) Shutdown() {
	d.queue.Shutdown()
}

// Done is closed when the loop has exited.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until the loop exits or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current lifecycle state.
func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

// Stats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		State:    d.State().String(),
		Fired:    d.fired.Load(),
		Failed:   d.failed.Load(),
		Panicked: d.panicked.Load(),
		Slow:     d.slow.Load(),
		Pending:  d.queue.Len(),
	}
}

func (d *Dispatcher) loop() {
	d.logger.Info("dispatch loop started", "slow_task_threshold", d.threshold)
	defer func() {
		// producers must see ErrShutdown rather than queue into a dead loop
		d.queue.Shutdown()
		d.state.Store(int32(StateStopped))
		metrics.DispatcherRunning.Set(0)
		d.logger.Info("dispatch loop stopped", "pending", d.queue.Len(), "fired", d.fired.Load())
		close(d.done)
	}()

	for {
		if d.queue.Stopped() {
			return
		}
		task, ok := d.queue.DequeueBlocking()
		if !ok {
			continue
		}
		d.execute(task)
	}
}

func (d *Dispatcher) execute(task domain.Task) {
	id := TaskID(task)
	_, span := d.tracer.Start(context.Background(), "dispatch.Fire",
		trace.WithAttributes(attribute.String("task.id", id)))
	defer span.End()

	start := d.clock.Now()
	failure := d.fire(id, task)
	elapsed := d.clock.Now().Sub(start)

	d.fired.Add(1)
	metrics.TaskDuration.Observe(elapsed.Seconds())
	span.SetAttributes(attribute.Int64("task.elapsed_ms", elapsed.Milliseconds()))

	if failure != nil {
		d.failed.Add(1)
		outcome := "failed"
		switch {
		case failure.Panicked():
			d.panicked.Add(1)
			outcome = "panicked"
		case failure.Exited():
			outcome = "exited"
		}
		metrics.TasksFiredTotal.WithLabelValues(outcome).Inc()
		span.RecordError(failure)
		span.SetStatus(codes.Error, "task "+outcome)
		d.diag.Critical("task failed", id, failure)
		return
	}
	metrics.TasksFiredTotal.WithLabelValues("success").Inc()

	if elapsed > d.threshold {
		d.slow.Add(1)
		metrics.SlowTasksTotal.Inc()
		span.AddEvent("slow_task")
		d.diag.Warn("slow task", id, elapsed)
	}
}

// fire is the failure boundary: errors, panics and runtime.Goexit from the
// task all come back as a TaskFailure and never unwind into the loop. The
// task runs on its own goroutine and fire waits for it, so firing stays serial.
func (d *Dispatcher) fire(id string, task domain.Task) *domain.TaskFailure {
	result := make(chan *domain.TaskFailure, 1)
	go func() {
		var (
			failure      *domain.TaskFailure
			normalReturn bool
			recovered    bool
		)
		defer func() {
			if !normalReturn && !recovered {
				failure = &domain.TaskFailure{TaskID: id, Cause: domain.ErrTaskExited, Stack: debug.Stack()}
			}
			result <- failure
		}()

		func() {
			defer func() {
				if r := recover(); r != nil {
					recovered = true
					cause, ok := r.(error)
					if !ok {
						cause = fmt.Errorf("panic: %v", r)
					}
					failure = &domain.TaskFailure{TaskID: id, Cause: cause, Panic: r, Stack: debug.Stack()}
				}
			}()
			if err := task.Fire(); err != nil {
				failure = &domain.TaskFailure{TaskID: id, Cause: err}
			}
			normalReturn = true
		}()
	}()
	return <-result
}

// TaskID returns task.ID(), or the task's type name if ID panics.
func TaskID(task domain.Task) (id string) {
	defer func() {
		if recover() != nil {
			id = fmt.Sprintf("%T", task)
		}
	}()
	return task.ID()
}
