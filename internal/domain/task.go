// internal/domain/task.go
package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTaskPanicked matches a TaskFailure whose task panicked instead of returning an error.
	ErrTaskPanicked = errors.New("task panicked")
	// ErrTaskExited is the cause of a TaskFailure whose task ended its goroutine
	// (runtime.Goexit) without returning or panicking.
	ErrTaskExited = errors.New("task exited its goroutine without returning")
)

// Task is a unit of ready work handed to the dispatcher by a producer.
// Fire carries no result back to the queue; a returned error or a panic is a failure.
type Task interface {
	ID() string
	Fire() error
}

// TaskQueue is the producer side of the ready queue.
type TaskQueue interface {
	Enqueue(task Task) error
}

type funcTask struct {
	id string
	fn func() error
}

func (t *funcTask) ID() string  { return t.id }
func (t *funcTask) Fire() error { return t.fn() }

// NewTask wraps fn as a Task with the given identity.
func NewTask(id string, fn func() error) Task {
	return &funcTask{id: id, fn: fn}
}

// TaskFailure describes a task that failed while being fired.
type TaskFailure struct {
	TaskID string
	Cause  error
	Panic  any    // recovered value, nil when the task returned an error
	Stack  []byte // stack captured at recovery, for panics and exits
}

func (f *TaskFailure) Error() string {
	if f.Panic != nil {
		return fmt.Sprintf("task %s panicked: %v", f.TaskID, f.Panic)
	}
	return fmt.Sprintf("task %s failed: %v", f.TaskID, f.Cause)
}

func (f *TaskFailure) Unwrap() error { return f.Cause }

// Is reports ErrTaskPanicked for recovered panics.
func (f *TaskFailure) Is(target error) bool {
	return target == ErrTaskPanicked && f.Panic != nil
}

// Exited reports whether the task called runtime.Goexit.
func (f *TaskFailure) Exited() bool { return errors.Is(f.Cause, ErrTaskExited) }

// Panicked reports whether the failure came from a recovered panic.
func (f *TaskFailure) Panicked() bool { return f.Panic != nil }
