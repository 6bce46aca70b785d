package concurrency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNilTaskFunc is returned when a task is created without work
	ErrNilTaskFunc = errors.New("task function cannot be nil")

	// ErrTaskPanicked wraps the value recovered from a panicking TaskFunc
	ErrTaskPanicked = errors.New("task panicked")
)

// TaskFunc is the work carried by a Task.
// ctx is cancelled when the executor is stopped with ShutdownNow.
type TaskFunc func(ctx context.Context) error

// TaskState is the lifecycle state of a Task
type TaskState int32

const (
	TaskCreated TaskState = iota
	TaskRunning
	TaskDone
	TaskCancelled
	TaskRejected
)

func (s TaskState) String() string {
	switch s {
	case TaskCreated:
		return "CREATED"
	case TaskRunning:
		return "RUNNING"
	case TaskDone:
		return "DONE"
	case TaskCancelled:
		return "CANCELLED"
	case TaskRejected:
		return "REJECTED"
	default:
		return fmt.Sprintf("TaskState(%d)", int32(s))
	}
}

// IsTerminal reports whether no further transition is possible
func (s TaskState) IsTerminal() bool {
	return s == TaskDone || s == TaskCancelled || s == TaskRejected
}

// Task is a unit of work submitted to an executor.
// Its function is fixed at creation and invoked at most once.
//
// Transitions: CREATED -> RUNNING -> DONE, CREATED -> REJECTED,
// CREATED -> CANCELLED.
type Task struct {
	id        string
	name      string
	fn        TaskFunc
	createdAt time.Time

	state atomic.Int32
	done  chan struct{}

	mu  sync.Mutex
	err error
}

// NewTask creates a task with a generated name
func NewTask(fn TaskFunc) (*Task, error) {
	return NewNamedTask("", fn)
}

// NewNamedTask creates a task with a human-readable name for logs and spans
func NewNamedTask(name string, fn TaskFunc) (*Task, error) {
	if fn == nil {
		return nil, ErrNilTaskFunc
	}
	id := uuid.NewString()
	if name == "" {
		name = "task-" + id[:8]
	}
	return &Task{
		id:        id,
		name:      name,
		fn:        fn,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}, nil
}

// ID returns the unique task id
func (t *Task) ID() string { return t.id }

// Name returns the task name
func (t *Task) Name() string { return t.name }

// CreatedAt returns when the task was created
func (t *Task) CreatedAt() time.Time { return t.createdAt }

// State returns the current lifecycle state
func (t *Task) State() TaskState {
	return TaskState(t.state.Load())
}

// Done returns a channel closed once the task reaches a terminal state
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the error produced by the task function, or a wrapped
// ErrTaskPanicked. It is nil until the task is DONE.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Wait blocks until the task reaches a terminal state or ctx is done
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel moves a task that has not started to CANCELLED.
// Returns false if the task already left CREATED.
func (t *Task) Cancel() bool {
	return t.settle(TaskCancelled)
}

func (t *Task) String() string {
	return fmt.Sprintf("%s[%s]", t.name, t.State())
}

// begin claims the task for execution
func (t *Task) begin() bool {
	return t.state.CompareAndSwap(int32(TaskCreated), int32(TaskRunning))
}

// reject moves a task that was never admitted to REJECTED
func (t *Task) reject() bool {
	return t.settle(TaskRejected)
}

// settle moves a CREATED task straight to a terminal state
func (t *Task) settle(to TaskState) bool {
	if !t.state.CompareAndSwap(int32(TaskCreated), int32(to)) {
		return false
	}
	close(t.done)
	return true
}

// execute runs the function, converting a panic into ErrTaskPanicked
func (t *Task) execute(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return t.fn(ctx)
}

// finish records the result of a RUNNING task and marks it DONE
func (t *Task) finish(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
	if t.state.CompareAndSwap(int32(TaskRunning), int32(TaskDone)) {
		close(t.done)
	}
}
