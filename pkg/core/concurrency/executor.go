package concurrency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/taskexec/pkg/core"
	"github.com/fluxorio/taskexec/pkg/observability/prometheus"
	"github.com/fluxorio/taskexec/pkg/queue"
)

var (
	// ErrNilQueue is returned when an executor is configured without a work queue
	ErrNilQueue = errors.New("executor requires a work queue")
)

// State is the executor lifecycle state. It only moves forward:
// RUNNING -> SHUTDOWN -> STOP -> TERMINATED, possibly skipping states.
type State int32

const (
	// StateRunning accepts new tasks and processes queued ones
	StateRunning State = iota
	// StateShutdown rejects new tasks and drains the queue
	StateShutdown
	// StateStop rejects new tasks and abandons queued ones
	StateStop
	// StateTerminated means every worker has exited
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateShutdown:
		return "SHUTDOWN"
	case StateStop:
		return "STOP"
	case StateTerminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ExecutorStats provides statistics about executor performance
type ExecutorStats struct {
	Name             string
	State            State
	QueuedTasks      int     // Current number of queued tasks
	QueueCapacity    int     // Maximum queue capacity, queue.Unbounded if none
	QueueUtilization float64 // Queue utilization percentage, 0 when unbounded
	PoolSize         int     // Current number of workers
	CoreSize         int
	MaxSize          int
	LargestPoolSize  int
	SubmittedTasks   int64 // Tasks accepted (queued, handed to a worker, or accepted by the rejection policy)
	CompletedTasks   int64 // Tasks that finished running, with or without error
	FailedTasks      int64 // Completed tasks that returned an error or panicked
	RejectedTasks    int64 // Tasks the rejection policy did not accept
	CancelledTasks   int64 // Tasks purged or abandoned after STOP
	Workers          []WorkerStats
}

// Executor accepts tasks and runs them on a bounded set of worker goroutines
type Executor interface {
	// Submit wraps fn in a Task and submits it.
	// Returns true if the task was accepted.
	Submit(fn TaskFunc) bool

	// SubmitTask submits a task that is still CREATED.
	// When the queue is full and the pool cannot grow, the rejection
	// policy decides the outcome.
	SubmitTask(t *Task) bool

	// SubmitWithTimeout waits up to timeout for room in the queue
	// before falling back to the rejection policy
	SubmitWithTimeout(t *Task, timeout time.Duration) bool

	// Shutdown stops accepting tasks; queued tasks still run
	Shutdown()

	// ShutdownNow stops accepting tasks, cancels running ones and
	// returns the tasks that never started
	ShutdownNow() queue.Queue[*Task]

	// IsShutdown reports whether the executor left RUNNING
	IsShutdown() bool

	// IsTerminating reports whether the executor is shutting down but not terminated
	IsTerminating() bool

	// IsTerminated reports whether every worker has exited after shutdown
	IsTerminated() bool

	// AwaitTermination blocks until TERMINATED or ctx is done
	AwaitTermination(ctx context.Context) error

	// PurgeCancelled removes cancelled tasks from the queue
	PurgeCancelled() int

	// Stats returns current executor statistics
	Stats() ExecutorStats
}

// ExecutorConfig configures an Executor
type ExecutorConfig struct {
	Name      string
	CoreSize  int           // Workers kept alive while idle
	MaxSize   int           // Upper bound on workers
	KeepAlive time.Duration // Idle time after which non-core workers exit

	// Queue holds tasks waiting for a worker. Required.
	Queue queue.Queue[*Task]

	// RejectionPolicy handles tasks that cannot be admitted. Defaults to abort.
	RejectionPolicy RejectionPolicy

	// Optional hooks run on the worker around every task
	BeforeExecute func(t *Task)
	AfterExecute  func(t *Task, err error)

	Logger         core.Logger
	Metrics        *prometheus.Metrics
	TracerProvider trace.TracerProvider
}

// DefaultExecutorConfig returns default executor configuration
func DefaultExecutorConfig() ExecutorConfig {
	q, _ := queue.NewArrayQueue[*Task](1000)
	return ExecutorConfig{
		Name:      "default",
		CoreSize:  4,
		MaxSize:   10,
		KeepAlive: 60 * time.Second,
		Queue:     q,
	}
}
