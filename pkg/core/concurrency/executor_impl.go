package concurrency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/taskexec/pkg/core"
	"github.com/fluxorio/taskexec/pkg/observability/prometheus"
	"github.com/fluxorio/taskexec/pkg/observability/tracing"
	"github.com/fluxorio/taskexec/pkg/queue"
)

// ThreadManager implements Executor on top of a Queue and a ThreadPool.
//
// Locking: stateMu guards lifecycle transitions and is held for reading
// across admission, so no task is queued once SHUTDOWN is visible.
// mu guards the counters. Neither is ever held while waiting on the queue
// except for the bounded admission wait, which shutdown releases first.
type ThreadManager struct {
	name   string
	queue  queue.Queue[*Task]
	pool   *ThreadPool
	policy RejectionPolicy

	beforeExecute func(*Task)
	afterExecute  func(*Task, error)

	logger  core.Logger
	metrics *prometheus.Metrics
	tracer  trace.Tracer

	stateMu    sync.RWMutex
	state      atomic.Int32
	terminated chan struct{}

	// submitCtx releases blocked admissions, wakeCtx releases idle
	// workers, runCtx is handed to tasks and cancelled on STOP
	submitCtx    context.Context
	submitCancel context.CancelFunc
	wakeCtx      context.Context
	wakeCancel   context.CancelFunc
	runCtx       context.Context
	runCancel    context.CancelFunc

	mu        sync.Mutex
	submitted int64
	completed int64
	failed    int64
	rejected  int64
	cancelled int64
}

var _ Executor = (*ThreadManager)(nil)

// NewExecutor creates an executor and starts its core workers.
// Cancelling ctx has the same effect as ShutdownNow.
func NewExecutor(ctx context.Context, config ExecutorConfig) (*ThreadManager, error) {
	if config.Queue == nil {
		return nil, ErrNilQueue
	}
	pool, err := NewThreadPool(config.CoreSize, config.MaxSize, config.KeepAlive)
	if err != nil {
		return nil, err
	}
	if config.Name == "" {
		config.Name = "default"
	}
	if config.Logger == nil {
		config.Logger = core.NewComponentLogger("executor")
	}
	if config.RejectionPolicy == nil {
		config.RejectionPolicy = NewAbortPolicy(nil)
	}
	if config.Metrics == nil {
		config.Metrics = prometheus.GetMetrics()
	}

	e := &ThreadManager{
		name:          config.Name,
		queue:         config.Queue,
		pool:          pool,
		policy:        config.RejectionPolicy,
		beforeExecute: config.BeforeExecute,
		afterExecute:  config.AfterExecute,
		logger:        config.Logger,
		metrics:       config.Metrics,
		tracer:        tracing.Tracer(config.TracerProvider),
		terminated:    make(chan struct{}),
	}
	e.submitCtx, e.submitCancel = context.WithCancel(context.Background())
	e.wakeCtx, e.wakeCancel = context.WithCancel(context.Background())
	e.runCtx, e.runCancel = context.WithCancel(context.WithoutCancel(ctx))

	for i := 0; i < pool.CoreSize(); i++ {
		e.startWorker(nil)
	}
	context.AfterFunc(ctx, func() {
		if pending := e.ShutdownNow(); !pending.IsEmpty() {
			e.logger.Warnf("executor %s: context done, %d queued tasks abandoned", e.name, pending.Size())
		}
	})

	e.publish()
	e.logger.Debugf("executor %s started: core=%d max=%d keepAlive=%v queueCapacity=%d",
		e.name, pool.CoreSize(), pool.MaxSize(), pool.KeepAlive(), e.queue.Capacity())
	return e, nil
}

// Name returns the executor name
func (e *ThreadManager) Name() string { return e.name }

// Queue returns the work queue
func (e *ThreadManager) Queue() queue.Queue[*Task] { return e.queue }

// Pool returns the worker pool
func (e *ThreadManager) Pool() *ThreadPool { return e.pool }

// State returns the current lifecycle state
func (e *ThreadManager) State() State {
	return State(e.state.Load())
}

// IsShutdown implements Executor
func (e *ThreadManager) IsShutdown() bool {
	return e.State() >= StateShutdown
}

// IsTerminating implements Executor
func (e *ThreadManager) IsTerminating() bool {
	s := e.State()
	return s >= StateShutdown && s < StateTerminated
}

// IsTerminated implements Executor
func (e *ThreadManager) IsTerminated() bool {
	return e.State() == StateTerminated
}

// Terminated returns a channel closed on TERMINATED
func (e *ThreadManager) Terminated() <-chan struct{} {
	return e.terminated
}

// CompletedTasks returns the number of tasks that finished running
func (e *ThreadManager) CompletedTasks() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completed
}

// Submit implements Executor
func (e *ThreadManager) Submit(fn TaskFunc) bool {
	t, err := NewTask(fn)
	if err != nil {
		return false
	}
	return e.SubmitTask(t)
}

// SubmitTask implements Executor
func (e *ThreadManager) SubmitTask(t *Task) bool {
	return e.submit(t, false, 0)
}

// SubmitWithTimeout implements Executor.
// A negative timeout waits until the executor is shut down.
func (e *ThreadManager) SubmitWithTimeout(t *Task, timeout time.Duration) bool {
	return e.submit(t, true, timeout)
}

func (e *ThreadManager) submit(t *Task, wait bool, timeout time.Duration) bool {
	if t == nil || t.State() != TaskCreated {
		return false
	}
	if e.admit(t, wait, timeout) {
		e.mu.Lock()
		e.submitted++
		e.mu.Unlock()
		e.metrics.RecordSubmitted(e.name)
		e.publish()
		return true
	}

	if !e.policy.RejectedExecution(t, e) {
		e.mu.Lock()
		e.rejected++
		e.mu.Unlock()
		e.metrics.RecordRejected(e.name, e.policy.Name())
		return false
	}
	e.mu.Lock()
	e.submitted++
	e.mu.Unlock()
	e.metrics.RecordSubmitted(e.name)
	e.publish()
	return true
}

// admit queues t or hands it to a new worker. It fails when the executor
// is not RUNNING, or the queue is full and the pool is at its max size.
func (e *ThreadManager) admit(t *Task, wait bool, timeout time.Duration) bool {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	if e.State() != StateRunning {
		return false
	}

	var queued bool
	if wait {
		queued = e.queue.AddWait(e.submitCtx, t, timeout)
	} else {
		queued = e.queue.Add(t)
	}
	if queued {
		// core size 0, or every worker retired
		e.pool.spawnIfEmpty(e.workerLoop, e.workerExited)
		return true
	}
	return e.startWorker(t)
}

// startWorker starts a worker that runs first before polling the queue
func (e *ThreadManager) startWorker(first *Task) bool {
	w, ok := e.pool.spawn(first, e.workerLoop, e.workerExited)
	if ok {
		e.logger.Debugf("executor %s: worker %d started (core=%v)", e.name, w.ID(), w.IsCore())
	}
	return ok
}

func (e *ThreadManager) workerLoop(w *Worker) {
	t := w.takeFirst()
	for {
		if t != nil {
			e.runTask(w, t)
		}
		var ok bool
		if t, ok = e.nextTask(w); !ok {
			return
		}
	}
}

// nextTask returns the next task for w, or false when w should exit
func (e *ThreadManager) nextTask(w *Worker) (*Task, bool) {
	for {
		switch e.State() {
		case StateRunning:
		case StateShutdown:
			return e.queue.Get()
		default:
			return nil, false
		}

		timeout := queue.NoTimeout
		if !w.IsCore() {
			timeout = e.pool.KeepAlive()
		}

		start := time.Now()
		t, ok := e.queue.GetWait(e.wakeCtx, timeout)
		if ok {
			return t, true
		}
		if e.wakeCtx.Err() != nil {
			continue
		}
		if timeout < 0 || time.Since(start) < timeout {
			// the queue was destroyed under us
			e.logger.Warnf("executor %s: worker %d lost its queue", e.name, w.ID())
			return nil, false
		}
		if e.pool.tryRetire(w) {
			e.metrics.RecordWorkerRetired(e.name)
			e.logger.Debugf("executor %s: worker %d retired after %v idle", e.name, w.ID(), timeout)
			return nil, false
		}
	}
}

func (e *ThreadManager) workerExited(w *Worker, remaining int) {
	if remaining == 0 && e.State() < StateStop && !e.queue.IsEmpty() {
		e.pool.spawnIfEmpty(e.workerLoop, e.workerExited)
	}
	e.publish()
	e.tryTerminate()
}

// runTask runs t on w, or on the calling goroutine when w is nil
func (e *ThreadManager) runTask(w *Worker, t *Task) {
	// STOP cannot land between the state check and begin
	e.stateMu.RLock()
	stopped := e.State() >= StateStop
	began := !stopped && t.begin()
	e.stateMu.RUnlock()
	if stopped {
		if t.Cancel() {
			e.recordCancelled(1)
		}
		return
	}
	if !began {
		// cancelled while queued
		return
	}

	ctx, span := e.tracer.Start(core.WithTaskID(e.runCtx, t.ID()), "task.execute",
		trace.WithAttributes(
			attribute.String("executor.name", e.name),
			attribute.String("task.id", t.ID()),
			attribute.String("task.name", t.Name()),
		))
	start := time.Now()

	e.runHook("before", func() {
		if e.beforeExecute != nil {
			e.beforeExecute(t)
		}
	})
	err := t.execute(ctx)
	e.runHook("after", func() {
		if e.afterExecute != nil {
			e.afterExecute(t, err)
		}
	})
	t.finish(err)
	elapsed := time.Since(start)

	outcome := prometheus.OutcomeOK
	if err != nil {
		outcome = prometheus.OutcomeError
		if errors.Is(err, ErrTaskPanicked) {
			outcome = prometheus.OutcomePanic
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.WithContext(ctx).Errorf("task %s failed: %v", t.Name(), err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	if w != nil {
		w.completed.Add(1)
	}
	e.mu.Lock()
	e.completed++
	if err != nil {
		e.failed++
	}
	e.mu.Unlock()
	e.metrics.RecordCompleted(e.name, outcome, elapsed)
	e.publish()
}

func (e *ThreadManager) runHook(name string, hook func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Errorf("executor %s: %s-execute hook panicked: %v", e.name, name, r)
		}
	}()
	hook()
}

// advance moves the lifecycle forward to s. It never moves backward.
func (e *ThreadManager) advance(s State) bool {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.State() >= s {
		return false
	}
	e.state.Store(int32(s))
	return true
}

// Shutdown implements Executor
func (e *ThreadManager) Shutdown() {
	e.submitCancel()
	if e.advance(StateShutdown) {
		e.logger.Infof("executor %s shutting down, %d tasks queued", e.name, e.queue.Size())
	}
	e.wakeCancel()

	if !e.queue.IsEmpty() {
		e.pool.spawnIfEmpty(e.workerLoop, e.workerExited)
	}
	e.publish()
	e.tryTerminate()
}

// ShutdownNow implements Executor. The returned tasks are still CREATED
// and may be resubmitted elsewhere.
func (e *ThreadManager) ShutdownNow() queue.Queue[*Task] {
	e.submitCancel()
	if e.advance(StateStop) {
		e.logger.Infof("executor %s stopping", e.name)
	}
	e.wakeCancel()
	e.runCancel()

	pending := queue.NewLinkedQueue[*Task]()
	for _, t := range e.queue.Drain() {
		pending.Add(t)
	}
	e.publish()
	e.tryTerminate()
	return pending
}

// tryTerminate moves to TERMINATED once no worker is alive and nothing is
// left to run
func (e *ThreadManager) tryTerminate() {
	s := e.State()
	if s < StateShutdown || s == StateTerminated {
		return
	}
	if s == StateShutdown && !e.queue.IsEmpty() {
		return
	}
	if e.pool.Size() > 0 {
		return
	}
	if !e.advance(StateTerminated) {
		return
	}

	e.runCancel()
	close(e.terminated)
	e.publish()
	e.logger.Infof("executor %s terminated, %d tasks completed", e.name, e.CompletedTasks())
}

// AwaitTermination implements Executor
func (e *ThreadManager) AwaitTermination(ctx context.Context) error {
	select {
	case <-e.terminated:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PurgeCancelled implements Executor
func (e *ThreadManager) PurgeCancelled() int {
	n := e.queue.RemoveFunc(func(t *Task) bool {
		return t.State() == TaskCancelled
	})
	if n > 0 {
		e.recordCancelled(n)
		e.logger.Debugf("executor %s: purged %d cancelled tasks", e.name, n)
	}
	e.publish()
	e.tryTerminate()
	return n
}

func (e *ThreadManager) recordCancelled(n int) {
	e.mu.Lock()
	e.cancelled += int64(n)
	e.mu.Unlock()
	for i := 0; i < n; i++ {
		e.metrics.RecordCompleted(e.name, prometheus.OutcomeCancelled, 0)
	}
}

// Stats implements Executor
func (e *ThreadManager) Stats() ExecutorStats {
	queued := e.queue.Size()
	capacity := e.queue.Capacity()

	var utilization float64
	if capacity > 0 {
		utilization = float64(queued) / float64(capacity) * 100.0
		if utilization > 100.0 {
			utilization = 100.0
		}
	}

	stats := ExecutorStats{
		Name:             e.name,
		State:            e.State(),
		QueuedTasks:      queued,
		QueueCapacity:    capacity,
		QueueUtilization: utilization,
		PoolSize:         e.pool.Size(),
		CoreSize:         e.pool.CoreSize(),
		MaxSize:          e.pool.MaxSize(),
		LargestPoolSize:  e.pool.LargestSize(),
		Workers:          e.pool.Workers(),
	}

	e.mu.Lock()
	stats.SubmittedTasks = e.submitted
	stats.CompletedTasks = e.completed
	stats.FailedTasks = e.failed
	stats.RejectedTasks = e.rejected
	stats.CancelledTasks = e.cancelled
	e.mu.Unlock()

	return stats
}

// Report logs the executor and per-worker status
func (e *ThreadManager) Report() {
	s := e.Stats()
	e.logger.Infof("executor %s: state=%s pool=%d/%d (core %d, largest %d) queued=%d submitted=%d completed=%d failed=%d rejected=%d cancelled=%d",
		s.Name, s.State, s.PoolSize, s.MaxSize, s.CoreSize, s.LargestPoolSize,
		s.QueuedTasks, s.SubmittedTasks, s.CompletedTasks, s.FailedTasks, s.RejectedTasks, s.CancelledTasks)
	for _, w := range s.Workers {
		e.logger.Infof("executor %s: worker %d core=%v up=%v completed=%d",
			s.Name, w.ID, w.Core, time.Since(w.StartedAt).Round(time.Millisecond), w.Completed)
	}
}

func (e *ThreadManager) publish() {
	if e.metrics == nil {
		return
	}
	e.metrics.UpdateQueue(e.name, e.queue.Size(), e.queue.Capacity())
	e.metrics.UpdatePool(e.name, e.pool.Size(), e.pool.LargestSize())
	e.metrics.UpdateExecutorState(e.name, int(e.State()))
}
