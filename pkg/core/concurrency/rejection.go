package concurrency

import (
	"fmt"
	"strings"
)

// RejectionPolicy decides what happens to a task the executor cannot admit,
// either because it is no longer RUNNING or because the queue is full and
// the pool is at its max size.
type RejectionPolicy interface {
	// RejectedExecution handles t and reports whether it was accepted after all
	RejectedExecution(t *Task, e *ThreadManager) bool

	// Name identifies the policy in logs and metrics
	Name() string
}

// Rejection policy names accepted by ParseRejectionPolicy
const (
	PolicyAbort         = "abort"
	PolicyCallerRuns    = "caller_runs"
	PolicyDiscard       = "discard"
	PolicyDiscardOldest = "discard_oldest"
)

// ParseRejectionPolicy returns the built-in policy with the given name
func ParseRejectionPolicy(name string) (RejectionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyAbort:
		return NewAbortPolicy(nil), nil
	case PolicyCallerRuns:
		return CallerRunsPolicy{}, nil
	case PolicyDiscard:
		return DiscardPolicy{}, nil
	case PolicyDiscardOldest:
		return DiscardOldestPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown rejection policy %q", name)
	}
}

// AbortPolicy rejects the task and notifies a handler
type AbortPolicy struct {
	handler func(t *Task)
}

// NewAbortPolicy creates an abort policy. A nil handler logs the rejection
// with the executor's logger.
func NewAbortPolicy(handler func(t *Task)) *AbortPolicy {
	return &AbortPolicy{handler: handler}
}

// RejectedExecution implements RejectionPolicy
func (p *AbortPolicy) RejectedExecution(t *Task, e *ThreadManager) bool {
	t.reject()
	if p.handler != nil {
		p.handler(t)
		return false
	}
	e.logger.Warnf("executor %s (%s): task %s rejected", e.name, e.State(), t.Name())
	return false
}

// Name implements RejectionPolicy
func (p *AbortPolicy) Name() string { return PolicyAbort }

// CallerRunsPolicy runs the task on the submitting goroutine.
// Once the executor is shut down the task is dropped.
type CallerRunsPolicy struct{}

// RejectedExecution implements RejectionPolicy
func (CallerRunsPolicy) RejectedExecution(t *Task, e *ThreadManager) bool {
	if e.IsShutdown() {
		t.reject()
		return false
	}
	e.runTask(nil, t)
	return true
}

// Name implements RejectionPolicy
func (CallerRunsPolicy) Name() string { return PolicyCallerRuns }

// DiscardPolicy silently drops the task
type DiscardPolicy struct{}

// RejectedExecution implements RejectionPolicy
func (DiscardPolicy) RejectedExecution(t *Task, _ *ThreadManager) bool {
	t.reject()
	return false
}

// Name implements RejectionPolicy
func (DiscardPolicy) Name() string { return PolicyDiscard }

// DiscardOldestPolicy drops the task at the head of the queue and tries
// to admit the new one once more. The task is dropped when that fails or
// the executor is shut down.
type DiscardOldestPolicy struct{}

// RejectedExecution implements RejectionPolicy
func (DiscardOldestPolicy) RejectedExecution(t *Task, e *ThreadManager) bool {
	if e.IsShutdown() {
		t.reject()
		return false
	}
	if oldest, ok := e.queue.Get(); ok {
		oldest.reject()
		e.logger.Debugf("executor %s: discarded oldest task %s for %s", e.name, oldest.Name(), t.Name())
	}
	if e.admit(t, false, 0) {
		return true
	}
	t.reject()
	return false
}

// Name implements RejectionPolicy
func (DiscardOldestPolicy) Name() string { return PolicyDiscardOldest }
