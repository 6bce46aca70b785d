package concurrency

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrInvalidPoolSize is returned for sizes outside 0 <= core <= max, max >= 1
	ErrInvalidPoolSize = errors.New("invalid thread pool size")

	// ErrInvalidKeepAlive is returned for a negative keep-alive
	ErrInvalidKeepAlive = errors.New("keep-alive cannot be negative")
)

// Worker is a handle on one worker goroutine.
// Handles stay valid after the worker exits.
type Worker struct {
	id        uint64
	core      bool
	startedAt time.Time
	completed atomic.Int64

	first *Task
}

// ID returns the worker id, unique within its pool
func (w *Worker) ID() uint64 { return w.id }

// IsCore reports whether the worker was started while the pool was below its core size
func (w *Worker) IsCore() bool { return w.core }

// StartedAt returns when the worker was started
func (w *Worker) StartedAt() time.Time { return w.startedAt }

// Completed returns how many tasks this worker has run
func (w *Worker) Completed() int64 { return w.completed.Load() }

// takeFirst hands over the task the worker was started with
func (w *Worker) takeFirst() *Task {
	t := w.first
	w.first = nil
	return t
}

// WorkerStats is a point-in-time view of a worker
type WorkerStats struct {
	ID        uint64
	Core      bool
	StartedAt time.Time
	Completed int64
}

// ThreadPool tracks the worker goroutines of an executor and enforces
// its size bounds. It does not pull work on its own; the owner supplies
// the loop each worker runs.
type ThreadPool struct {
	coreSize  int
	maxSize   int
	keepAlive time.Duration

	mu               sync.Mutex
	workers          map[uint64]*Worker
	nextID           uint64
	largest          int
	retiredCompleted int64

	wg sync.WaitGroup
}

// NewThreadPool creates an empty pool with the given bounds
func NewThreadPool(coreSize, maxSize int, keepAlive time.Duration) (*ThreadPool, error) {
	if coreSize < 0 || maxSize < 1 || coreSize > maxSize {
		return nil, fmt.Errorf("core=%d max=%d: %w", coreSize, maxSize, ErrInvalidPoolSize)
	}
	if keepAlive < 0 {
		return nil, fmt.Errorf("keep-alive %v: %w", keepAlive, ErrInvalidKeepAlive)
	}
	return &ThreadPool{
		coreSize:  coreSize,
		maxSize:   maxSize,
		keepAlive: keepAlive,
		workers:   make(map[uint64]*Worker),
	}, nil
}

// CoreSize returns the number of workers kept alive while idle
func (p *ThreadPool) CoreSize() int { return p.coreSize }

// MaxSize returns the upper bound on workers
func (p *ThreadPool) MaxSize() int { return p.maxSize }

// KeepAlive returns how long a non-core worker may stay idle
func (p *ThreadPool) KeepAlive() time.Duration { return p.keepAlive }

// Size returns the current number of workers
func (p *ThreadPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// LargestSize returns the largest number of workers seen at once
func (p *ThreadPool) LargestSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.largest
}

// CompletedTasks returns the tasks run by current and exited workers
func (p *ThreadPool) CompletedTasks() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := p.retiredCompleted
	for _, w := range p.workers {
		total += w.Completed()
	}
	return total
}

// Workers returns a snapshot of the live workers ordered by id
func (p *ThreadPool) Workers() []WorkerStats {
	p.mu.Lock()
	out := make([]WorkerStats, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, WorkerStats{
			ID:        w.id,
			Core:      w.core,
			StartedAt: w.startedAt,
			Completed: w.Completed(),
		})
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Wait blocks until every worker has exited or ctx is done
func (p *ThreadPool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for workers: %w", ctx.Err())
	}
}

// spawn starts a worker running run if the pool is below its max size.
// exited is called after the worker has been removed, with the number
// of workers remaining.
func (p *ThreadPool) spawn(first *Task, run func(*Worker), exited func(*Worker, int)) (*Worker, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.workers) >= p.maxSize {
		return nil, false
	}
	return p.spawnLocked(first, run, exited), true
}

// spawnIfEmpty starts a worker only when no worker is alive
func (p *ThreadPool) spawnIfEmpty(run func(*Worker), exited func(*Worker, int)) (*Worker, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.workers) > 0 {
		return nil, false
	}
	return p.spawnLocked(nil, run, exited), true
}

func (p *ThreadPool) spawnLocked(first *Task, run func(*Worker), exited func(*Worker, int)) *Worker {
	p.nextID++
	w := &Worker{
		id:        p.nextID,
		core:      len(p.workers) < p.coreSize,
		startedAt: time.Now(),
		first:     first,
	}
	p.workers[w.id] = w
	if len(p.workers) > p.largest {
		p.largest = len(p.workers)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		run(w)
		remaining := p.remove(w)
		if exited != nil {
			exited(w, remaining)
		}
	}()
	return w
}

// tryRetire removes an idle worker if the pool is above its core size.
// The size check and the removal are one step so concurrent retirements
// cannot take the pool below core.
func (p *ThreadPool) tryRetire(w *Worker) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.workers) <= p.coreSize {
		return false
	}
	p.dropLocked(w)
	return true
}

// remove drops an exiting worker and returns how many remain
func (p *ThreadPool) remove(w *Worker) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropLocked(w)
	return len(p.workers)
}

func (p *ThreadPool) dropLocked(w *Worker) {
	if _, ok := p.workers[w.id]; !ok {
		return
	}
	delete(p.workers, w.id)
	p.retiredCompleted += w.Completed()
}
