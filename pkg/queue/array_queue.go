package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fluxorio/taskexec/pkg/arraylist"
	"github.com/fluxorio/taskexec/pkg/core/failfast"
)

// ArrayQueue is a bounded FIFO backed by a fixed ring of slots
type ArrayQueue[T any] struct {
	mu        sync.Mutex
	slots     *arraylist.ArrayList[T]
	capacity  int
	head      int // next slot to read
	tail      int // next slot to write
	size      int
	destroyed bool
	notEmpty  changeSignal
	notFull   changeSignal
}

var _ Queue[int] = (*ArrayQueue[int])(nil)

// NewArrayQueue creates a bounded queue holding at most capacity elements
func NewArrayQueue[T any](capacity int) (*ArrayQueue[T], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("new array queue with capacity %d: %w", capacity, ErrInvalidCapacity)
	}

	slots := arraylist.New[T](capacity)
	var zero T
	for i := 0; i < capacity; i++ {
		slots.Append(zero)
	}

	return &ArrayQueue[T]{
		slots:    slots,
		capacity: capacity,
		notEmpty: newChangeSignal(),
		notFull:  newChangeSignal(),
	}, nil
}

func (q *ArrayQueue[T]) advance(i int) int {
	if i == q.capacity-1 {
		return 0
	}
	return i + 1
}

func (q *ArrayQueue[T]) addLocked(v T) bool {
	if q.destroyed || q.size == q.capacity {
		return false
	}
	failfast.Err(q.slots.Set(q.tail, v))
	q.tail = q.advance(q.tail)
	q.size++
	failfast.InRange("array queue size", q.size, 0, q.capacity)
	q.notEmpty.broadcast()
	return true
}

func (q *ArrayQueue[T]) getLocked() (T, bool) {
	var zero T
	if q.destroyed || q.size == 0 {
		return zero, false
	}
	v, err := q.slots.Get(q.head)
	failfast.Err(err)
	// release the reference held by the slot
	failfast.Err(q.slots.Set(q.head, zero))
	q.head = q.advance(q.head)
	q.size--
	failfast.InRange("array queue size", q.size, 0, q.capacity)
	q.notFull.broadcast()
	return v, true
}

func (q *ArrayQueue[T]) drainLocked() []T {
	out := make([]T, 0, q.size)
	for q.size > 0 {
		v, _ := q.getLocked()
		out = append(out, v)
	}
	q.head, q.tail = 0, 0
	return out
}

// Add implements Queue
func (q *ArrayQueue[T]) Add(v T) bool {
	if q == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.addLocked(v)
}

// AddWait implements Queue
func (q *ArrayQueue[T]) AddWait(ctx context.Context, v T, timeout time.Duration) bool {
	if q == nil {
		return false
	}
	return retry(ctx, &q.mu, timeout, func() (bool, <-chan struct{}) {
		if q.addLocked(v) {
			return true, nil
		}
		if q.destroyed {
			return false, nil
		}
		return false, q.notFull.wait()
	})
}

// Get implements Queue
func (q *ArrayQueue[T]) Get() (T, bool) {
	if q == nil {
		var zero T
		return zero, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.getLocked()
}

// GetWait implements Queue
func (q *ArrayQueue[T]) GetWait(ctx context.Context, timeout time.Duration) (T, bool) {
	var v T
	if q == nil {
		return v, false
	}
	ok := retry(ctx, &q.mu, timeout, func() (bool, <-chan struct{}) {
		var got bool
		if v, got = q.getLocked(); got {
			return true, nil
		}
		if q.destroyed {
			return false, nil
		}
		return false, q.notEmpty.wait()
	})
	return v, ok
}

// Peek implements Queue
func (q *ArrayQueue[T]) Peek() (T, bool) {
	var zero T
	if q == nil {
		return zero, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed || q.size == 0 {
		return zero, false
	}
	v, err := q.slots.Get(q.head)
	failfast.Err(err)
	return v, true
}

// Clear implements Queue
func (q *ArrayQueue[T]) Clear() {
	q.ClearFunc(nil)
}

// ClearFunc implements Queue. discard runs after the lock is released.
func (q *ArrayQueue[T]) ClearFunc(discard func(T)) {
	if q == nil {
		return
	}
	q.mu.Lock()
	dropped := q.drainLocked()
	q.mu.Unlock()

	if discard == nil {
		return
	}
	for _, v := range dropped {
		discard(v)
	}
}

// Drain implements Queue
func (q *ArrayQueue[T]) Drain() []T {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drainLocked()
}

// RemoveFunc implements Queue. match is called with the lock held.
func (q *ArrayQueue[T]) RemoveFunc(match func(T) bool) int {
	if q == nil || match == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for _, v := range q.drainLocked() {
		if match(v) {
			removed++
			continue
		}
		q.addLocked(v)
	}
	return removed
}

// Size implements Queue
func (q *ArrayQueue[T]) Size() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Capacity implements Queue
func (q *ArrayQueue[T]) Capacity() int {
	if q == nil {
		return 0
	}
	return q.capacity
}

// IsEmpty implements Queue
func (q *ArrayQueue[T]) IsEmpty() bool {
	return q.Size() == 0
}

// Destroy implements Queue
func (q *ArrayQueue[T]) Destroy() {
	if q == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed {
		return
	}
	q.slots.Clear()
	q.head, q.tail, q.size = 0, 0, 0
	q.destroyed = true
	q.notEmpty.broadcast()
	q.notFull.broadcast()
}
