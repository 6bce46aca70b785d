package queue

import (
	"context"
	"sync"
	"time"

	"github.com/fluxorio/taskexec/pkg/core/failfast"
)

type node[T any] struct {
	value T
	next  *node[T]
}

// LinkedQueue is an unbounded FIFO backed by a singly linked list.
// head always points at a sentinel node whose successor is the first element.
type LinkedQueue[T any] struct {
	mu        sync.Mutex
	head      *node[T]
	tail      *node[T]
	size      int
	destroyed bool
	notEmpty  changeSignal
}

var _ Queue[int] = (*LinkedQueue[int])(nil)

// NewLinkedQueue creates an empty unbounded queue
func NewLinkedQueue[T any]() *LinkedQueue[T] {
	sentinel := &node[T]{}
	return &LinkedQueue[T]{
		head:     sentinel,
		tail:     sentinel,
		notEmpty: newChangeSignal(),
	}
}

func (q *LinkedQueue[T]) addLocked(v T) bool {
	if q.destroyed {
		return false
	}
	n := &node[T]{value: v}
	q.tail.next = n
	q.tail = n
	q.size++
	q.notEmpty.broadcast()
	return true
}

func (q *LinkedQueue[T]) getLocked() (T, bool) {
	var zero T
	if q.destroyed {
		return zero, false
	}
	first := q.head.next
	if first == nil {
		return zero, false
	}
	v := first.value
	// first becomes the new sentinel
	first.value = zero
	q.head = first
	q.size--
	failfast.If(q.size >= 0, "linked queue size is %d", q.size)
	failfast.If(q.size > 0 || q.head == q.tail, "linked queue empty but tail detached")
	return v, true
}

func (q *LinkedQueue[T]) drainLocked() []T {
	out := make([]T, 0, q.size)
	for {
		v, ok := q.getLocked()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

// Add implements Queue. It fails only on a destroyed queue.
func (q *LinkedQueue[T]) Add(v T) bool {
	if q == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.addLocked(v)
}

// AddWait implements Queue. An unbounded queue never waits for room,
// so this is a single Add.
func (q *LinkedQueue[T]) AddWait(_ context.Context, v T, _ time.Duration) bool {
	return q.Add(v)
}

// Get implements Queue
func (q *LinkedQueue[T]) Get() (T, bool) {
	if q == nil {
		var zero T
		return zero, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.getLocked()
}

// GetWait implements Queue
func (q *LinkedQueue[T]) GetWait(ctx context.Context, timeout time.Duration) (T, bool) {
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
func (q *LinkedQueue[T]) Peek() (T, bool) {
	var zero T
	if q == nil {
		return zero, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed || q.head.next == nil {
		return zero, false
	}
	return q.head.next.value, true
}

// Clear implements Queue
func (q *LinkedQueue[T]) Clear() {
	q.ClearFunc(nil)
}

// ClearFunc implements Queue. discard runs after the lock is released.
func (q *LinkedQueue[T]) ClearFunc(discard func(T)) {
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
func (q *LinkedQueue[T]) Drain() []T {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drainLocked()
}

// RemoveFunc implements Queue. match is called with the lock held.
func (q *LinkedQueue[T]) RemoveFunc(match func(T) bool) int {
	if q == nil || match == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	prev := q.head
	for cur := prev.next; cur != nil; cur = prev.next {
		if !match(cur.value) {
			prev = cur
			continue
		}
		prev.next = cur.next
		if cur == q.tail {
			q.tail = prev
		}
		q.size--
		removed++
	}
	return removed
}

// Size implements Queue
func (q *LinkedQueue[T]) Size() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Capacity implements Queue
func (q *LinkedQueue[T]) Capacity() int {
	return Unbounded
}

// IsEmpty implements Queue
func (q *LinkedQueue[T]) IsEmpty() bool {
	return q.Size() == 0
}

// Destroy implements Queue
func (q *LinkedQueue[T]) Destroy() {
	if q == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed {
		return
	}
	sentinel := &node[T]{}
	q.head, q.tail, q.size = sentinel, sentinel, 0
	q.destroyed = true
	q.notEmpty.broadcast()
}
