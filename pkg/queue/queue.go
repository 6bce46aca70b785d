// Package queue provides FIFO work queues with blocking, timeout-bounded
// access. Two backends satisfy the same Queue contract: ArrayQueue, a
// fixed-capacity ring, and LinkedQueue, an unbounded linked list.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidCapacity is returned when a bounded queue is created with capacity < 1
	ErrInvalidCapacity = errors.New("queue: capacity must be positive")
)

const (
	// NoTimeout makes AddWait/GetWait wait until their context is done
	NoTimeout time.Duration = -1

	// Unbounded is the Capacity of a queue that never rejects on size
	Unbounded = -1
)

// Queue is a FIFO shared between producers and consumers.
// All operations on one queue are mutually exclusive; a check of size
// and the mutation it gates happen under the same lock.
//
// Timeouts: timeout > 0 bounds the wait, timeout == 0 makes exactly one
// attempt, timeout < 0 waits until ctx is done. Expiry and cancellation
// produce a failure result, never an error.
type Queue[T any] interface {
	// Add inserts v at the tail. Returns false if the queue is full or destroyed.
	Add(v T) bool

	// AddWait retries Add until it succeeds, the timeout elapses or ctx is done
	AddWait(ctx context.Context, v T, timeout time.Duration) bool

	// Get removes and returns the head. Returns false if the queue is empty.
	Get() (T, bool)

	// GetWait waits for an element until the timeout elapses or ctx is done
	GetWait(ctx context.Context, timeout time.Duration) (T, bool)

	// Peek returns the head without removing it
	Peek() (T, bool)

	// Clear removes every element without inspecting it
	Clear()

	// ClearFunc removes every element, passing each to discard in FIFO order
	ClearFunc(discard func(T))

	// Drain removes and returns every element in FIFO order
	Drain() []T

	// RemoveFunc removes all elements matching match and returns how many
	// were removed. The remaining elements keep their relative order.
	RemoveFunc(match func(T) bool) int

	// Size returns the number of queued elements
	Size() int

	// Capacity returns the maximum size, or Unbounded
	Capacity() int

	// IsEmpty reports whether Size() == 0
	IsEmpty() bool

	// Destroy releases the backing storage. Later operations fail and
	// blocked waiters are released.
	Destroy()
}
