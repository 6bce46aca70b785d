package arraylist

import (
	"errors"
	"fmt"
	"slices"
)

// ErrIndexOutOfRange is returned when an index does not address an element
var ErrIndexOutOfRange = errors.New("arraylist: index out of range")

const defaultCapacity = 8

// ArrayList is a growable sequence of values.
// It is not safe for concurrent use; callers provide their own locking.
type ArrayList[T any] struct {
	items []T
}

// New creates an empty list with room for capacity elements
func New[T any](capacity int) *ArrayList[T] {
	if capacity < 1 {
		capacity = defaultCapacity
	}
	return &ArrayList[T]{items: make([]T, 0, capacity)}
}

// Append adds v at the end of the list
func (l *ArrayList[T]) Append(v T) {
	l.items = append(l.items, v)
}

// Get returns the element at index i
func (l *ArrayList[T]) Get(i int) (T, error) {
	var zero T
	if i < 0 || i >= len(l.items) {
		return zero, fmt.Errorf("get %d of %d: %w", i, len(l.items), ErrIndexOutOfRange)
	}
	return l.items[i], nil
}

// Set replaces the element at index i
func (l *ArrayList[T]) Set(i int, v T) error {
	if i < 0 || i >= len(l.items) {
		return fmt.Errorf("set %d of %d: %w", i, len(l.items), ErrIndexOutOfRange)
	}
	l.items[i] = v
	return nil
}

// RemoveAt removes and returns the element at index i, shifting the tail left
func (l *ArrayList[T]) RemoveAt(i int) (T, error) {
	var zero T
	if i < 0 || i >= len(l.items) {
		return zero, fmt.Errorf("remove %d of %d: %w", i, len(l.items), ErrIndexOutOfRange)
	}
	v := l.items[i]
	l.items = slices.Delete(l.items, i, i+1)
	return v, nil
}

// IndexFunc returns the index of the first element matching match, or -1
func (l *ArrayList[T]) IndexFunc(match func(T) bool) int {
	return slices.IndexFunc(l.items, match)
}

// RemoveFunc removes the first element matching match.
// Returns false when nothing matched.
func (l *ArrayList[T]) RemoveFunc(match func(T) bool) bool {
	i := l.IndexFunc(match)
	if i < 0 {
		return false
	}
	_, _ = l.RemoveAt(i)
	return true
}

// Len returns the number of elements
func (l *ArrayList[T]) Len() int {
	return len(l.items)
}

// Clear removes every element, keeping the allocated storage
func (l *ArrayList[T]) Clear() {
	clear(l.items)
	l.items = l.items[:0]
}

// Values returns a copy of the elements in order
func (l *ArrayList[T]) Values() []T {
	return slices.Clone(l.items)
}

// IndexOf returns the index of the first element equal to v, or -1
func IndexOf[T comparable](l *ArrayList[T], v T) int {
	return slices.Index(l.items, v)
}

// Contains reports whether v is in the list
func Contains[T comparable](l *ArrayList[T], v T) bool {
	return IndexOf(l, v) >= 0
}

// Remove removes the first element equal to v.
// Returns false when v is not in the list.
func Remove[T comparable](l *ArrayList[T], v T) bool {
	i := IndexOf(l, v)
	if i < 0 {
		return false
	}
	_, _ = l.RemoveAt(i)
	return true
}
