package concurrency

import (
	"context"
	"errors"
)

var (
	// ErrMailboxClosed is returned when trying to send/receive on a closed mailbox
	ErrMailboxClosed = errors.New("mailbox is closed")

	// ErrMailboxFull is returned when trying to send to a full mailbox (backpressure)
	ErrMailboxFull = errors.New("mailbox is full")
)

// Mailbox passes messages from any number of senders to one consumer.
// Signal handlers use it to hand control commands to an executor without
// touching executor state from the signal goroutine.
type Mailbox[T any] interface {
	// Send enqueues msg without blocking.
	// Returns ErrMailboxFull if mailbox is full (backpressure)
	// Returns ErrMailboxClosed if mailbox is closed
	Send(msg T) error

	// Receive blocks until a message is available or ctx is cancelled.
	// Returns ErrMailboxClosed once the mailbox is closed and empty.
	Receive(ctx context.Context) (T, error)

	// TryReceive attempts to receive a message without blocking
	// Returns (msg, true, nil) if a message is available, (zero, false, nil) if empty
	TryReceive() (T, bool, error)

	// Close closes the mailbox. Messages already queued can still be received.
	Close()

	// Capacity returns the maximum capacity of the mailbox
	Capacity() int

	// Size returns the current number of messages in the mailbox
	Size() int

	// IsClosed returns true if the mailbox is closed
	IsClosed() bool
}
