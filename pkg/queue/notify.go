package queue

import (
	"context"
	"sync"
	"time"
)

// changeSignal is a broadcast condition that can be waited on in a select.
// All methods must be called with the owning queue's lock held.
type changeSignal struct {
	ch      chan struct{}
	waiters int
}

func newChangeSignal() changeSignal {
	return changeSignal{ch: make(chan struct{})}
}

// wait returns a channel that is closed by the next broadcast
func (s *changeSignal) wait() <-chan struct{} {
	s.waiters++
	return s.ch
}

// broadcast wakes every goroutine currently waiting
func (s *changeSignal) broadcast() {
	if s.waiters == 0 {
		return
	}
	close(s.ch)
	s.ch = make(chan struct{})
	s.waiters = 0
}

// retry runs attempt under mu until it succeeds, the timeout elapses or ctx
// is done. attempt returns the channel to wait on before trying again, or nil
// when trying again cannot help (destroyed queue).
func retry(ctx context.Context, mu *sync.Mutex, timeout time.Duration, attempt func() (bool, <-chan struct{})) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		mu.Lock()
		ok, changed := attempt()
		mu.Unlock()

		if ok {
			return true
		}
		if changed == nil || timeout == 0 {
			return false
		}

		select {
		case <-changed:
		case <-expired:
			return false
		case <-ctx.Done():
			return false
		}
	}
}
