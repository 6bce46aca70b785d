package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backend struct {
	name string
	new  func(t *testing.T) Queue[int]
}

func backends(capacity int) []backend {
	return []backend{
		{name: "array", new: func(t *testing.T) Queue[int] {
			q, err := NewArrayQueue[int](capacity)
			require.NoError(t, err)
			return q
		}},
		{name: "linked", new: func(t *testing.T) Queue[int] {
			return NewLinkedQueue[int]()
		}},
	}
}

func TestNewArrayQueue_InvalidCapacity(t *testing.T) {
	for _, c := range []int{0, -3} {
		q, err := NewArrayQueue[int](c)
		assert.Nil(t, q)
		assert.True(t, errors.Is(err, ErrInvalidCapacity), "capacity %d: err = %v", c, err)
	}
}

func TestArrayQueue_CapacityScenario(t *testing.T) {
	q, err := NewArrayQueue[string](2)
	require.NoError(t, err)

	assert.True(t, q.Add("a"))
	assert.True(t, q.Add("b"))
	assert.False(t, q.Add("c"), "third add must fail at capacity 2")

	v, ok := q.Get()
	assert.True(t, ok)
	assert.Equal(t, "a", v)

	assert.True(t, q.Add("c"))

	v, _ = q.Get()
	assert.Equal(t, "b", v)
	v, _ = q.Get()
	assert.Equal(t, "c", v)

	v, ok = q.Get()
	assert.False(t, ok)
	assert.Equal(t, "", v)
}

func TestArrayQueue_FailsExactlyAtCapacity(t *testing.T) {
	const capacity = 5
	q, err := NewArrayQueue[int](capacity)
	require.NoError(t, err)

	for i := 0; i < capacity; i++ {
		require.True(t, q.Add(i), "add %d before capacity must succeed", i)
	}
	assert.False(t, q.Add(capacity))
	assert.Equal(t, capacity, q.Size())
	assert.Equal(t, capacity, q.Capacity())
}

func TestLinkedQueue_NeverFullAndUnbounded(t *testing.T) {
	q := NewLinkedQueue[int]()
	for i := 0; i < 1000; i++ {
		require.True(t, q.Add(i))
	}
	assert.Equal(t, 1000, q.Size())
	assert.Equal(t, Unbounded, q.Capacity())
	assert.True(t, q.AddWait(context.Background(), 1000, time.Millisecond))
}

func TestQueue_FIFO(t *testing.T) {
	for _, b := range backends(16) {
		t.Run(b.name, func(t *testing.T) {
			q := b.new(t)
			// wrap the ring a few times
			for round := 0; round < 3; round++ {
				for i := 0; i < 10; i++ {
					require.True(t, q.Add(round*100+i))
				}
				for i := 0; i < 10; i++ {
					v, ok := q.Get()
					require.True(t, ok)
					assert.Equal(t, round*100+i, v)
				}
			}
			assert.True(t, q.IsEmpty())
		})
	}
}

func TestQueue_Peek(t *testing.T) {
	for _, b := range backends(4) {
		t.Run(b.name, func(t *testing.T) {
			q := b.new(t)
			_, ok := q.Peek()
			assert.False(t, ok)

			q.Add(7)
			q.Add(8)
			v, ok := q.Peek()
			assert.True(t, ok)
			assert.Equal(t, 7, v)
			assert.Equal(t, 2, q.Size(), "peek must not remove")
		})
	}
}

func TestQueue_ClearIdempotent(t *testing.T) {
	for _, b := range backends(4) {
		t.Run(b.name, func(t *testing.T) {
			q := b.new(t)
			q.Clear()
			assert.Equal(t, 0, q.Size())

			q.Add(1)
			q.Add(2)
			q.Clear()
			q.Clear()
			assert.Equal(t, 0, q.Size())
			assert.True(t, q.Add(3), "queue must stay usable after clear")
			v, _ := q.Get()
			assert.Equal(t, 3, v)
		})
	}
}

func TestQueue_ClearFunc(t *testing.T) {
	for _, b := range backends(4) {
		t.Run(b.name, func(t *testing.T) {
			q := b.new(t)
			q.Add(1)
			q.Add(2)
			q.Add(3)

			var seen []int
			q.ClearFunc(func(v int) { seen = append(seen, v) })
			assert.Equal(t, []int{1, 2, 3}, seen)
			assert.True(t, q.IsEmpty())
		})
	}
}

func TestQueue_DrainAndRemoveFunc(t *testing.T) {
	for _, b := range backends(8) {
		t.Run(b.name, func(t *testing.T) {
			q := b.new(t)
			for i := 1; i <= 6; i++ {
				q.Add(i)
			}

			removed := q.RemoveFunc(func(v int) bool { return v%2 == 0 })
			assert.Equal(t, 3, removed)
			assert.Equal(t, 3, q.Size())

			// tail must still be valid after removing the last element
			assert.True(t, q.Add(7))
			assert.Equal(t, []int{1, 3, 5, 7}, q.Drain())
			assert.True(t, q.IsEmpty())
			assert.Empty(t, q.Drain())
		})
	}
}

func TestQueue_GetWaitTimeout(t *testing.T) {
	for _, b := range backends(2) {
		t.Run(b.name, func(t *testing.T) {
			q := b.new(t)
			start := time.Now()
			_, ok := q.GetWait(context.Background(), 30*time.Millisecond)
			assert.False(t, ok)
			assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
		})
	}
}

func TestQueue_GetWaitZeroTimeoutIsSingleAttempt(t *testing.T) {
	for _, b := range backends(2) {
		t.Run(b.name, func(t *testing.T) {
			q := b.new(t)
			_, ok := q.GetWait(context.Background(), 0)
			assert.False(t, ok)

			q.Add(4)
			v, ok := q.GetWait(context.Background(), 0)
			assert.True(t, ok)
			assert.Equal(t, 4, v)
		})
	}
}

func TestQueue_GetWaitWokenByAdd(t *testing.T) {
	for _, b := range backends(2) {
		t.Run(b.name, func(t *testing.T) {
			q := b.new(t)
			got := make(chan int, 1)
			go func() {
				v, ok := q.GetWait(context.Background(), 5*time.Second)
				if ok {
					got <- v
				}
			}()

			time.Sleep(20 * time.Millisecond)
			start := time.Now()
			q.Add(42)

			select {
			case v := <-got:
				assert.Equal(t, 42, v)
				assert.Less(t, time.Since(start), time.Second)
			case <-time.After(2 * time.Second):
				t.Fatal("GetWait was not woken by Add")
			}
		})
	}
}

func TestQueue_GetWaitCancelledContext(t *testing.T) {
	for _, b := range backends(2) {
		t.Run(b.name, func(t *testing.T) {
			q := b.new(t)
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan bool, 1)
			go func() {
				_, ok := q.GetWait(ctx, NoTimeout)
				done <- ok
			}()

			time.Sleep(10 * time.Millisecond)
			cancel()
			select {
			case ok := <-done:
				assert.False(t, ok)
			case <-time.After(2 * time.Second):
				t.Fatal("GetWait ignored context cancellation")
			}
		})
	}
}

func TestArrayQueue_AddWait(t *testing.T) {
	q, err := NewArrayQueue[int](1)
	require.NoError(t, err)
	require.True(t, q.Add(1))

	// times out while full
	assert.False(t, q.AddWait(context.Background(), 2, 20*time.Millisecond))

	// woken as soon as room appears
	done := make(chan bool, 1)
	go func() { done <- q.AddWait(context.Background(), 2, 5*time.Second) }()
	time.Sleep(10 * time.Millisecond)
	v, ok := q.Get()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("AddWait was not woken by Get")
	}
	v, _ = q.Get()
	assert.Equal(t, 2, v)
}

func TestQueue_DestroyReleasesWaiters(t *testing.T) {
	for _, b := range backends(1) {
		t.Run(b.name, func(t *testing.T) {
			q := b.new(t)
			done := make(chan bool, 1)
			go func() {
				_, ok := q.GetWait(context.Background(), NoTimeout)
				done <- ok
			}()

			time.Sleep(10 * time.Millisecond)
			q.Destroy()
			select {
			case ok := <-done:
				assert.False(t, ok)
			case <-time.After(2 * time.Second):
				t.Fatal("Destroy did not release waiter")
			}

			assert.False(t, q.Add(1))
			_, ok := q.Get()
			assert.False(t, ok)
			assert.Equal(t, 0, q.Size())
			q.Destroy()
		})
	}
}

func TestQueue_NilReceiver(t *testing.T) {
	var aq *ArrayQueue[int]
	var lq *LinkedQueue[int]
	for _, q := range []Queue[int]{aq, lq} {
		assert.False(t, q.Add(1))
		_, ok := q.Get()
		assert.False(t, ok)
		_, ok = q.Peek()
		assert.False(t, ok)
		assert.Equal(t, 0, q.Size())
		assert.Nil(t, q.Drain())
		q.Clear()
		q.Destroy()
	}
}

func TestQueue_ConcurrentProducersConsumers(t *testing.T) {
	const producers, perProducer = 4, 250
	for _, b := range backends(8) {
		t.Run(b.name, func(t *testing.T) {
			q := b.new(t)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			var wg sync.WaitGroup
			for p := 0; p < producers; p++ {
				wg.Add(1)
				go func(p int) {
					defer wg.Done()
					for i := 0; i < perProducer; i++ {
						if !q.AddWait(ctx, p*perProducer+i, NoTimeout) {
							t.Errorf("AddWait failed for producer %d item %d", p, i)
							return
						}
					}
				}(p)
			}

			var mu sync.Mutex
			seen := make(map[int]int)
			var cwg sync.WaitGroup
			for c := 0; c < 3; c++ {
				cwg.Add(1)
				go func() {
					defer cwg.Done()
					for {
						v, ok := q.GetWait(ctx, 200*time.Millisecond)
						if !ok {
							return
						}
						mu.Lock()
						seen[v]++
						mu.Unlock()
					}
				}()
			}

			wg.Wait()
			cwg.Wait()

			assert.Len(t, seen, producers*perProducer)
			for v, n := range seen {
				if n != 1 {
					t.Errorf("value %d dequeued %d times", v, n)
				}
			}
		})
	}
}
