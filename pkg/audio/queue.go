package audio

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrQueueClosed is returned by [Queue.Pop] once the queue is closed and
	// every pending item has been delivered.
	ErrQueueClosed = errors.New("audio: queue closed")

	// ErrQueueTimeout is returned by [Queue.Pop] when no item arrived within
	// the requested timeout.
	ErrQueueTimeout = errors.New("audio: queue receive timeout")
)

// Queue is a FIFO that never blocks the producer. It connects the real-time
// device callback to slower consumers: a consumer that falls behind causes
// memory growth rather than stalling the callback.
//
// When MaxLen is positive the queue is bounded and Push drops the oldest item
// on overflow. The zero MaxLen means unbounded.
//
// Queue is safe for one producer and one consumer running concurrently.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	maxLen  int
	dropped uint64
	closed  bool

	notify chan struct{}
	done   chan struct{}
}

// NewQueue returns an empty queue. maxLen <= 0 means unbounded.
func NewQueue[T any](maxLen int) *Queue[T] {
	return &Queue[T]{
		maxLen: maxLen,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push appends v. It returns false if the queue is closed, in which case v is
// discarded.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if q.maxLen > 0 && len(q.items) >= q.maxLen {
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.dropped++
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// TryPop removes and returns the oldest item without waiting.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// Pop waits up to timeout for an item. A non-positive timeout waits until an
// item arrives or the queue is closed. Pending items are still delivered
// after Close; ErrQueueClosed is returned only once the queue is drained.
func (q *Queue[T]) Pop(timeout time.Duration) (T, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	for {
		q.mu.Lock()
		v, ok := q.popLocked()
		closed := q.closed
		q.mu.Unlock()

		if ok {
			return v, nil
		}
		if closed {
			var zero T
			return zero, ErrQueueClosed
		}

		select {
		case <-q.notify:
		case <-q.done:
		case <-timer:
			var zero T
			return zero, ErrQueueTimeout
		}
	}
}

// Len returns the number of pending items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many items were discarded by the overflow policy.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close marks the queue closed. Further pushes are discarded. Calling Close
// more than once is safe.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue[T]) popLocked() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}
