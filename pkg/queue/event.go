package queue

import (
	"sync"
	"time"
)

// Repeatable is the constraint for queued events. Equal reports whether or not
// an event repeats another.
type Repeatable[T any] interface {
	Equal(other T) bool
}

// EventQueue is a FIFO queue of events that drops any event identical to the
// event currently at its tail. It is safe for concurrent usage by multiple
// producers and consumers.
type EventQueue[T Repeatable[T]] struct {
	// lock serializes access to the queue state.
	lock sync.Mutex
	// items are the pending events.
	items []T
	// closed indicates whether or not the queue has been closed.
	closed bool
	// available is signaled (without blocking) whenever an event is added or
	// the queue is closed.
	available chan struct{}
	// done is closed when the queue is closed.
	done chan struct{}
}

// NewEventQueue creates a new event queue.
func NewEventQueue[T Repeatable[T]]() *EventQueue[T] {
	return &EventQueue[T]{
		available: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// signal wakes a waiting consumer, if any.
func (q *EventQueue[T]) signal() {
	select {
	case q.available <- struct{}{}:
	default:
	}
}

// Put appends an event to the queue. It returns false if the event was dropped
// because it repeats the tail of the queue or because the queue is closed.
func (q *EventQueue[T]) Put(event T) bool {
	// Lock the queue and defer its release.
	q.lock.Lock()
	defer q.lock.Unlock()

	// Ignore puts after closure.
	if q.closed {
		return false
	}

	// Skip repeats of the tail.
	if n := len(q.items); n > 0 && q.items[n-1].Equal(event) {
		return false
	}

	// Record the event and wake any consumer.
	q.items = append(q.items, event)
	q.signal()
	return true
}

// tryGet attempts a non-blocking dequeue. It also returns whether or not the
// queue is closed.
func (q *EventQueue[T]) tryGet() (T, bool, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()
	var zero T
	if q.closed {
		return zero, false, true
	}
	if len(q.items) == 0 {
		return zero, false, false
	}
	event := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) > 0 {
		q.signal()
	}
	return event, true, false
}

// Get removes and returns the event at the head of the queue, waiting up to
// the specified timeout for one to become available. It returns false if the
// timeout elapses or the queue is closed. A non-positive timeout performs a
// non-blocking check.
func (q *EventQueue[T]) Get(timeout time.Duration) (T, bool) {
	// Perform an initial attempt.
	event, ok, closed := q.tryGet()
	if ok || closed || timeout <= 0 {
		return event, ok
	}

	// Wait for availability, retrying after each wake-up.
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-q.available:
			if event, ok, closed := q.tryGet(); ok || closed {
				return event, ok
			}
		case <-timer.C:
			event, ok, _ := q.tryGet()
			return event, ok
		}
	}
}

// Len returns the number of pending events.
func (q *EventQueue[T]) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return len(q.items)
}

// Close closes the queue, discarding pending events. Subsequent puts are
// ignored and gets return immediately. It is idempotent.
func (q *EventQueue[T]) Close() {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	close(q.available)
	close(q.done)
}

// Closed returns whether or not the queue has been closed.
func (q *EventQueue[T]) Closed() bool {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.closed
}

// Done returns a channel that's closed when the queue is closed.
func (q *EventQueue[T]) Done() <-chan struct{} {
	return q.done
}
