package queue

import (
	"container/heap"
	"sync"
	"time"
)

// delayedEntry is an element held by a DelayedQueue.
type delayedEntry[T any] struct {
	// element is the queued element.
	element T
	// eligible is the time at which the element becomes visible.
	eligible time.Time
	// sequence orders entries with identical eligibility times.
	sequence uint64
}

// delayedHeap is a min-heap of entries ordered by eligibility.
type delayedHeap[T any] []*delayedEntry[T]

func (h delayedHeap[T]) Len() int { return len(h) }

func (h delayedHeap[T]) Less(i, j int) bool {
	if h[i].eligible.Equal(h[j].eligible) {
		return h[i].sequence < h[j].sequence
	}
	return h[i].eligible.Before(h[j].eligible)
}

func (h delayedHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *delayedHeap[T]) Push(x interface{}) {
	*h = append(*h, x.(*delayedEntry[T]))
}

func (h *delayedHeap[T]) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return entry
}

// DelayedQueue holds elements until their delay has elapsed. Elements can be
// withdrawn early with Remove. It is safe for concurrent usage.
type DelayedQueue[T any] struct {
	// lock serializes access to the queue state.
	lock sync.Mutex
	// entries are the pending entries.
	entries delayedHeap[T]
	// sequence is the next entry sequence number.
	sequence uint64
	// closed indicates whether or not the queue has been closed.
	closed bool
	// changed is closed and replaced whenever the queue head may have changed.
	changed chan struct{}
	// now is the clock.
	now func() time.Time
}

// NewDelayedQueue creates a new delayed queue.
func NewDelayedQueue[T any]() *DelayedQueue[T] {
	return &DelayedQueue[T]{
		changed: make(chan struct{}),
		now:     time.Now,
	}
}

// notify wakes all waiters. The lock must be held.
func (q *DelayedQueue[T]) notify() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Put adds an element that becomes eligible for retrieval after the specified
// delay. Puts after closure are ignored.
func (q *DelayedQueue[T]) Put(element T, delay time.Duration) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.closed {
		return
	}
	heap.Push(&q.entries, &delayedEntry[T]{
		element:  element,
		eligible: q.now().Add(delay),
		sequence: q.sequence,
	})
	q.sequence++
	q.notify()
}

// Get returns the earliest eligible element, waiting up to the specified
// timeout for one to become eligible. It returns false if the timeout elapses
// or the queue is closed.
func (q *DelayedQueue[T]) Get(timeout time.Duration) (T, bool) {
	var zero T
	deadline := q.now().Add(timeout)
	for {
		// Check for an eligible entry and compute how long to wait.
		q.lock.Lock()
		if q.closed {
			q.lock.Unlock()
			return zero, false
		}
		now := q.now()
		wait := deadline.Sub(now)
		if len(q.entries) > 0 {
			head := q.entries[0]
			if !head.eligible.After(now) {
				heap.Pop(&q.entries)
				q.lock.Unlock()
				return head.element, true
			}
			if untilEligible := head.eligible.Sub(now); untilEligible < wait {
				wait = untilEligible
			}
		}
		changed := q.changed
		q.lock.Unlock()

		// If the deadline has passed, then we're done.
		if !deadline.After(now) {
			return zero, false
		}

		// Wait for a change or for the next relevant time.
		timer := time.NewTimer(wait)
		select {
		case <-changed:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// Remove withdraws the earliest pending entry (eligible or not) whose element
// satisfies the predicate. It returns false if no entry matches. A removed
// element is never returned by Get.
func (q *DelayedQueue[T]) Remove(predicate func(T) bool) (T, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	// Find the earliest matching entry.
	index := -1
	for i, entry := range q.entries {
		if !predicate(entry.element) {
			continue
		}
		if index == -1 || q.entries.Less(i, index) {
			index = i
		}
	}
	if index == -1 {
		var zero T
		return zero, false
	}

	// Remove it.
	entry := heap.Remove(&q.entries, index).(*delayedEntry[T])
	q.notify()
	return entry.element, true
}

// Len returns the number of pending entries, eligible or not.
func (q *DelayedQueue[T]) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return len(q.entries)
}

// Drain removes and returns every pending entry in eligibility order,
// regardless of whether or not it's eligible.
func (q *DelayedQueue[T]) Drain() []T {
	q.lock.Lock()
	defer q.lock.Unlock()
	result := make([]T, 0, len(q.entries))
	for len(q.entries) > 0 {
		result = append(result, heap.Pop(&q.entries).(*delayedEntry[T]).element)
	}
	if len(result) > 0 {
		q.notify()
	}
	return result
}

// Close closes the queue, waking any waiters. It is idempotent.
func (q *DelayedQueue[T]) Close() {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.entries = nil
	q.notify()
}
