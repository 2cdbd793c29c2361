package queue

import (
	"testing"
	"time"
)

// TestDelayedQueueTiming tests that elements only become visible after their
// delay.
func TestDelayedQueueTiming(t *testing.T) {
	q := NewDelayedQueue[string]()
	defer q.Close()

	start := time.Now()
	q.Put("element", 100*time.Millisecond)

	if _, ok := q.Get(0); ok {
		t.Fatal("element visible before delay")
	}
	element, ok := q.Get(5 * time.Second)
	if !ok {
		t.Fatal("element never became visible")
	}
	if element != "element" {
		t.Error("unexpected element:", element)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Error("element returned before delay elapsed:", elapsed)
	}
}

// TestDelayedQueueOrdering tests that elements are returned in eligibility
// order with ties broken by insertion order.
func TestDelayedQueueOrdering(t *testing.T) {
	q := NewDelayedQueue[int]()
	defer q.Close()

	q.Put(3, 30*time.Millisecond)
	q.Put(1, 0)
	q.Put(2, 0)

	for _, expected := range []int{1, 2, 3} {
		element, ok := q.Get(5 * time.Second)
		if !ok {
			t.Fatal("get timed out")
		}
		if element != expected {
			t.Errorf("order mismatch: %d != %d", element, expected)
		}
	}
}

// TestDelayedQueueRemove tests early removal of a still-delayed element.
func TestDelayedQueueRemove(t *testing.T) {
	q := NewDelayedQueue[int]()
	defer q.Close()

	q.Put(7, 50*time.Millisecond)
	q.Put(8, 50*time.Millisecond)

	element, ok := q.Remove(func(value int) bool { return value == 7 })
	if !ok || element != 7 {
		t.Fatal("unable to remove delayed element")
	}
	if _, ok := q.Remove(func(value int) bool { return value == 7 }); ok {
		t.Error("element removed twice")
	}

	element, ok = q.Get(5 * time.Second)
	if !ok || element != 8 {
		t.Fatal("unexpected element after removal:", element, ok)
	}
	if _, ok := q.Get(100 * time.Millisecond); ok {
		t.Error("removed element returned by get")
	}
}

// TestDelayedQueueDrain tests draining of pending elements.
func TestDelayedQueueDrain(t *testing.T) {
	q := NewDelayedQueue[int]()
	defer q.Close()

	q.Put(2, time.Hour)
	q.Put(1, time.Minute)
	drained := q.Drain()
	if len(drained) != 2 || drained[0] != 1 || drained[1] != 2 {
		t.Error("unexpected drain result:", drained)
	}
	if q.Len() != 0 {
		t.Error("queue non-empty after drain")
	}
}

// TestDelayedQueueClose tests that closure wakes waiters.
func TestDelayedQueueClose(t *testing.T) {
	q := NewDelayedQueue[int]()
	q.Put(1, time.Hour)
	done := make(chan bool)
	go func() {
		_, ok := q.Get(time.Minute)
		done <- ok
	}()
	time.Sleep(20 * time.Millisecond)
	q.Close()
	select {
	case ok := <-done:
		if ok {
			t.Error("get on closed queue succeeded")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waiter not woken by close")
	}
}
