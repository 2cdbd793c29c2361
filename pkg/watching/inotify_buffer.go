package watching

import (
	"time"

	"github.com/mutagen-io/watchdog/pkg/queue"
)

// inotifySlot is a position in the buffer's event sequence.
type inotifySlot struct {
	// event is the event occupying the slot.
	event RawEvent
	// cookie is the rename cookie for a pending rename source.
	cookie uint32
	// pending indicates that the slot holds a rename source that is still
	// awaiting its destination.
	pending bool
}

// pendingRename is an unpaired rename source awaiting its destination.
type pendingRename struct {
	// slot is the slot holding the rename source.
	slot *inotifySlot
	// cookie is the rename cookie.
	cookie uint32
}

// InotifyBuffer pairs rename halves reported with a shared cookie. A rename
// source is held for the pairing delay. If the destination with the same
// cookie arrives within the delay, the pair becomes a single ActionMoved event
// at the source's position. An unpaired source becomes ActionRemoved once the
// delay expires, and an unpaired destination becomes ActionAdded immediately.
// Events are released in the order they were added, so nothing added after a
// pending rename source is released until that source is resolved. It is not
// safe for concurrent usage.
type InotifyBuffer struct {
	// delay is the pairing delay.
	delay time.Duration
	// pending tracks the expiration of rename sources.
	pending *queue.DelayedQueue[pendingRename]
	// slots are the buffered events in order.
	slots []*inotifySlot
}

// NewInotifyBuffer creates a new buffer with the specified pairing delay.
func NewInotifyBuffer(delay time.Duration) *InotifyBuffer {
	return &InotifyBuffer{
		delay:   delay,
		pending: queue.NewDelayedQueue[pendingRename](),
	}
}

// Add processes an event. The cookie is only relevant for ActionRenamedFrom
// and ActionRenamedTo events. It returns the paired move event if the event
// completed a rename pair.
func (b *InotifyBuffer) Add(event RawEvent, cookie uint32) (RawEvent, bool) {
	switch event.Action {
	case ActionRenamedFrom:
		slot := &inotifySlot{event: event, cookie: cookie, pending: true}
		b.slots = append(b.slots, slot)
		b.pending.Put(pendingRename{slot: slot, cookie: cookie}, b.delay)
	case ActionRenamedTo:
		source, ok := b.pending.Remove(func(p pendingRename) bool {
			return p.cookie == cookie
		})
		if ok {
			moved := RawEvent{
				Action:          ActionMoved,
				Path:            source.slot.event.Path,
				DestinationPath: event.Path,
				IsDirectory:     event.IsDirectory || source.slot.event.IsDirectory,
			}
			source.slot.event = moved
			source.slot.pending = false
			return moved, true
		}
		b.slots = append(b.slots, &inotifySlot{event: RawEvent{
			Action:      ActionAdded,
			Path:        event.Path,
			IsDirectory: event.IsDirectory,
		}})
	default:
		b.slots = append(b.slots, &inotifySlot{event: event})
	}
	return RawEvent{}, false
}

// Collect converts rename sources whose pairing delay has expired into
// removals and returns the buffered events that precede the first source
// still awaiting its destination.
func (b *InotifyBuffer) Collect() []RawEvent {
	for {
		expired, ok := b.pending.Get(0)
		if !ok {
			break
		}
		expired.slot.event = unpairedSource(expired.slot.event)
		expired.slot.pending = false
	}
	var result []RawEvent
	released := 0
	for _, slot := range b.slots {
		if slot.pending {
			break
		}
		result = append(result, slot.event)
		released++
	}
	b.release(released)
	return result
}

// Flush returns every buffered event, converting all pending rename sources to
// removals regardless of their delay.
func (b *InotifyBuffer) Flush() []RawEvent {
	b.pending.Drain()
	result := make([]RawEvent, 0, len(b.slots))
	for _, slot := range b.slots {
		if slot.pending {
			slot.event = unpairedSource(slot.event)
			slot.pending = false
		}
		result = append(result, slot.event)
	}
	b.release(len(b.slots))
	return result
}

// release drops the specified number of slots from the head of the buffer.
func (b *InotifyBuffer) release(count int) {
	for i := 0; i < count; i++ {
		b.slots[i] = nil
	}
	b.slots = b.slots[count:]
	if len(b.slots) == 0 {
		b.slots = nil
	}
}

// Pending returns the number of rename sources awaiting their destinations.
func (b *InotifyBuffer) Pending() int {
	return b.pending.Len()
}

// Held returns the number of buffered events that haven't been released.
func (b *InotifyBuffer) Held() int {
	return len(b.slots)
}

// IsPending returns whether or not the rename source with the specified
// cookie is still awaiting its destination.
func (b *InotifyBuffer) IsPending(cookie uint32) bool {
	for _, slot := range b.slots {
		if slot.pending && slot.cookie == cookie {
			return true
		}
	}
	return false
}

// Close releases the buffer's resources.
func (b *InotifyBuffer) Close() {
	b.pending.Close()
}

// unpairedSource converts a rename source into a removal.
func unpairedSource(source RawEvent) RawEvent {
	return RawEvent{
		Action:      ActionRemoved,
		Path:        source.Path,
		IsDirectory: source.IsDirectory,
	}
}
