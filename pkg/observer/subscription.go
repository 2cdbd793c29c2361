package observer

import (
	"sync"

	"github.com/mutagen-io/watchdog/pkg/events"
	"github.com/mutagen-io/watchdog/pkg/identifier"
	"github.com/mutagen-io/watchdog/pkg/queue"
)

// Subscription is a channel-based view of the events for a single watch.
// Events are buffered without bound so that a slow consumer never stalls
// dispatch.
type Subscription struct {
	// identifier is the subscription identifier.
	identifier string
	// observer is the owning observer.
	observer *Observer
	// watch is the subscribed watch.
	watch ObservedWatch
	// buffer holds events awaiting consumption.
	buffer *queue.EventQueue[events.Event]
	// events is the channel on which events are delivered.
	events chan events.Event
	// onClose is an optional callback invoked once on closure.
	onClose func()
	// closeOnce guards closure.
	closeOnce sync.Once
	// done is closed when the forwarding Goroutine exits.
	done chan struct{}
}

// Subscribe creates a subscription that receives events beneath the specified
// path. The onClose callback, if non-nil, is invoked once when the
// subscription is closed.
func (o *Observer) Subscribe(path string, recursive bool, onClose func()) (*Subscription, error) {
	// Create the subscription.
	id, err := identifier.New(identifier.PrefixSubscription)
	if err != nil {
		return nil, err
	}
	subscription := &Subscription{
		identifier: id,
		observer:   o,
		buffer:     queue.NewEventQueue[events.Event](),
		events:     make(chan events.Event),
		onClose:    onClose,
		done:       make(chan struct{}),
	}

	// Schedule the subscription's handler.
	watch, err := o.Schedule(subscription, path, recursive)
	if err != nil {
		subscription.buffer.Close()
		return nil, err
	}
	subscription.watch = watch

	// Start forwarding.
	go subscription.forward()

	// Done.
	return subscription, nil
}

// OnAnyEvent implements events.AnyEventHandler.
func (s *Subscription) OnAnyEvent(event events.Event) error {
	s.buffer.Put(event)
	return nil
}

// forward moves buffered events to the delivery channel until closure.
func (s *Subscription) forward() {
	defer close(s.done)
	defer close(s.events)
	for {
		event, ok := s.buffer.Get(s.observer.settings.timeout)
		if !ok {
			if s.buffer.Closed() {
				return
			}
			continue
		}
		select {
		case s.events <- event:
		case <-s.closed():
			return
		}
	}
}

// closed returns a channel that's closed once the subscription's buffer has
// been closed.
func (s *Subscription) closed() <-chan struct{} {
	return s.buffer.Done()
}

// Identifier returns the subscription identifier.
func (s *Subscription) Identifier() string {
	return s.identifier
}

// Watch returns the subscribed watch.
func (s *Subscription) Watch() ObservedWatch {
	return s.watch
}

// Events returns the channel on which events are delivered. It's closed when
// the subscription is closed.
func (s *Subscription) Events() <-chan events.Event {
	return s.events
}

// Close removes the subscription's handler (stopping the watch if no other
// handlers remain), closes the event channel, and invokes the close callback.
// It is idempotent.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.observer.RemoveHandler(s, s.watch)
		s.buffer.Close()
		<-s.done
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}
