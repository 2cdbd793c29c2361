package events

// Handler is any value implementing one or more of the callback capabilities
// below. Handlers are compared by equality when registered with an observer,
// so they should be pointers or other comparable values.
type Handler interface{}

// AnyEventHandler receives every event after its type-specific callback.
type AnyEventHandler interface {
	OnAnyEvent(Event) error
}

// CreatedHandler receives creation events.
type CreatedHandler interface {
	OnCreated(Event) error
}

// DeletedHandler receives deletion events.
type DeletedHandler interface {
	OnDeleted(Event) error
}

// ModifiedHandler receives modification events.
type ModifiedHandler interface {
	OnModified(Event) error
}

// MovedHandler receives move events.
type MovedHandler interface {
	OnMoved(Event) error
}

// Dispatch delivers an event to a handler, invoking the type-specific callback
// (if implemented) followed by OnAnyEvent (if implemented). Both callbacks are
// invoked even if the first fails. The first error encountered is returned.
func Dispatch(handler Handler, event Event) error {
	var first error
	switch event.Type {
	case Created:
		if h, ok := handler.(CreatedHandler); ok {
			first = h.OnCreated(event)
		}
	case Deleted:
		if h, ok := handler.(DeletedHandler); ok {
			first = h.OnDeleted(event)
		}
	case Modified:
		if h, ok := handler.(ModifiedHandler); ok {
			first = h.OnModified(event)
		}
	case Moved:
		if h, ok := handler.(MovedHandler); ok {
			first = h.OnMoved(event)
		}
	}
	if h, ok := handler.(AnyEventHandler); ok {
		if err := h.OnAnyEvent(event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Funcs adapts plain functions into a handler. Nil fields are ignored. It must
// be used by pointer.
type Funcs struct {
	// AnyEvent is invoked for every event.
	AnyEvent func(Event) error
	// Created is invoked for creation events.
	Created func(Event) error
	// Deleted is invoked for deletion events.
	Deleted func(Event) error
	// Modified is invoked for modification events.
	Modified func(Event) error
	// Moved is invoked for move events.
	Moved func(Event) error
}

// call invokes a callback if non-nil.
func call(callback func(Event) error, event Event) error {
	if callback == nil {
		return nil
	}
	return callback(event)
}

// OnAnyEvent implements AnyEventHandler.OnAnyEvent.
func (f *Funcs) OnAnyEvent(event Event) error {
	return call(f.AnyEvent, event)
}

// OnCreated implements CreatedHandler.OnCreated.
func (f *Funcs) OnCreated(event Event) error {
	return call(f.Created, event)
}

// OnDeleted implements DeletedHandler.OnDeleted.
func (f *Funcs) OnDeleted(event Event) error {
	return call(f.Deleted, event)
}

// OnModified implements ModifiedHandler.OnModified.
func (f *Funcs) OnModified(event Event) error {
	return call(f.Modified, event)
}

// OnMoved implements MovedHandler.OnMoved.
func (f *Funcs) OnMoved(event Event) error {
	return call(f.Moved, event)
}

// filtering is the shared implementation of filtering decorators.
type filtering struct {
	// target is the decorated handler.
	target Handler
	// accept is the filter predicate.
	accept func(Event) bool
}

// OnAnyEvent implements AnyEventHandler.OnAnyEvent. Accepted events are
// dispatched to the decorated handler with full callback semantics, so
// filtering decorators only implement this callback.
func (f *filtering) OnAnyEvent(event Event) error {
	if !f.accept(event) {
		return nil
	}
	return Dispatch(f.target, event)
}
