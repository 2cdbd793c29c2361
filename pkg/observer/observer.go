package observer

import (
	"reflect"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mutagen-io/watchdog/pkg/events"
	"github.com/mutagen-io/watchdog/pkg/logging"
	"github.com/mutagen-io/watchdog/pkg/queue"
	"github.com/mutagen-io/watchdog/pkg/watching"
)

const (
	// DefaultTimeout is the default read and dispatch timeout.
	DefaultTimeout = time.Second
	// DefaultBaselineInterval is the default minimum age at which an
	// emitter's rescan baseline is refreshed.
	DefaultBaselineInterval = time.Minute
)

var (
	// ErrObserverStopped indicates that an operation was attempted on a
	// stopped observer.
	ErrObserverStopped = errors.New("observer stopped")
	// ErrWatchNotScheduled indicates that a watch isn't scheduled.
	ErrWatchNotScheduled = errors.New("watch not scheduled")
)

// Options configure an observer.
type Options struct {
	// Timeout bounds each backend read and each dispatcher wait. It also
	// serves as the polling interval for polling backends. A value of zero
	// indicates DefaultTimeout.
	Timeout time.Duration
	// Mode is the watch mode used for emitters.
	Mode watching.Mode
	// Factory creates backends. If nil, a factory without a watch limit is
	// used.
	Factory *watching.Factory
	// IgnoreDevice excludes device identifiers when detecting moves during
	// rescans.
	IgnoreDevice bool
	// BaselineInterval is the minimum age at which an emitter refreshes the
	// snapshot that rescans are compared against. Refreshes only happen while
	// the watch is quiet. A value of zero indicates DefaultBaselineInterval
	// and a negative value disables refreshing.
	BaselineInterval time.Duration
	// Logger is the observer logger. If nil, logging is disabled.
	Logger *logging.Logger
	// Registerer is an optional metrics registerer.
	Registerer prometheus.Registerer
}

// observerState is the lifecycle state of an observer.
type observerState uint8

const (
	// observerStateCreated indicates that the observer hasn't been started.
	observerStateCreated observerState = iota
	// observerStateRunning indicates that the observer is dispatching.
	observerStateRunning
	// observerStateStopped indicates that the observer has been stopped.
	observerStateStopped
)

// Observer manages watches, their emitters, and event dispatch.
type Observer struct {
	// logger is the observer logger.
	logger *logging.Logger
	// registerer is the metrics registerer.
	registerer prometheus.Registerer
	// metrics are the observer metrics.
	metrics *metrics
	// settings are the settings shared by emitters.
	settings *emitterSettings
	// queue is the shared event queue.
	queue *queue.EventQueue[queuedEvent]

	// lock guards the fields below.
	lock sync.Mutex
	// state is the lifecycle state.
	state observerState
	// watches are the scheduled watches, in scheduling order.
	watches []ObservedWatch
	// handlers maps watches to their handlers, in registration order.
	handlers map[ObservedWatch][]events.Handler
	// emitters maps watches to their emitters.
	emitters map[ObservedWatch]*Emitter
	// done is closed when the dispatcher exits. It's nil until started.
	done chan struct{}
}

// New creates a new observer.
func New(options *Options) (*Observer, error) {
	// Apply defaults.
	if options == nil {
		options = &Options{}
	}
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	baselineInterval := options.BaselineInterval
	if baselineInterval == 0 {
		baselineInterval = DefaultBaselineInterval
	}
	factory := options.Factory
	if factory == nil {
		factory = &watching.Factory{Logger: options.Logger.Sublogger("watching")}
	}
	if !options.Mode.IsDefault() && !options.Mode.Supported() {
		return nil, errors.Errorf("unsupported watch mode: %s", options.Mode)
	}

	// Create the queue and metrics.
	eventQueue := queue.NewEventQueue[queuedEvent]()
	metrics, err := newMetrics(options.Registerer, eventQueue.Len)
	if err != nil {
		return nil, err
	}

	// Done.
	return &Observer{
		logger:     options.Logger,
		registerer: options.Registerer,
		metrics:    metrics,
		settings: &emitterSettings{
			factory:          factory,
			mode:             options.Mode,
			timeout:          timeout,
			ignoreDevice:     options.IgnoreDevice,
			baselineInterval: baselineInterval,
			queue:            eventQueue,
			logger:           options.Logger.Sublogger("emitter"),
			metrics:          metrics,
		},
		queue:    eventQueue,
		handlers: make(map[ObservedWatch][]events.Handler),
		emitters: make(map[ObservedWatch]*Emitter),
	}, nil
}

// sameHandler determines whether or not two handlers are the same handler.
// Handlers of incomparable dynamic types are never considered equal.
func sameHandler(first, second events.Handler) bool {
	if first == nil || second == nil {
		return first == nil && second == nil
	}
	firstType, secondType := reflect.TypeOf(first), reflect.TypeOf(second)
	if firstType != secondType || !firstType.Comparable() {
		return false
	}
	return first == second
}

// addHandlerLocked adds a handler to a watch if it's not already present. The
// observer lock must be held.
func (o *Observer) addHandlerLocked(handler events.Handler, watch ObservedWatch) {
	for _, existing := range o.handlers[watch] {
		if sameHandler(existing, handler) {
			return
		}
	}
	o.handlers[watch] = append(o.handlers[watch], handler)
}

// removeWatchLocked removes a watch and returns its emitter, if any. The
// observer lock must be held.
func (o *Observer) removeWatchLocked(watch ObservedWatch) *Emitter {
	emitter := o.emitters[watch]
	delete(o.emitters, watch)
	delete(o.handlers, watch)
	for i, existing := range o.watches {
		if existing == watch {
			o.watches = append(o.watches[:i], o.watches[i+1:]...)
			break
		}
	}
	return emitter
}

// Schedule registers a handler for events beneath the specified path. If an
// equal watch is already scheduled, then its emitter is shared. Otherwise a
// new emitter is created and, if the observer is running, started.
func (o *Observer) Schedule(handler events.Handler, path string, recursive bool) (ObservedWatch, error) {
	// Validate arguments.
	if handler == nil {
		return ObservedWatch{}, errors.New("nil handler")
	}
	watch, err := NewObservedWatch(path, recursive)
	if err != nil {
		return ObservedWatch{}, err
	}

	// Share an existing emitter if possible.
	o.lock.Lock()
	if o.state == observerStateStopped {
		o.lock.Unlock()
		return ObservedWatch{}, ErrObserverStopped
	}
	if _, ok := o.emitters[watch]; ok {
		o.addHandlerLocked(handler, watch)
		o.lock.Unlock()
		return watch, nil
	}
	o.lock.Unlock()

	// Create the emitter without holding the lock, since taking its baseline
	// walks the watched tree.
	emitter, err := newEmitter(watch, o.settings)
	if err != nil {
		return ObservedWatch{}, err
	}

	// Register the emitter unless the observer was stopped or the watch was
	// scheduled concurrently, in which case the new emitter is discarded.
	o.lock.Lock()
	if o.state == observerStateStopped {
		o.lock.Unlock()
		emitter.Stop()
		return ObservedWatch{}, ErrObserverStopped
	}
	if _, ok := o.emitters[watch]; ok {
		o.addHandlerLocked(handler, watch)
		o.lock.Unlock()
		emitter.Stop()
		return watch, nil
	}
	o.watches = append(o.watches, watch)
	o.emitters[watch] = emitter
	o.addHandlerLocked(handler, watch)
	if o.state == observerStateRunning {
		emitter.Start()
	}
	o.lock.Unlock()
	o.logger.Debugf("Scheduled %s", watch)
	return watch, nil
}

// AddHandler registers an additional handler for a scheduled watch.
func (o *Observer) AddHandler(handler events.Handler, watch ObservedWatch) error {
	if handler == nil {
		return errors.New("nil handler")
	}
	o.lock.Lock()
	defer o.lock.Unlock()
	if _, ok := o.emitters[watch]; !ok {
		return errors.Wrap(ErrWatchNotScheduled, watch.String())
	}
	o.addHandlerLocked(handler, watch)
	return nil
}

// RemoveHandler removes a single handler from a watch. If no handlers remain,
// then the watch is unscheduled and its emitter stopped. Removing a handler
// that isn't registered has no effect.
func (o *Observer) RemoveHandler(handler events.Handler, watch ObservedWatch) {
	o.lock.Lock()
	handlers := o.handlers[watch]
	for i, existing := range handlers {
		if sameHandler(existing, handler) {
			handlers = append(handlers[:i:i], handlers[i+1:]...)
			break
		}
	}
	var emitter *Emitter
	if len(handlers) == 0 {
		emitter = o.removeWatchLocked(watch)
	} else {
		o.handlers[watch] = handlers
	}
	o.lock.Unlock()

	// Stop the emitter outside of the lock.
	if emitter != nil {
		emitter.Stop()
		o.logger.Debugf("Unscheduled %s", watch)
	}
}

// HasHandlers returns whether or not any handlers are registered for a watch.
func (o *Observer) HasHandlers(watch ObservedWatch) bool {
	o.lock.Lock()
	defer o.lock.Unlock()
	return len(o.handlers[watch]) > 0
}

// Unschedule removes every handler for a watch and stops its emitter.
func (o *Observer) Unschedule(watch ObservedWatch) {
	o.lock.Lock()
	emitter := o.removeWatchLocked(watch)
	o.lock.Unlock()
	if emitter != nil {
		emitter.Stop()
		o.logger.Debugf("Unscheduled %s", watch)
	}
}

// UnscheduleAll unschedules every watch. It is idempotent.
func (o *Observer) UnscheduleAll() {
	// Extract all emitters.
	o.lock.Lock()
	var emitters []*Emitter
	for _, watch := range o.watches {
		if emitter := o.emitters[watch]; emitter != nil {
			emitters = append(emitters, emitter)
		}
	}
	o.watches = nil
	o.handlers = make(map[ObservedWatch][]events.Handler)
	o.emitters = make(map[ObservedWatch]*Emitter)
	o.lock.Unlock()

	// Stop emitters concurrently so that shutdown is bounded by a single read
	// timeout.
	var group sync.WaitGroup
	for _, emitter := range emitters {
		group.Add(1)
		go func(emitter *Emitter) {
			emitter.Stop()
			group.Done()
		}(emitter)
	}
	group.Wait()
}

// Start starts all emitters and the dispatcher. Starting a running observer
// has no effect.
func (o *Observer) Start() error {
	o.lock.Lock()
	defer o.lock.Unlock()
	switch o.state {
	case observerStateRunning:
		return nil
	case observerStateStopped:
		return ErrObserverStopped
	}
	o.state = observerStateRunning
	for _, watch := range o.watches {
		o.emitters[watch].Start()
	}
	o.done = make(chan struct{})
	go o.dispatch(o.done)
	o.logger.Debug("Observer started")
	return nil
}

// Stop unschedules all watches, stops the dispatcher, and waits for every
// worker to exit. It is idempotent. A stopped observer can't be restarted.
func (o *Observer) Stop() {
	// Transition to the stopped state.
	o.lock.Lock()
	if o.state == observerStateStopped {
		o.lock.Unlock()
		return
	}
	o.state = observerStateStopped
	done := o.done
	o.lock.Unlock()

	// Stop emitters, then the dispatcher.
	o.UnscheduleAll()
	o.queue.Close()
	if done != nil {
		<-done
	}
	o.metrics.unregister(o.registerer)
	o.logger.Debug("Observer stopped")
}

// Started returns whether or not the observer is running.
func (o *Observer) Started() bool {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.state == observerStateRunning
}

// Stopped returns whether or not the observer has been stopped.
func (o *Observer) Stopped() bool {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.state == observerStateStopped
}

// Emitters returns the number of emitters.
func (o *Observer) Emitters() int {
	o.lock.Lock()
	defer o.lock.Unlock()
	return len(o.emitters)
}

// Emitter returns the emitter servicing a watch, if any.
func (o *Observer) Emitter(watch ObservedWatch) (*Emitter, bool) {
	o.lock.Lock()
	defer o.lock.Unlock()
	emitter, ok := o.emitters[watch]
	return emitter, ok
}

// Watches returns the scheduled watches in scheduling order.
func (o *Observer) Watches() []ObservedWatch {
	o.lock.Lock()
	defer o.lock.Unlock()
	result := make([]ObservedWatch, len(o.watches))
	copy(result, o.watches)
	return result
}

// queuedEvent is an event awaiting dispatch, stamped with the watch whose
// emitter produced it.
type queuedEvent struct {
	// event is the event.
	event events.Event
	// watch is the originating watch.
	watch ObservedWatch
}

// Equal implements queue.Repeatable.Equal.
func (q queuedEvent) Equal(other queuedEvent) bool {
	return q.watch == other.watch && q.event.Equal(other.event)
}

// deliveries computes the handler invocations for a queued event. Events are
// only delivered to handlers of the originating watch, so overlapping watches
// each see an event once through their own emitter. Events for watches that
// have since been unscheduled are dropped.
func (o *Observer) deliveries(item queuedEvent) []events.Handler {
	o.lock.Lock()
	defer o.lock.Unlock()
	if !item.watch.Matches(item.event) {
		return nil
	}
	handlers := o.handlers[item.watch]
	if len(handlers) == 0 {
		return nil
	}
	result := make([]events.Handler, len(handlers))
	copy(result, handlers)
	return result
}

// invoke calls a handler, containing any panic.
func (o *Observer) invoke(handler events.Handler, event events.Event) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = errors.Errorf("handler panicked: %v", recovered)
		}
	}()
	return events.Dispatch(handler, event)
}

// dispatch is the dispatcher loop. It closes done when it exits.
func (o *Observer) dispatch(done chan struct{}) {
	defer close(done)
	for {
		item, ok := o.queue.Get(o.settings.timeout)
		if !ok {
			if o.queue.Closed() {
				return
			}
			continue
		}
		for _, handler := range o.deliveries(item) {
			o.metrics.dispatched.Inc()
			if err := o.invoke(handler, item.event); err != nil {
				o.metrics.handlerFailures.Inc()
				o.logger.Warn(errors.Wrapf(err, "handler failed for %s (%s)", item.event, item.watch))
			}
		}
	}
}
