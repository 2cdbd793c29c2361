package observer

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mutagen-io/watchdog/pkg/events"
	"github.com/mutagen-io/watchdog/pkg/filesystem"
	"github.com/mutagen-io/watchdog/pkg/filesystem/snapshot"
	"github.com/mutagen-io/watchdog/pkg/identifier"
	"github.com/mutagen-io/watchdog/pkg/logging"
	"github.com/mutagen-io/watchdog/pkg/queue"
	"github.com/mutagen-io/watchdog/pkg/watching"
)

// EmitterState is the lifecycle state of an emitter.
type EmitterState uint8

const (
	// EmitterStateCreated indicates that the emitter hasn't been started.
	EmitterStateCreated EmitterState = iota
	// EmitterStateStarted indicates that the emitter's run loop is starting.
	EmitterStateStarted
	// EmitterStateRunning indicates that the emitter is reading events.
	EmitterStateRunning
	// EmitterStateStopping indicates that the emitter is shutting down.
	EmitterStateStopping
	// EmitterStateStopped indicates that the emitter has terminated.
	EmitterStateStopped
)

// String provides a human-readable representation of an emitter state.
func (s EmitterState) String() string {
	switch s {
	case EmitterStateCreated:
		return "created"
	case EmitterStateStarted:
		return "started"
	case EmitterStateRunning:
		return "running"
	case EmitterStateStopping:
		return "stopping"
	case EmitterStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// emitterSettings are the observer-provided parameters for emitters.
type emitterSettings struct {
	// factory creates backends.
	factory *watching.Factory
	// mode is the watch mode.
	mode watching.Mode
	// timeout bounds each backend read.
	timeout time.Duration
	// ignoreDevice excludes device identifiers when matching moves during
	// resynchronization.
	ignoreDevice bool
	// baselineInterval is the minimum age at which the baseline is refreshed
	// while the watch is quiet. A non-positive value disables refreshing.
	baselineInterval time.Duration
	// queue receives emitted events.
	queue *queue.EventQueue[queuedEvent]
	// logger is the parent logger.
	logger *logging.Logger
	// metrics are the observer metrics.
	metrics *metrics
}

// Emitter services a single watch, translating backend notifications into
// normalized events and pushing them to the observer's queue in order.
type Emitter struct {
	// identifier is the emitter identifier.
	identifier string
	// watch is the serviced watch.
	watch ObservedWatch
	// settings are the emitter settings.
	settings *emitterSettings
	// logger is the emitter logger.
	logger *logging.Logger
	// backend is the notification source.
	backend watching.Backend
	// descendantMoves indicates whether or not the backend reports the moves
	// of descendants when a directory moves.
	descendantMoves bool
	// baseline is the reference snapshot used for resynchronization. It's only
	// accessed by the run loop once the emitter has started.
	baseline *snapshot.Snapshot
	// baselineTaken is the time at which the baseline was taken.
	baselineTaken time.Time
	// stateLock guards state.
	stateLock sync.Mutex
	// state is the lifecycle state.
	state EmitterState
	// done is closed when the emitter has stopped.
	done chan struct{}
}

// newEmitter creates an emitter for a watch. It takes the baseline snapshot
// and creates the backend, so resource failures are reported immediately.
func newEmitter(watch ObservedWatch, settings *emitterSettings) (*Emitter, error) {
	// Generate an identifier.
	id, err := identifier.New(identifier.PrefixEmitter)
	if err != nil {
		return nil, errors.Wrap(err, "unable to generate emitter identifier")
	}
	logger := settings.logger.Sublogger(id)

	// Take the baseline snapshot.
	baseline, err := snapshot.Take(watch.Path, watch.Recursive, nil)
	if err != nil {
		if filesystem.IsVanishedOrForbidden(err) {
			return nil, errors.Wrapf(ErrInvalidWatchPath, "%s: %v", watch.Path, err)
		}
		return nil, errors.Wrap(err, "unable to take baseline snapshot")
	}

	// Create the backend.
	backend, err := settings.factory.NewWithBaseline(watch.Path, watch.Recursive, settings.mode, baseline)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create watch backend")
	}
	logger.Debugf("Watching %s (recursive: %t, mode: %s)", watch.Path, watch.Recursive, settings.mode.Description())

	// Done.
	return &Emitter{
		identifier:      id,
		watch:           watch,
		settings:        settings,
		logger:          logger,
		backend:         backend,
		descendantMoves: watching.ReportsDescendantMoves(backend),
		baseline:        baseline,
		baselineTaken:   time.Now(),
		done:            make(chan struct{}),
	}, nil
}

// Identifier returns the emitter identifier.
func (e *Emitter) Identifier() string {
	return e.identifier
}

// Watch returns the serviced watch.
func (e *Emitter) Watch() ObservedWatch {
	return e.watch
}

// State returns the current lifecycle state.
func (e *Emitter) State() EmitterState {
	e.stateLock.Lock()
	defer e.stateLock.Unlock()
	return e.state
}

// Done returns a channel that's closed when the emitter has stopped.
func (e *Emitter) Done() <-chan struct{} {
	return e.done
}

// setState updates the lifecycle state.
func (e *Emitter) setState(state EmitterState) {
	e.stateLock.Lock()
	e.state = state
	e.stateLock.Unlock()
}

// Start starts the emitter's run loop. It has no effect if the emitter has
// already been started or stopped.
func (e *Emitter) Start() {
	e.stateLock.Lock()
	defer e.stateLock.Unlock()
	if e.state != EmitterStateCreated {
		return
	}
	e.state = EmitterStateStarted
	e.settings.metrics.emitters.Inc()
	go e.run()
}

// Stop stops the emitter and waits for its run loop to exit. Closing the
// backend interrupts any in-progress read, so Stop is bounded by a single read
// timeout at most. It is idempotent.
func (e *Emitter) Stop() {
	e.stateLock.Lock()
	switch e.state {
	case EmitterStateCreated:
		e.state = EmitterStateStopped
		e.stateLock.Unlock()
		if err := e.backend.Close(); err != nil {
			e.logger.Warn(errors.Wrap(err, "unable to close backend"))
		}
		close(e.done)
		return
	case EmitterStateStarted, EmitterStateRunning:
		e.state = EmitterStateStopping
	}
	e.stateLock.Unlock()
	if err := e.backend.Close(); err != nil {
		e.logger.Warn(errors.Wrap(err, "unable to close backend"))
	}
	<-e.done
}

// stopping returns whether or not a stop has been requested.
func (e *Emitter) stopping() bool {
	e.stateLock.Lock()
	defer e.stateLock.Unlock()
	return e.state == EmitterStateStopping
}

// run is the emitter's run loop.
func (e *Emitter) run() {
	// Mark the emitter as running unless a stop request has already arrived.
	e.stateLock.Lock()
	if e.state == EmitterStateStarted {
		e.state = EmitterStateRunning
	}
	e.stateLock.Unlock()

	// Ensure that the backend is closed and the state finalized on exit.
	defer func() {
		if err := e.backend.Close(); err != nil {
			e.logger.Warn(errors.Wrap(err, "unable to close backend"))
		}
		e.settings.metrics.emitters.Dec()
		e.setState(EmitterStateStopped)
		close(e.done)
	}()

	// Loop until the emitter is stopped or the watch can't continue.
	for !e.stopping() {
		raw, err := e.backend.ReadEvents(e.settings.timeout)
		if err == watching.ErrBackendClosed {
			return
		} else if err != nil {
			if e.stopping() {
				return
			}
			e.logger.Error(errors.Wrap(err, "unable to read events"))
			e.emitRootDeleted()
			return
		}
		if len(raw) == 0 {
			e.refreshBaseline()
			continue
		}
		for _, event := range raw {
			if !e.process(event) {
				return
			}
		}
	}
}

// emit pushes an event to the queue, stamped with the emitter's watch.
func (e *Emitter) emit(event events.Event) {
	if e.settings.queue.Put(queuedEvent{event: event, watch: e.watch}) {
		e.settings.metrics.recordEmitted(event)
		e.logger.Tracef("Emitted %s", event)
	}
}

// emitRootDeleted reports deletion of the watched directory.
func (e *Emitter) emitRootDeleted() {
	e.emit(events.New(events.Deleted, e.watch.Path, true))
}

// process translates a raw event. It returns false if the watch can't
// continue.
func (e *Emitter) process(raw watching.RawEvent) bool {
	switch raw.Action {
	case watching.ActionAdded, watching.ActionRenamedTo:
		e.emit(events.New(events.Created, raw.Path, raw.IsDirectory))
	case watching.ActionRemoved, watching.ActionRenamedFrom:
		e.emit(events.New(events.Deleted, raw.Path, raw.IsDirectory))
	case watching.ActionModified:
		e.emit(events.New(events.Modified, raw.Path, raw.IsDirectory))
	case watching.ActionMoved:
		e.emit(events.NewMoved(raw.Path, raw.DestinationPath, raw.IsDirectory))
		if raw.IsDirectory && e.watch.Recursive && !e.descendantMoves {
			e.synthesizeDescendantMoves(raw.Path, raw.DestinationPath)
		}
	case watching.ActionRemovedSelf:
		e.logger.Debugf("Watch root %s removed", e.watch.Path)
		e.emitRootDeleted()
		return false
	case watching.ActionOverflow:
		return e.resync()
	}
	return true
}

// synthesizeDescendantMoves emits moves for every descendant of a moved
// directory based on the current contents of its destination.
func (e *Emitter) synthesizeDescendantMoves(source, destination string) {
	err := filesystem.Walk(destination, &filesystem.WalkOptions{Recursive: true}, func(path string, info os.FileInfo) error {
		if path == destination {
			return nil
		}
		relative, err := filepath.Rel(destination, path)
		if err != nil {
			return err
		}
		e.emit(events.NewMoved(filepath.Join(source, relative), path, info.IsDir()).Synthetic())
		return nil
	})
	if err != nil && !filesystem.IsVanishedOrForbidden(err) {
		e.logger.Warn(errors.Wrap(err, "unable to enumerate moved directory"))
	}
}

// resync rescans the watched tree after notifications were lost, emitting the
// difference against the baseline and replacing the baseline. It returns false
// if the watch root can no longer be scanned.
func (e *Emitter) resync() bool {
	e.logger.Debug("Notifications lost, rescanning")
	e.settings.metrics.resyncs.Inc()
	current, err := snapshot.Take(e.watch.Path, e.watch.Recursive, nil)
	if err != nil {
		e.logger.Warn(errors.Wrap(err, "unable to rescan watch root"))
		e.emitRootDeleted()
		return false
	}
	diff := snapshot.Compute(e.baseline, current, &snapshot.DiffOptions{IgnoreDevice: e.settings.ignoreDevice})
	for _, event := range diff.Events() {
		e.emit(event)
	}
	e.baseline = current
	e.baselineTaken = time.Now()
	return true
}

// refreshBaseline replaces the baseline once it's older than the refresh
// interval, so that a later rescan only reports changes made since the watch
// was last quiet. Scan failures leave the existing baseline in place, since
// the backend reports loss of the root itself.
func (e *Emitter) refreshBaseline() {
	interval := e.settings.baselineInterval
	if interval <= 0 || time.Since(e.baselineTaken) < interval {
		return
	}
	current, err := snapshot.Take(e.watch.Path, e.watch.Recursive, nil)
	if err != nil {
		e.logger.Debug(errors.Wrap(err, "unable to refresh baseline"))
		return
	}
	e.baseline = current
	e.baselineTaken = time.Now()
	e.logger.Trace("Refreshed baseline")
}
