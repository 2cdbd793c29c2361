package watching

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mutagen-io/watchdog/pkg/filesystem/snapshot"
	"github.com/mutagen-io/watchdog/pkg/logging"
)

const (
	// DefaultRenamePairingDelay is the default time that an unpaired rename
	// source is held while waiting for its destination.
	DefaultRenamePairingDelay = 500 * time.Millisecond
)

// backendSettings are the settings passed to backend constructors.
type backendSettings struct {
	// renamePairingDelay is the rename pairing delay.
	renamePairingDelay time.Duration
	// baseline is an optional snapshot of the watched path.
	baseline *snapshot.Snapshot
	// logger is the backend logger.
	logger *logging.Logger
}

// Factory creates backends. It owns the count of live native watches for all
// backends that it creates. A Factory is safe for concurrent usage and its
// zero value is usable.
type Factory struct {
	// MaximumWatches is the maximum number of live native watches. A value of
	// zero indicates no limit.
	MaximumWatches int
	// RenamePairingDelay is the rename pairing delay for backends that pair
	// rename notifications. A value of zero indicates the default delay.
	RenamePairingDelay time.Duration
	// Logger is the logger used for backends.
	Logger *logging.Logger

	// lock serializes access to watches.
	lock sync.Mutex
	// watches is the number of live native watches.
	watches int
}

// Watches returns the number of live native watches.
func (f *Factory) Watches() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.watches
}

// acquire reserves a native watch slot.
func (f *Factory) acquire() error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.MaximumWatches > 0 && f.watches >= f.MaximumWatches {
		return ErrWatchLimitReached
	}
	f.watches++
	return nil
}

// release returns a native watch slot.
func (f *Factory) release() {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.watches > 0 {
		f.watches--
	}
}

// settings computes backend settings.
func (f *Factory) settings(baseline *snapshot.Snapshot) *backendSettings {
	delay := f.RenamePairingDelay
	if delay <= 0 {
		delay = DefaultRenamePairingDelay
	}
	return &backendSettings{
		renamePairingDelay: delay,
		baseline:           baseline,
		logger:             f.Logger,
	}
}

// New creates a backend for the specified path using the specified mode.
func (f *Factory) New(path string, recursive bool, mode Mode) (Backend, error) {
	return f.NewWithBaseline(path, recursive, mode, nil)
}

// NewWithBaseline creates a backend for the specified path using the specified
// mode. Backends that detect changes by comparing snapshots use the baseline
// (if non-nil) as their initial reference.
func (f *Factory) NewWithBaseline(path string, recursive bool, mode Mode, baseline *snapshot.Snapshot) (Backend, error) {
	settings := f.settings(baseline)
	switch mode {
	case ModeDefault, ModeNative:
		return f.newCounted(func() (Backend, error) {
			return newNativeBackend(path, recursive, settings)
		})
	case ModeForcePoll:
		return newPollingBackend(path, recursive, settings)
	case ModeFallbackPoll:
		backend, err := f.newCounted(func() (Backend, error) {
			return newNativeBackend(path, recursive, settings)
		})
		if err == nil {
			return backend, nil
		}
		f.Logger.Warn(errors.Wrap(err, "native watching unavailable, falling back to polling"))
		return newPollingBackend(path, recursive, settings)
	case ModePortable:
		return f.newCounted(func() (Backend, error) {
			return newFSNotifyBackend(path, recursive, settings)
		})
	default:
		return nil, errors.Errorf("unsupported watch mode: %d", mode)
	}
}

// newCounted creates a backend that occupies a native watch slot until it's
// closed.
func (f *Factory) newCounted(create func() (Backend, error)) (Backend, error) {
	if err := f.acquire(); err != nil {
		return nil, err
	}
	backend, err := create()
	if err != nil {
		f.release()
		return nil, err
	}
	return &countedBackend{Backend: backend, factory: f}, nil
}

// countedBackend wraps a backend to release its watch slot on closure.
type countedBackend struct {
	Backend
	// factory is the owning factory.
	factory *Factory
	// once guards slot release.
	once sync.Once
}

// Close implements Backend.Close.
func (b *countedBackend) Close() error {
	err := b.Backend.Close()
	b.once.Do(b.factory.release)
	return err
}

// ReportsDescendantMoves implements DescendantMoveReporter.
func (b *countedBackend) ReportsDescendantMoves() bool {
	return ReportsDescendantMoves(b.Backend)
}
