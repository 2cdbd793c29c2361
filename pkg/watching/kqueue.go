//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package watching

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/mutagen-io/watchdog/pkg/events"
	"github.com/mutagen-io/watchdog/pkg/filesystem"
	"github.com/mutagen-io/watchdog/pkg/filesystem/snapshot"
	"github.com/mutagen-io/watchdog/pkg/logging"
)

const (
	// kqueueEventBatchSize is the number of kevents read per wait.
	kqueueEventBatchSize = 64
)

// kqueueBackend implements Backend using kqueue. Since kqueue only reports
// activity on open descriptors, each wait that reports activity triggers a
// snapshot of the tree, which is compared against the previous snapshot.
type kqueueBackend struct {
	// root is the watched path.
	root string
	// recursive indicates whether or not the watch is recursive.
	recursive bool
	// logger is the backend logger.
	logger *logging.Logger
	// kqueue is the kqueue descriptor.
	kqueue int
	// pipe holds the read and write ends of the wake-up pipe.
	pipe [2]int
	// descriptors mirrors the watched tree.
	descriptors *KeventDescriptorSet
	// previous is the most recent snapshot.
	previous *snapshot.Snapshot
	// readLock is held for the duration of ReadEvents.
	readLock sync.Mutex
	// closed indicates that closure has been requested.
	closed atomic.Bool
	// closeOnce guards resource release.
	closeOnce sync.Once
}

// newKqueueBackend creates a kqueue-based backend.
func newKqueueBackend(root string, recursive bool, settings *backendSettings) (Backend, error) {
	// Create the kqueue.
	kqueue, err := unix.Kqueue()
	if err != nil {
		return nil, errors.Wrap(err, "unable to create kqueue")
	}
	unix.CloseOnExec(kqueue)

	// Create the wake-up pipe and register its read end.
	backend := &kqueueBackend{
		root:        root,
		recursive:   recursive,
		logger:      settings.logger.Sublogger("kqueue"),
		kqueue:      kqueue,
		pipe:        [2]int{-1, -1},
		descriptors: NewKeventDescriptorSet(kqueue),
	}
	if err := unix.Pipe(backend.pipe[:]); err != nil {
		backend.release()
		return nil, errors.Wrap(err, "unable to create wake-up pipe")
	}
	var changes [1]unix.Kevent_t
	unix.SetKevent(&changes[0], backend.pipe[0], unix.EVFILT_READ, unix.EV_ADD)
	if _, err := unix.Kevent(kqueue, changes[:], nil, nil); err != nil {
		backend.release()
		return nil, errors.Wrap(err, "unable to register wake-up pipe")
	}

	// Use the baseline or take an initial snapshot.
	backend.previous = settings.baseline
	if backend.previous == nil {
		if backend.previous, err = snapshot.Take(root, recursive, nil); err != nil {
			backend.release()
			return nil, errors.Wrap(err, "unable to take initial snapshot")
		}
	}

	// Register descriptors for the tree. The root must succeed.
	if err := backend.descriptors.Add(root, true); err != nil {
		backend.release()
		return nil, errors.Wrap(err, "unable to watch root")
	}
	for _, path := range backend.previous.Paths() {
		if path == root {
			continue
		}
		entry, _ := backend.previous.Get(path)
		if err := backend.add(path, entry.IsDirectory); err != nil {
			backend.release()
			return nil, err
		}
	}

	// Success.
	return backend, nil
}

// add registers a descriptor, ignoring paths that have vanished.
func (b *kqueueBackend) add(path string, isDirectory bool) error {
	if err := b.descriptors.Add(path, isDirectory); err != nil {
		if filesystem.IsVanishedOrForbidden(err) {
			return nil
		}
		if errors.Cause(err) == unix.EMFILE || errors.Cause(err) == unix.ENFILE {
			return errors.Wrap(err, "unable to open descriptor (descriptor limit exhausted)")
		}
		return errors.Wrap(err, "unable to watch path")
	}
	return nil
}

// reconcile updates descriptors according to a snapshot difference.
func (b *kqueueBackend) reconcile(diff *snapshot.Diff) error {
	for _, event := range diff.Events() {
		switch event.Type {
		case events.Deleted:
			b.descriptors.Remove(event.Path)
		case events.Moved:
			b.descriptors.Remove(event.Path)
			b.descriptors.Remove(event.DestinationPath)
			if err := b.add(event.DestinationPath, event.IsDirectory); err != nil {
				return err
			}
		case events.Created:
			b.descriptors.Remove(event.Path)
			if err := b.add(event.Path, event.IsDirectory); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadEvents implements Backend.ReadEvents.
func (b *kqueueBackend) ReadEvents(timeout time.Duration) ([]RawEvent, error) {
	// Serialize reads with closure.
	b.readLock.Lock()
	defer b.readLock.Unlock()

	// Wait for activity.
	deadline := time.Now().Add(timeout)
	var received [kqueueEventBatchSize]unix.Kevent_t
	for {
		if b.closed.Load() {
			return nil, ErrBackendClosed
		}
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		wait := unix.NsecToTimespec(int64(remaining))
		count, err := unix.Kevent(b.kqueue, nil, received[:], &wait)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, errors.Wrap(err, "unable to wait for kevents")
		}
		if b.closed.Load() {
			return nil, ErrBackendClosed
		}
		active := false
		for _, event := range received[:count] {
			if int(event.Ident) == b.pipe[0] {
				return nil, ErrBackendClosed
			}
			active = true
			if descriptor, ok := b.descriptors.ByDescriptor(int(event.Ident)); ok {
				b.logger.Tracef("Activity on %s (flags 0x%x)", descriptor.Path, event.Fflags)
			}
		}
		if active {
			break
		} else if remaining == 0 {
			return nil, nil
		}
	}

	// Take a new snapshot. If the root has disappeared, then report that.
	current, err := snapshot.Take(b.root, b.recursive, nil)
	if err != nil {
		if filesystem.IsVanishedOrForbidden(err) {
			return []RawEvent{{Action: ActionRemovedSelf, Path: b.root, IsDirectory: true}}, nil
		}
		return nil, errors.Wrap(err, "unable to take snapshot")
	}
	if entry, ok := current.Get(b.root); !ok || !entry.IsDirectory {
		return []RawEvent{{Action: ActionRemovedSelf, Path: b.root, IsDirectory: true}}, nil
	}

	// Compute the difference, update descriptors, and update the reference.
	diff := snapshot.Compute(b.previous, current, nil)
	b.previous = current
	if err := b.reconcile(diff); err != nil {
		return nil, err
	}
	return rawEventsFromDiff(diff), nil
}

// ReportsDescendantMoves implements DescendantMoveReporter.ReportsDescendantMoves.
func (b *kqueueBackend) ReportsDescendantMoves() bool {
	return true
}

// release closes all native resources.
func (b *kqueueBackend) release() {
	b.closeOnce.Do(func() {
		b.descriptors.Clear()
		for _, fd := range b.pipe {
			if fd >= 0 {
				unix.Close(fd)
			}
		}
		unix.Close(b.kqueue)
	})
}

// Close implements Backend.Close.
func (b *kqueueBackend) Close() error {
	// Request closure and wake any in-progress wait.
	b.closed.Store(true)
	if b.pipe[1] >= 0 {
		unix.Write(b.pipe[1], []byte{0})
	}

	// Wait for any in-progress read to return and release resources.
	b.readLock.Lock()
	defer b.readLock.Unlock()
	b.release()
	return nil
}
