package watching

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/mutagen-io/watchdog/pkg/filesystem"
	"github.com/mutagen-io/watchdog/pkg/logging"
)

const (
	// inotifyReadBufferSize is the size of the buffer used to read inotify
	// records.
	inotifyReadBufferSize = 64 * 1024
	// inotifyWatchMask is the set of events requested for each directory.
	inotifyWatchMask = unix.IN_CREATE | unix.IN_DELETE | unix.IN_DELETE_SELF |
		unix.IN_MODIFY | unix.IN_ATTRIB | unix.IN_MOVED_FROM | unix.IN_MOVED_TO |
		unix.IN_MOVE_SELF | unix.IN_ONLYDIR | unix.IN_DONT_FOLLOW
	// inotifyPendingPollInterval is the maximum poll interval while rename
	// sources are awaiting their destinations.
	inotifyPendingPollInterval = 25 * time.Millisecond
)

// inotifyBackend implements Backend using inotify, with one native watch per
// watched directory.
type inotifyBackend struct {
	// root is the watched path.
	root string
	// recursive indicates whether or not the watch is recursive.
	recursive bool
	// logger is the backend logger.
	logger *logging.Logger
	// descriptor is the inotify file descriptor.
	descriptor int
	// wake is an eventfd used to interrupt polling on closure.
	wake int
	// watches maps watched directory paths to watch descriptors.
	watches map[string]int
	// paths maps watch descriptors to watched directory paths.
	paths map[int]string
	// detached holds the watches of directories moved away from their
	// location, keyed by rename cookie, until the move is paired or expires.
	// Records for detached watches are ignored.
	detached map[uint32]*detachedTree
	// buffer pairs rename notifications.
	buffer *InotifyBuffer
	// readBuffer is the buffer used to read inotify records.
	readBuffer []byte
	// rootRemoved indicates that root removal has been reported.
	rootRemoved bool
	// readLock is held for the duration of ReadEvents.
	readLock sync.Mutex
	// closed indicates that closure has been requested.
	closed atomic.Bool
	// closeOnce guards resource release.
	closeOnce sync.Once
}

// newNativeBackend creates an inotify-based backend.
func newNativeBackend(root string, recursive bool, settings *backendSettings) (Backend, error) {
	// Create the inotify instance.
	descriptor, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, errors.Wrap(err, "unable to initialize inotify")
	}

	// Create the wake-up descriptor.
	wake, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(descriptor)
		return nil, errors.Wrap(err, "unable to create wake-up descriptor")
	}

	// Create the backend.
	backend := &inotifyBackend{
		root:       root,
		recursive:  recursive,
		logger:     settings.logger.Sublogger("inotify"),
		descriptor: descriptor,
		wake:       wake,
		watches:    make(map[string]int),
		paths:      make(map[int]string),
		detached:   make(map[uint32]*detachedTree),
		buffer:     NewInotifyBuffer(settings.renamePairingDelay),
		readBuffer: make([]byte, inotifyReadBufferSize),
	}

	// Watch the root, which must succeed.
	if err := backend.addWatch(root); err != nil {
		backend.release()
		return nil, err
	}

	// Watch subdirectories if necessary. Subdirectories that disappear before
	// they can be watched are ignored.
	if recursive {
		if err := backend.watchTree(root, false); err != nil {
			backend.release()
			return nil, err
		}
	}

	// Success.
	return backend, nil
}

// addWatch adds a native watch for a directory.
func (b *inotifyBackend) addWatch(path string) error {
	watch, err := unix.InotifyAddWatch(b.descriptor, path, inotifyWatchMask)
	if err != nil {
		if err == unix.ENOSPC {
			return errors.Wrapf(err, "unable to watch %s (kernel watch limit exhausted)", path)
		}
		return errors.Wrapf(&os.PathError{Op: "inotify_add_watch", Path: path, Err: err}, "unable to watch directory")
	}
	if previous, ok := b.paths[watch]; ok && previous != path {
		delete(b.watches, previous)
	}
	b.watches[path] = watch
	b.paths[watch] = path
	return nil
}

// watchTree adds watches for every directory beneath the specified directory.
// If report is true, then an ActionAdded event is buffered for every entry
// found, since events for those entries occurred before the watches existed.
func (b *inotifyBackend) watchTree(directory string, report bool) error {
	return filesystem.Walk(directory, &filesystem.WalkOptions{Recursive: true}, func(path string, info os.FileInfo) error {
		if path == directory {
			return nil
		}
		if info.IsDir() {
			if err := b.addWatch(path); err != nil {
				if filesystem.IsVanishedOrForbidden(err) {
					return filesystem.SkipDirectory
				}
				return err
			}
		}
		if report {
			b.buffer.Add(RawEvent{Action: ActionAdded, Path: path, IsDirectory: info.IsDir()}, 0)
		}
		return nil
	})
}

// removeTree removes watches for a directory and all watched directories
// beneath it.
func (b *inotifyBackend) removeTree(directory string) {
	prefix := directory + string(filepath.Separator)
	for path, watch := range b.watches {
		if path == directory || strings.HasPrefix(path, prefix) {
			unix.InotifyRmWatch(b.descriptor, uint32(watch))
			delete(b.watches, path)
			delete(b.paths, watch)
		}
	}
}

// detachedTree is the set of watches for a directory tree that was moved away
// from its location.
type detachedTree struct {
	// watches maps watch descriptors to paths relative to the tree root.
	watches map[int]string
}

// detach stops mapping the watches for a directory and all watched
// directories beneath it, holding them under the rename cookie.
func (b *inotifyBackend) detach(directory string, cookie uint32) {
	tree := &detachedTree{watches: make(map[int]string)}
	prefix := directory + string(filepath.Separator)
	for path, watch := range b.watches {
		var relative string
		if path == directory {
			relative = ""
		} else if strings.HasPrefix(path, prefix) {
			relative = path[len(prefix):]
		} else {
			continue
		}
		delete(b.watches, path)
		delete(b.paths, watch)
		tree.watches[watch] = relative
	}
	if len(tree.watches) > 0 {
		b.detached[cookie] = tree
	}
}

// reattach maps the watches detached under a rename cookie at their new
// location. It returns false if no watches were detached under the cookie.
func (b *inotifyBackend) reattach(cookie uint32, destination string) bool {
	tree, ok := b.detached[cookie]
	if !ok {
		return false
	}
	delete(b.detached, cookie)
	for watch, relative := range tree.watches {
		path := destination
		if relative != "" {
			path = filepath.Join(destination, relative)
		}
		b.watches[path] = watch
		b.paths[watch] = path
	}
	return true
}

// pruneDetached removes the watches of detached trees whose moves were never
// paired.
func (b *inotifyBackend) pruneDetached() {
	for cookie, tree := range b.detached {
		if b.buffer.IsPending(cookie) {
			continue
		}
		for watch := range tree.watches {
			unix.InotifyRmWatch(b.descriptor, uint32(watch))
		}
		delete(b.detached, cookie)
	}
}

// process handles a single inotify record.
func (b *inotifyBackend) process(watch int, mask, cookie uint32, name string) {
	// Handle queue overflows.
	if mask&unix.IN_Q_OVERFLOW != 0 {
		b.buffer.Add(RawEvent{Action: ActionOverflow, Path: b.root, IsDirectory: true}, 0)
		return
	}

	// Resolve the directory for the record.
	directory, ok := b.paths[watch]
	if !ok {
		return
	}
	path := directory
	if name != "" {
		path = filepath.Join(directory, name)
	}
	isDirectory := mask&unix.IN_ISDIR != 0

	// Handle watch invalidation and self-events. Removals of non-root
	// directories are reported through their parents.
	if mask&unix.IN_IGNORED != 0 {
		delete(b.paths, watch)
		if b.watches[directory] == watch {
			delete(b.watches, directory)
		}
		if directory == b.root {
			b.reportRootRemoved()
		}
		return
	}
	if mask&(unix.IN_DELETE_SELF|unix.IN_MOVE_SELF) != 0 {
		if directory == b.root {
			b.reportRootRemoved()
		}
		return
	}

	// Translate the record.
	switch {
	case mask&unix.IN_CREATE != 0:
		b.buffer.Add(RawEvent{Action: ActionAdded, Path: path, IsDirectory: isDirectory}, 0)
		if isDirectory && b.recursive {
			b.watchNewDirectory(path)
		}
	case mask&unix.IN_DELETE != 0:
		b.buffer.Add(RawEvent{Action: ActionRemoved, Path: path, IsDirectory: isDirectory}, 0)
		if isDirectory {
			b.removeTree(path)
		}
	case mask&unix.IN_MOVED_FROM != 0:
		b.buffer.Add(RawEvent{Action: ActionRenamedFrom, Path: path, IsDirectory: isDirectory}, cookie)
		if isDirectory && b.recursive {
			b.detach(path, cookie)
		}
	case mask&unix.IN_MOVED_TO != 0:
		_, paired := b.buffer.Add(RawEvent{Action: ActionRenamedTo, Path: path, IsDirectory: isDirectory}, cookie)
		if isDirectory && b.recursive {
			if !paired || !b.reattach(cookie, path) {
				b.watchNewDirectory(path)
			}
		}
	case mask&(unix.IN_MODIFY|unix.IN_ATTRIB) != 0:
		b.buffer.Add(RawEvent{Action: ActionModified, Path: path, IsDirectory: isDirectory}, 0)
	}
}

// watchNewDirectory watches a directory that appeared in the tree, reporting
// its existing contents.
func (b *inotifyBackend) watchNewDirectory(path string) {
	if err := b.addWatch(path); err != nil {
		if !filesystem.IsVanishedOrForbidden(err) {
			b.logger.Warn(err)
		}
		return
	}
	if err := b.watchTree(path, true); err != nil && !filesystem.IsVanishedOrForbidden(err) {
		b.logger.Warn(errors.Wrap(err, "unable to watch new directory contents"))
	}
}

// reportRootRemoved reports removal of the watch root once.
func (b *inotifyBackend) reportRootRemoved() {
	if b.rootRemoved {
		return
	}
	b.rootRemoved = true
	b.buffer.Add(RawEvent{Action: ActionRemovedSelf, Path: b.root, IsDirectory: true}, 0)
}

// readRecords reads and processes all available inotify records.
func (b *inotifyBackend) readRecords() error {
	for {
		n, err := unix.Read(b.descriptor, b.readBuffer)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return nil
			} else if err == unix.EINTR {
				continue
			}
			return errors.Wrap(err, "unable to read inotify records")
		}
		if n < unix.SizeofInotifyEvent {
			return errors.New("short inotify read")
		}
		for offset := 0; offset+unix.SizeofInotifyEvent <= n; {
			record := (*unix.InotifyEvent)(unsafe.Pointer(&b.readBuffer[offset]))
			nameStart := offset + unix.SizeofInotifyEvent
			nameEnd := nameStart + int(record.Len)
			if nameEnd > n {
				return errors.New("truncated inotify record")
			}
			name := b.readBuffer[nameStart:nameEnd]
			if index := bytes.IndexByte(name, 0); index >= 0 {
				name = name[:index]
			}
			b.process(int(record.Wd), record.Mask, record.Cookie, string(name))
			offset = nameEnd
		}
	}
}

// ReadEvents implements Backend.ReadEvents.
func (b *inotifyBackend) ReadEvents(timeout time.Duration) ([]RawEvent, error) {
	// Serialize reads with closure.
	b.readLock.Lock()
	defer b.readLock.Unlock()

	// Loop until events are available, the deadline passes, or the backend is
	// closed.
	deadline := time.Now().Add(timeout)
	for {
		if b.closed.Load() {
			return nil, ErrBackendClosed
		}

		// Return any available events.
		if collected := b.postProcess(b.buffer.Collect()); len(collected) > 0 {
			return collected, nil
		}

		// Compute the poll duration.
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		if b.buffer.Pending() > 0 && remaining > inotifyPendingPollInterval {
			remaining = inotifyPendingPollInterval
		}
		milliseconds := int((remaining + time.Millisecond - 1) / time.Millisecond)

		// Wait for records or a wake-up.
		descriptors := []unix.PollFd{
			{Fd: int32(b.descriptor), Events: unix.POLLIN},
			{Fd: int32(b.wake), Events: unix.POLLIN},
		}
		if _, err := unix.Poll(descriptors, milliseconds); err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, errors.Wrap(err, "unable to poll inotify descriptor")
		}
		if descriptors[1].Revents != 0 || b.closed.Load() {
			return nil, ErrBackendClosed
		}
		if descriptors[0].Revents&unix.POLLIN != 0 {
			if err := b.readRecords(); err != nil {
				return nil, err
			}
		}
	}
}

// postProcess performs watch maintenance for collected events. Watches are
// mapped and unmapped as records are processed, so only the watches of
// detached trees whose moves expired remain to be removed.
func (b *inotifyBackend) postProcess(collected []RawEvent) []RawEvent {
	b.pruneDetached()
	return collected
}

// release closes all native resources.
func (b *inotifyBackend) release() {
	b.closeOnce.Do(func() {
		b.buffer.Close()
		unix.Close(b.wake)
		unix.Close(b.descriptor)
	})
}

// Close implements Backend.Close.
func (b *inotifyBackend) Close() error {
	// Request closure and wake any in-progress read.
	b.closed.Store(true)
	var value [8]byte
	value[0] = 1
	unix.Write(b.wake, value[:])

	// Wait for any in-progress read to return and release resources.
	b.readLock.Lock()
	defer b.readLock.Unlock()
	b.release()
	return nil
}
