package watching

import (
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/mutagen-io/watchdog/pkg/filesystem"
	"github.com/mutagen-io/watchdog/pkg/logging"
)

// fsnotifyBackend implements Backend using fsnotify, with one watch per
// watched directory. It's used on platforms without a dedicated backend and
// whenever portable watching is requested.
type fsnotifyBackend struct {
	// root is the watched path.
	root string
	// recursive indicates whether or not the watch is recursive.
	recursive bool
	// logger is the backend logger.
	logger *logging.Logger
	// watcher is the underlying watcher.
	watcher *fsnotify.Watcher
	// kinds remembers the kinds of recently seen paths.
	kinds *kindCache
	// lock serializes access to directories.
	lock sync.Mutex
	// directories is the set of watched directories.
	directories map[string]bool
	// closed is closed when the backend is closed.
	closed chan struct{}
	// closeOnce guards closure.
	closeOnce sync.Once
}

// newFSNotifyBackend creates an fsnotify-based backend.
func newFSNotifyBackend(root string, recursive bool, settings *backendSettings) (Backend, error) {
	// Verify that the root is a directory.
	if info, err := os.Stat(root); err != nil {
		return nil, errors.Wrap(err, "unable to query watch root")
	} else if !info.IsDir() {
		return nil, errors.New("watch root is not a directory")
	}

	// Create the watcher.
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "unable to create watcher")
	}

	// Create the backend.
	backend := &fsnotifyBackend{
		root:        root,
		recursive:   recursive,
		logger:      settings.logger.Sublogger("fsnotify"),
		watcher:     watcher,
		kinds:       newKindCache(),
		directories: make(map[string]bool),
		closed:      make(chan struct{}),
	}

	// Watch the root and, if recursive, its subdirectories.
	if err := backend.watch(root); err != nil {
		watcher.Close()
		return nil, err
	}
	if _, err := backend.scan(root); err != nil {
		watcher.Close()
		return nil, err
	}

	// Success.
	return backend, nil
}

// watch adds a watch for a directory.
func (b *fsnotifyBackend) watch(directory string) error {
	if err := b.watcher.Add(directory); err != nil {
		return errors.Wrapf(err, "unable to watch %s", directory)
	}
	b.lock.Lock()
	b.directories[directory] = true
	b.lock.Unlock()
	return nil
}

// unwatch forgets a directory and any watched directories beneath it. The
// underlying watches are removed by fsnotify when their directories vanish.
func (b *fsnotifyBackend) unwatch(directory string) {
	b.lock.Lock()
	defer b.lock.Unlock()
	for path := range b.directories {
		if path == directory || filesystem.IsWithin(path, directory) {
			delete(b.directories, path)
			b.watcher.Remove(path)
		}
	}
}

// scan records the kinds of entries beneath a directory, adding watches for
// subdirectories if the backend is recursive. The entries found are returned
// as additions.
func (b *fsnotifyBackend) scan(directory string) ([]RawEvent, error) {
	var added []RawEvent
	err := filesystem.Walk(directory, &filesystem.WalkOptions{Recursive: b.recursive}, func(path string, info os.FileInfo) error {
		if path == directory {
			return nil
		}
		b.kinds.record(path, info.IsDir())
		if info.IsDir() && b.recursive {
			if err := b.watch(path); err != nil {
				if filesystem.IsVanishedOrForbidden(errors.Cause(err)) {
					return filesystem.SkipDirectory
				}
				return err
			}
		}
		added = append(added, RawEvent{Action: ActionAdded, Path: path, IsDirectory: info.IsDir()})
		return nil
	})
	return added, err
}

// convert translates a native event.
func (b *fsnotifyBackend) convert(event fsnotify.Event) []RawEvent {
	path := filesystem.NormalizeEventPath(event.Name)
	if path == b.root {
		if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
			if _, err := os.Lstat(b.root); err != nil {
				return []RawEvent{{Action: ActionRemovedSelf, Path: b.root, IsDirectory: true}}
			}
		}
		return nil
	}
	var result []RawEvent
	if event.Has(fsnotify.Create) {
		isDirectory := false
		if info, err := os.Lstat(path); err == nil {
			isDirectory = info.IsDir()
			b.kinds.record(path, isDirectory)
		}
		result = append(result, RawEvent{Action: ActionAdded, Path: path, IsDirectory: isDirectory})
		if isDirectory && b.recursive {
			if err := b.watch(path); err != nil {
				if !filesystem.IsVanishedOrForbidden(errors.Cause(err)) {
					b.logger.Warn(err)
				}
			} else {
				added, err := b.scan(path)
				if err != nil && !filesystem.IsVanishedOrForbidden(err) {
					b.logger.Warn(errors.Wrap(err, "unable to scan new directory"))
				}
				result = append(result, added...)
			}
		}
	}
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		isDirectory := b.kinds.forget(path)
		if isDirectory {
			b.unwatch(path)
		}
		result = append(result, RawEvent{Action: ActionRemoved, Path: path, IsDirectory: isDirectory})
	}
	if event.Has(fsnotify.Write) || event.Has(fsnotify.Chmod) {
		isDirectory, _ := b.kinds.lookup(path)
		result = append(result, RawEvent{Action: ActionModified, Path: path, IsDirectory: isDirectory})
	}
	return result
}

// ReadEvents implements Backend.ReadEvents.
func (b *fsnotifyBackend) ReadEvents(timeout time.Duration) ([]RawEvent, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-b.closed:
			return nil, ErrBackendClosed
		case <-timer.C:
			return nil, nil
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return nil, ErrBackendClosed
			} else if errors.Is(err, fsnotify.ErrEventOverflow) {
				return []RawEvent{{Action: ActionOverflow, Path: b.root, IsDirectory: true}}, nil
			}
			return nil, errors.Wrap(err, "watch error")
		case event, ok := <-b.watcher.Events:
			if !ok {
				return nil, ErrBackendClosed
			}
			result := b.convert(event)

			// Collect any other immediately available events.
		Draining:
			for {
				select {
				case event, ok := <-b.watcher.Events:
					if !ok {
						break Draining
					}
					result = append(result, b.convert(event)...)
				default:
					break Draining
				}
			}
			if len(result) > 0 {
				return result, nil
			}
		}
	}
}

// Close implements Backend.Close.
func (b *fsnotifyBackend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closed)
		err = b.watcher.Close()
	})
	return err
}
