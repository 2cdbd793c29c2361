//go:build darwin && cgo

package watching

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mutagen-io/fsevents"

	"github.com/mutagen-io/watchdog/pkg/filesystem"
	"github.com/mutagen-io/watchdog/pkg/logging"
)

const (
	// fseventsChannelCapacity is the capacity of the raw event batch channel.
	fseventsChannelCapacity = 50
	// fseventsLatency is the coalescing latency used with FSEvents itself.
	fseventsLatency = 10 * time.Millisecond
	// fseventsFlags are the flags used to create event streams.
	fseventsFlags = fsevents.NoDefer | fsevents.WatchRoot | fsevents.FileEvents
	// fseventsOverflowFlags are the flags indicating that events were lost.
	fseventsOverflowFlags = fsevents.MustScanSubDirs | fsevents.KernelDropped | fsevents.UserDropped
	// fseventsModificationFlags are the flags indicating content or metadata
	// modification.
	fseventsModificationFlags = fsevents.ItemModified | fsevents.ItemInodeMetaMod |
		fsevents.ItemFinderInfoMod | fsevents.ItemChangeOwner | fsevents.ItemXattrMod
)

// fseventsBackend implements Backend using an FSEvents stream.
type fseventsBackend struct {
	// root is the watched path.
	root string
	// resolved is the watched path with symbolic links resolved, which is the
	// form reported by FSEvents.
	resolved string
	// recursive indicates whether or not the watch is recursive.
	recursive bool
	// logger is the backend logger.
	logger *logging.Logger
	// stream is the event stream.
	stream *fsevents.EventStream
	// batches receives raw event batches.
	batches chan []fsevents.Event
	// kinds remembers the kinds of recently seen paths.
	kinds *kindCache
	// closed is closed when the backend is closed.
	closed chan struct{}
	// closeOnce guards closure.
	closeOnce sync.Once
}

// newFSEventsBackend creates an FSEvents-based backend.
func newFSEventsBackend(root string, recursive bool, settings *backendSettings) (Backend, error) {
	// Resolve symbolic links, since event paths are reported in resolved form.
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, errors.Wrap(err, "unable to resolve symbolic links for watch root")
	}

	// Verify that the root is a directory.
	if info, err := os.Stat(resolved); err != nil {
		return nil, errors.Wrap(err, "unable to query watch root")
	} else if !info.IsDir() {
		return nil, errors.New("watch root is not a directory")
	}

	// Create the backend.
	batches := make(chan []fsevents.Event, fseventsChannelCapacity)
	backend := &fseventsBackend{
		root:      root,
		resolved:  resolved,
		recursive: recursive,
		logger:    settings.logger.Sublogger("fsevents"),
		stream: &fsevents.EventStream{
			Events:  batches,
			Paths:   []string{resolved},
			Latency: fseventsLatency,
			Flags:   fseventsFlags,
		},
		batches: batches,
		kinds:   newKindCache(),
		closed:  make(chan struct{}),
	}

	// Seed the kind cache with the baseline if available.
	if settings.baseline != nil {
		for _, path := range settings.baseline.Paths() {
			entry, _ := settings.baseline.Get(path)
			backend.kinds.record(path, entry.IsDirectory)
		}
	}

	// Start the stream.
	backend.stream.Start()

	// Success.
	return backend, nil
}

// translate converts a reported path into the watch root's namespace and
// determines whether or not it's relevant to the watch.
func (b *fseventsBackend) translate(reported string) (string, bool) {
	reported = filesystem.NormalizeEventPath(reported)
	var path string
	if reported == b.resolved {
		path = b.root
	} else if b.resolved == "/" && strings.HasPrefix(reported, "/") {
		path = filepath.Join(b.root, reported[1:])
	} else if strings.HasPrefix(reported, b.resolved+"/") {
		path = filepath.Join(b.root, reported[len(b.resolved)+1:])
	} else {
		return "", false
	}
	if !b.recursive && path != b.root && !filesystem.IsDirectChild(path, b.root) {
		return "", false
	}
	return path, true
}

// kind determines whether or not a path is a directory and whether or not it
// currently exists.
func (b *fseventsBackend) kind(path string, flags fsevents.EventFlags) (bool, bool) {
	if info, err := os.Lstat(path); err == nil {
		b.kinds.record(path, info.IsDir())
		return info.IsDir(), true
	}
	if flags&fsevents.ItemIsDir != 0 {
		b.kinds.forget(path)
		return true, false
	} else if flags&(fsevents.ItemIsFile|fsevents.ItemIsSymlink) != 0 {
		b.kinds.forget(path)
		return false, false
	}
	return b.kinds.forget(path), false
}

// convert translates a batch of native events.
func (b *fseventsBackend) convert(batch []fsevents.Event) []RawEvent {
	var result []RawEvent
	for i := 0; i < len(batch); i++ {
		event := batch[i]

		// Handle lost events and changes to the root.
		if event.Flags&fseventsOverflowFlags != 0 {
			result = append(result, RawEvent{Action: ActionOverflow, Path: b.root, IsDirectory: true})
			continue
		} else if event.Flags&fsevents.RootChanged != 0 {
			result = append(result, RawEvent{Action: ActionRemovedSelf, Path: b.root, IsDirectory: true})
			continue
		} else if event.Flags&(fsevents.Mount|fsevents.Unmount) != 0 {
			b.logger.Debugf("Volume mount change at %s", event.Path)
			result = append(result, RawEvent{Action: ActionOverflow, Path: b.root, IsDirectory: true})
			continue
		}

		// Filter and translate the path.
		path, ok := b.translate(event.Path)
		if !ok {
			continue
		}
		if path == b.root {
			if event.Flags&fsevents.ItemRemoved != 0 {
				if _, err := os.Lstat(b.root); err != nil {
					result = append(result, RawEvent{Action: ActionRemovedSelf, Path: b.root, IsDirectory: true})
				}
			}
			continue
		}

		// Handle renames. Both halves of a rename are reported with
		// consecutive event identifiers.
		if event.Flags&fsevents.ItemRenamed != 0 {
			if i+1 < len(batch) {
				next := batch[i+1]
				if next.Flags&fsevents.ItemRenamed != 0 && next.ID == event.ID+1 {
					if destination, ok := b.translate(next.Path); ok {
						isDirectory, _ := b.kind(destination, next.Flags)
						b.kinds.forget(path)
						result = append(result, RawEvent{
							Action:          ActionMoved,
							Path:            path,
							DestinationPath: destination,
							IsDirectory:     isDirectory,
						})
						i++
						continue
					}
				}
			}
			isDirectory, exists := b.kind(path, event.Flags)
			if exists {
				result = append(result, RawEvent{Action: ActionAdded, Path: path, IsDirectory: isDirectory})
			} else {
				result = append(result, RawEvent{Action: ActionRemoved, Path: path, IsDirectory: isDirectory})
			}
			continue
		}

		// Handle other changes. Coalesced flags are reconciled against the
		// current state of the path.
		isDirectory, exists := b.kind(path, event.Flags)
		created := event.Flags&fsevents.ItemCreated != 0
		if created {
			result = append(result, RawEvent{Action: ActionAdded, Path: path, IsDirectory: isDirectory})
		}
		if exists {
			if event.Flags&fseventsModificationFlags != 0 {
				result = append(result, RawEvent{Action: ActionModified, Path: path, IsDirectory: isDirectory})
			}
		} else if created || event.Flags&fsevents.ItemRemoved != 0 {
			result = append(result, RawEvent{Action: ActionRemoved, Path: path, IsDirectory: isDirectory})
		}
	}
	return result
}

// ReadEvents implements Backend.ReadEvents.
func (b *fseventsBackend) ReadEvents(timeout time.Duration) ([]RawEvent, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-b.closed:
			return nil, ErrBackendClosed
		case <-timer.C:
			return nil, nil
		case batch, ok := <-b.batches:
			if !ok {
				return nil, errors.New("event stream closed unexpectedly")
			}
			if converted := b.convert(batch); len(converted) > 0 {
				return converted, nil
			}
		}
	}
}

// Close implements Backend.Close.
func (b *fseventsBackend) Close() error {
	b.closeOnce.Do(func() {
		b.stream.Stop()
		close(b.closed)
	})
	return nil
}
