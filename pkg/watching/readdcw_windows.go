//go:build windows

package watching

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"

	"github.com/Microsoft/go-winio"

	"github.com/mutagen-io/watchdog/pkg/logging"
)

const (
	// readdcwBufferSize is the size of the notification buffer.
	readdcwBufferSize = 64 * 1024
	// readdcwFilter is the set of changes requested.
	readdcwFilter = windows.FILE_NOTIFY_CHANGE_FILE_NAME |
		windows.FILE_NOTIFY_CHANGE_DIR_NAME |
		windows.FILE_NOTIFY_CHANGE_ATTRIBUTES |
		windows.FILE_NOTIFY_CHANGE_SIZE |
		windows.FILE_NOTIFY_CHANGE_LAST_WRITE |
		windows.FILE_NOTIFY_CHANGE_CREATION |
		windows.FILE_NOTIFY_CHANGE_SECURITY
)

// watchRootParameters are the root properties monitored to detect
// replacement or removal of the watch root.
type watchRootParameters struct {
	// fileAttributes are the Windows file attributes.
	fileAttributes uint32
	// creationTime is the creation time.
	creationTime windows.Filetime
}

// queryWatchRoot queries the parameters of the watch root.
func queryWatchRoot(root string) (watchRootParameters, error) {
	file, err := os.Open(root)
	if err != nil {
		return watchRootParameters{}, err
	}
	defer file.Close()
	info, err := winio.GetFileBasicInfo(file)
	if err != nil {
		return watchRootParameters{}, errors.Wrap(err, "unable to query root metadata")
	}
	return watchRootParameters{
		fileAttributes: info.FileAttributes,
		creationTime:   info.CreationTime,
	}, nil
}

// readdcwBackend implements Backend using overlapped ReadDirectoryChangesW.
type readdcwBackend struct {
	// root is the watched path.
	root string
	// recursive indicates whether or not the watch is recursive.
	recursive bool
	// logger is the backend logger.
	logger *logging.Logger
	// parameters are the watch root parameters at creation.
	parameters watchRootParameters
	// handle is the directory handle.
	handle windows.Handle
	// overlapped is the overlapped I/O state.
	overlapped windows.Overlapped
	// buffer is the notification buffer.
	buffer []byte
	// pending indicates whether or not a read is in flight.
	pending bool
	// kinds remembers the kinds of recently seen paths.
	kinds *kindCache
	// readLock is held for the duration of ReadEvents.
	readLock sync.Mutex
	// closed indicates that closure has been requested.
	closed atomic.Bool
	// closeOnce guards resource release.
	closeOnce sync.Once
}

// newNativeBackend creates a ReadDirectoryChangesW-based backend.
func newNativeBackend(root string, recursive bool, settings *backendSettings) (Backend, error) {
	// Query the root.
	parameters, err := queryWatchRoot(root)
	if err != nil {
		return nil, errors.Wrap(err, "unable to query watch root")
	}

	// Open the directory.
	root16, err := windows.UTF16PtrFromString(root)
	if err != nil {
		return nil, errors.Wrap(err, "unable to convert watch root path")
	}
	handle, err := windows.CreateFile(
		root16,
		windows.FILE_LIST_DIRECTORY,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS|windows.FILE_FLAG_OVERLAPPED,
		0,
	)
	if err != nil {
		return nil, errors.Wrap(&os.PathError{Op: "CreateFile", Path: root, Err: err}, "unable to open watch root")
	}

	// Create the completion event.
	event, err := windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		windows.CloseHandle(handle)
		return nil, errors.Wrap(err, "unable to create completion event")
	}

	// Create the backend.
	backend := &readdcwBackend{
		root:       root,
		recursive:  recursive,
		logger:     settings.logger.Sublogger("readdcw"),
		parameters: parameters,
		handle:     handle,
		overlapped: windows.Overlapped{HEvent: event},
		buffer:     make([]byte, readdcwBufferSize),
		kinds:      newKindCache(),
	}
	if settings.baseline != nil {
		for _, path := range settings.baseline.Paths() {
			entry, _ := settings.baseline.Get(path)
			backend.kinds.record(path, entry.IsDirectory)
		}
	}

	// Start the first read so that changes are captured from this point.
	if err := backend.issue(); err != nil {
		backend.release()
		return nil, err
	}

	// Success.
	return backend, nil
}

// issue starts an overlapped read.
func (b *readdcwBackend) issue() error {
	if err := windows.ResetEvent(b.overlapped.HEvent); err != nil {
		return errors.Wrap(err, "unable to reset completion event")
	}
	err := windows.ReadDirectoryChanges(
		b.handle,
		&b.buffer[0],
		uint32(len(b.buffer)),
		b.recursive,
		readdcwFilter,
		nil,
		&b.overlapped,
		0,
	)
	if err != nil && err != windows.ERROR_IO_PENDING {
		return errors.Wrap(err, "unable to read directory changes")
	}
	b.pending = true
	return nil
}

// rootChanged checks whether or not the watch root has been removed or
// replaced.
func (b *readdcwBackend) rootChanged() bool {
	parameters, err := queryWatchRoot(b.root)
	return err != nil || parameters != b.parameters
}

// kind determines whether or not a path is a directory, recording it.
func (b *readdcwBackend) kind(path string) bool {
	if info, err := os.Lstat(path); err == nil {
		b.kinds.record(path, info.IsDir())
		return info.IsDir()
	}
	isDirectory, _ := b.kinds.lookup(path)
	return isDirectory
}

// decode converts a completed notification buffer into raw events.
func (b *readdcwBackend) decode(length uint32) []RawEvent {
	var result []RawEvent
	var renameSource string
	var renameSourceIsDirectory, haveRenameSource bool
	flushRenameSource := func() {
		if haveRenameSource {
			result = append(result, RawEvent{Action: ActionRemoved, Path: renameSource, IsDirectory: renameSourceIsDirectory})
			haveRenameSource = false
		}
	}
	for offset := uint32(0); offset < length; {
		record := (*windows.FileNotifyInformation)(unsafe.Pointer(&b.buffer[offset]))
		name := windows.UTF16ToString(unsafe.Slice(&record.FileName, record.FileNameLength/2))
		path := filepath.Join(b.root, name)
		switch record.Action {
		case windows.FILE_ACTION_ADDED:
			result = append(result, RawEvent{Action: ActionAdded, Path: path, IsDirectory: b.kind(path)})
		case windows.FILE_ACTION_REMOVED:
			result = append(result, RawEvent{Action: ActionRemoved, Path: path, IsDirectory: b.kinds.forget(path)})
		case windows.FILE_ACTION_MODIFIED:
			result = append(result, RawEvent{Action: ActionModified, Path: path, IsDirectory: b.kind(path)})
		case windows.FILE_ACTION_RENAMED_OLD_NAME:
			flushRenameSource()
			renameSource, haveRenameSource = path, true
			renameSourceIsDirectory, _ = b.kinds.lookup(path)
		case windows.FILE_ACTION_RENAMED_NEW_NAME:
			isDirectory := b.kind(path)
			if haveRenameSource {
				b.kinds.forget(renameSource)
				result = append(result, RawEvent{
					Action:          ActionMoved,
					Path:            renameSource,
					DestinationPath: path,
					IsDirectory:     isDirectory,
				})
				haveRenameSource = false
			} else {
				result = append(result, RawEvent{Action: ActionAdded, Path: path, IsDirectory: isDirectory})
			}
		}
		if record.NextEntryOffset == 0 {
			break
		}
		offset += record.NextEntryOffset
	}
	flushRenameSource()
	return result
}

// ReadEvents implements Backend.ReadEvents.
func (b *readdcwBackend) ReadEvents(timeout time.Duration) ([]RawEvent, error) {
	// Serialize reads with closure.
	b.readLock.Lock()
	defer b.readLock.Unlock()
	if b.closed.Load() {
		return nil, ErrBackendClosed
	}

	// Ensure that a read is in flight.
	if !b.pending {
		if err := b.issue(); err != nil {
			return nil, err
		}
	}

	// Wait for completion.
	milliseconds := uint32((timeout + time.Millisecond - 1) / time.Millisecond)
	status, err := windows.WaitForSingleObject(b.overlapped.HEvent, milliseconds)
	if b.closed.Load() {
		return nil, ErrBackendClosed
	} else if err != nil {
		return nil, errors.Wrap(err, "unable to wait for directory changes")
	} else if status == uint32(windows.WAIT_TIMEOUT) {
		if b.rootChanged() {
			return []RawEvent{{Action: ActionRemovedSelf, Path: b.root, IsDirectory: true}}, nil
		}
		return nil, nil
	} else if status != windows.WAIT_OBJECT_0 {
		return nil, errors.Errorf("unexpected wait status: %d", status)
	}

	// Grab the result.
	var length uint32
	err = windows.GetOverlappedResult(b.handle, &b.overlapped, &length, false)
	b.pending = false
	if err == windows.ERROR_OPERATION_ABORTED {
		return nil, ErrBackendClosed
	} else if err == windows.ERROR_NOTIFY_ENUM_DIR {
		return []RawEvent{{Action: ActionOverflow, Path: b.root, IsDirectory: true}}, nil
	} else if err != nil {
		if b.rootChanged() {
			return []RawEvent{{Action: ActionRemovedSelf, Path: b.root, IsDirectory: true}}, nil
		}
		return nil, errors.Wrap(err, "unable to read directory changes")
	}

	// Decode the result. A zero-length result indicates that the buffer
	// overflowed and that notifications were lost.
	var result []RawEvent
	if length == 0 {
		result = []RawEvent{{Action: ActionOverflow, Path: b.root, IsDirectory: true}}
	} else {
		result = b.decode(length)
	}

	// Restart the read immediately to minimize the window in which changes
	// aren't captured.
	if err := b.issue(); err != nil {
		return nil, err
	}

	// Check the root.
	if b.rootChanged() {
		result = append(result, RawEvent{Action: ActionRemovedSelf, Path: b.root, IsDirectory: true})
	}

	// Done.
	return result, nil
}

// release cancels any in-flight read and closes handles.
func (b *readdcwBackend) release() {
	b.closeOnce.Do(func() {
		if b.pending {
			windows.CancelIoEx(b.handle, &b.overlapped)
			var length uint32
			windows.GetOverlappedResult(b.handle, &b.overlapped, &length, true)
			b.pending = false
		}
		windows.CloseHandle(b.handle)
		windows.CloseHandle(b.overlapped.HEvent)
	})
}

// Close implements Backend.Close.
func (b *readdcwBackend) Close() error {
	// Request closure and cancel any in-flight read, which wakes any waiting
	// reader.
	if !b.closed.Swap(true) {
		windows.CancelIoEx(b.handle, &b.overlapped)
	}

	// Wait for any in-progress read to return and release resources.
	b.readLock.Lock()
	defer b.readLock.Unlock()
	b.release()
	return nil
}
