package events

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// PathFilter is a predicate over file paths.
type PathFilter func(path string) bool

// PathHandler forwards the file paths of non-directory events that pass a
// filter to a callback. Moves forward both the source and destination paths.
type PathHandler struct {
	// Filter selects paths to forward. If nil, every path is forwarded.
	Filter PathFilter
	// Callback receives forwarded paths.
	Callback func(path string)
}

// forward invokes the callback for a path if it passes the filter.
func (h *PathHandler) forward(path string) {
	if h.Filter != nil && !h.Filter(path) {
		return
	}
	if h.Callback != nil {
		h.Callback(path)
	}
}

// OnAnyEvent implements AnyEventHandler.OnAnyEvent.
func (h *PathHandler) OnAnyEvent(event Event) error {
	if event.IsDirectory {
		return nil
	}
	h.forward(event.Path)
	if event.Type == Moved {
		h.forward(event.DestinationPath)
	}
	return nil
}

// SplitFileMove converts a file event into the equivalent sequence of simple
// file events. A file move becomes a deletion of the source followed by a
// creation of the destination. Other file events are returned unchanged.
// Directory events produce an empty result.
func SplitFileMove(event Event) []Event {
	if event.IsDirectory {
		return nil
	}
	if event.Type != Moved {
		return []Event{event}
	}
	return []Event{
		{Type: Deleted, Path: event.Path, IsSynthetic: event.IsSynthetic},
		{Type: Created, Path: event.DestinationPath, IsSynthetic: event.IsSynthetic},
	}
}

// FilePaths returns the file paths affected by an event in the order of
// SplitFileMove.
func FilePaths(event Event) []string {
	split := SplitFileMove(event)
	result := make([]string, len(split))
	for i, e := range split {
		result[i] = e.Path
	}
	return result
}

// FilterPath returns whether or not a path is an immediate child of the
// expected parent directory and has a name ending with the expected suffix.
func FilterPath(path, expectedParent, expectedSuffix string) bool {
	if filepath.Dir(path) != filepath.Clean(expectedParent) {
		return false
	}
	return strings.HasSuffix(filepath.Base(path), expectedSuffix)
}

// Existence reports whether or not a file exists following an event.
type Existence struct {
	// Path is the file path.
	Path string
	// Exists indicates whether or not the file exists.
	Exists bool
}

// MonitorFileExistence transforms an event stream into a stream of file
// existence changes for files directly inside a directory that have names with
// the specified suffix. The output channel is closed when the input channel is
// closed or the context is cancelled.
func MonitorFileExistence(ctx context.Context, source <-chan Event, directory, suffix string) <-chan Existence {
	results := make(chan Existence)
	go func() {
		defer close(results)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-source:
				if !ok {
					return
				}
				for _, e := range SplitFileMove(event) {
					if !FilterPath(e.Path, directory, suffix) {
						continue
					}
					select {
					case results <- Existence{Path: e.Path, Exists: e.Type != Deleted}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return results
}

// ChangedFile is the result of loading a changed file.
type ChangedFile struct {
	// Path is the file path.
	Path string
	// Contents are the file contents, or nil if the file couldn't be read.
	Contents []byte
}

// LoadChangedFiles transforms an event stream into a stream of file contents
// for files directly inside a directory that have names with the specified
// suffix. Files that can't be read (e.g. because they were deleted) are
// reported with nil contents. The output channel is closed when the input
// channel is closed or the context is cancelled.
func LoadChangedFiles(ctx context.Context, source <-chan Event, directory, suffix string) <-chan ChangedFile {
	results := make(chan ChangedFile)
	go func() {
		defer close(results)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-source:
				if !ok {
					return
				}
				for _, path := range FilePaths(event) {
					if !FilterPath(path, directory, suffix) {
						continue
					}
					contents, err := os.ReadFile(path)
					if err != nil {
						contents = nil
					}
					select {
					case results <- ChangedFile{Path: path, Contents: contents}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return results
}
