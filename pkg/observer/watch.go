package observer

import (
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/mutagen-io/watchdog/pkg/events"
	"github.com/mutagen-io/watchdog/pkg/filesystem"
)

// ErrInvalidWatchPath indicates that a watch path doesn't exist or isn't a
// directory.
var ErrInvalidWatchPath = errors.New("invalid watch path")

// ObservedWatch identifies a watched directory. It is a comparable value type
// and two watches with the same path and recursion are the same watch.
type ObservedWatch struct {
	// Path is the absolute, normalized path of the watched directory.
	Path string
	// Recursive indicates whether or not the watch covers the full tree.
	Recursive bool
}

// NewObservedWatch creates a watch for the specified path. The path is
// normalized and must refer to an existing directory.
func NewObservedWatch(path string, recursive bool) (ObservedWatch, error) {
	normalized, err := filesystem.Normalize(path)
	if err != nil {
		return ObservedWatch{}, errors.Wrap(err, "unable to normalize watch path")
	}
	if info, err := os.Stat(normalized); err != nil {
		return ObservedWatch{}, errors.Wrapf(ErrInvalidWatchPath, "%s: %v", normalized, err)
	} else if !info.IsDir() {
		return ObservedWatch{}, errors.Wrapf(ErrInvalidWatchPath, "%s: not a directory", normalized)
	}
	return ObservedWatch{Path: normalized, Recursive: recursive}, nil
}

// String provides a human-readable representation of the watch.
func (w ObservedWatch) String() string {
	return fmt.Sprintf("<ObservedWatch: path=%s, recursive=%t>", w.Path, w.Recursive)
}

// covers returns whether or not a path falls within the watch.
func (w ObservedWatch) covers(path string) bool {
	if path == "" {
		return false
	} else if path == w.Path {
		return true
	} else if w.Recursive {
		return filesystem.IsWithin(path, w.Path)
	}
	return filesystem.IsDirectChild(path, w.Path)
}

// Matches returns whether or not an event should be delivered to handlers of
// the watch.
func (w ObservedWatch) Matches(event events.Event) bool {
	return w.covers(event.Path) || w.covers(event.DestinationPath)
}
