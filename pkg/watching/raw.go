package watching

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrWatchLimitReached indicates that creating a native watch would exceed
	// the factory's watch limit.
	ErrWatchLimitReached = errors.New("native watch limit reached")
	// ErrBackendClosed indicates that a backend has been closed.
	ErrBackendClosed = errors.New("backend closed")
	// ErrNativeUnsupported indicates that no native backend is available on the
	// current platform.
	ErrNativeUnsupported = errors.New("native watching unsupported on this platform")
)

// Action identifies the kind of raw notification reported by a backend.
type Action uint8

const (
	// ActionAdded indicates that a path was created or appeared.
	ActionAdded Action = iota
	// ActionRemoved indicates that a path was deleted or disappeared.
	ActionRemoved
	// ActionModified indicates that the contents or metadata of a path changed.
	ActionModified
	// ActionRenamedFrom indicates the source half of an unpaired rename.
	ActionRenamedFrom
	// ActionRenamedTo indicates the destination half of an unpaired rename.
	ActionRenamedTo
	// ActionMoved indicates a paired rename with both paths known.
	ActionMoved
	// ActionRemovedSelf indicates that the watch root itself was removed.
	ActionRemovedSelf
	// ActionOverflow indicates that notifications were lost and that the
	// consumer should rescan.
	ActionOverflow
)

// String provides a human-readable representation of an action.
func (a Action) String() string {
	switch a {
	case ActionAdded:
		return "added"
	case ActionRemoved:
		return "removed"
	case ActionModified:
		return "modified"
	case ActionRenamedFrom:
		return "renamed-from"
	case ActionRenamedTo:
		return "renamed-to"
	case ActionMoved:
		return "moved"
	case ActionRemovedSelf:
		return "removed-self"
	case ActionOverflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// RawEvent is a single notification reported by a backend. Paths are absolute.
type RawEvent struct {
	// Action is the kind of notification.
	Action Action
	// Path is the affected path. For moves, it is the source path.
	Path string
	// DestinationPath is the destination path for moves.
	DestinationPath string
	// IsDirectory indicates whether or not the affected path is a directory.
	IsDirectory bool
}

// String provides a human-readable representation of a raw event.
func (e RawEvent) String() string {
	if e.Action == ActionMoved {
		return fmt.Sprintf("%s %s -> %s (directory: %t)", e.Action, e.Path, e.DestinationPath, e.IsDirectory)
	}
	return fmt.Sprintf("%s %s (directory: %t)", e.Action, e.Path, e.IsDirectory)
}

// Backend is the interface implemented by change notification sources.
type Backend interface {
	// ReadEvents waits up to the specified timeout for notifications. It
	// returns an empty result without error if the timeout elapses. An error
	// indicates that the backend can no longer watch its path.
	ReadEvents(timeout time.Duration) ([]RawEvent, error)
	// Close releases all resources associated with the backend. It may be
	// called while another goroutine is blocked in ReadEvents, in which case
	// ReadEvents returns promptly. It is idempotent.
	Close() error
}

// DescendantMoveReporter is an optional interface implemented by backends
// that report moves of every descendant when a directory moves.
type DescendantMoveReporter interface {
	// ReportsDescendantMoves indicates whether or not descendant moves are
	// reported.
	ReportsDescendantMoves() bool
}

// ReportsDescendantMoves determines whether or not a backend reports moves of
// every descendant when a directory moves.
func ReportsDescendantMoves(backend Backend) bool {
	if reporter, ok := backend.(DescendantMoveReporter); ok {
		return reporter.ReportsDescendantMoves()
	}
	return false
}
