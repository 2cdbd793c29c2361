// Package events defines normalized filesystem change events and the handler
// capabilities used to consume them.
package events

import (
	"fmt"
)

// Type identifies the kind of change that an event describes.
type Type uint8

const (
	// Created indicates that a path was created.
	Created Type = iota
	// Deleted indicates that a path was deleted.
	Deleted
	// Modified indicates that the contents or metadata at a path changed.
	Modified
	// Moved indicates that a path was renamed or moved.
	Moved
)

// String provides a human-readable representation of an event type.
func (t Type) String() string {
	switch t {
	case Created:
		return "created"
	case Deleted:
		return "deleted"
	case Modified:
		return "modified"
	case Moved:
		return "moved"
	default:
		return "unknown"
	}
}

// Event is a normalized filesystem change notification. It is a comparable
// value type and should be treated as immutable.
type Event struct {
	// Type is the kind of change.
	Type Type
	// Path is the affected path. For moves, it is the source path.
	Path string
	// DestinationPath is the destination path for moves and empty otherwise.
	DestinationPath string
	// IsDirectory indicates whether or not the affected path is a directory.
	IsDirectory bool
	// IsSynthetic indicates that the event was generated rather than reported,
	// e.g. the move of a descendant implied by the move of its parent.
	IsSynthetic bool
}

// New creates a non-move event.
func New(t Type, path string, isDirectory bool) Event {
	return Event{Type: t, Path: path, IsDirectory: isDirectory}
}

// NewMoved creates a move event.
func NewMoved(source, destination string, isDirectory bool) Event {
	return Event{
		Type:            Moved,
		Path:            source,
		DestinationPath: destination,
		IsDirectory:     isDirectory,
	}
}

// Synthetic returns a copy of the event marked as synthetic.
func (e Event) Synthetic() Event {
	e.IsSynthetic = true
	return e
}

// Key is the identity of an event. Two events with equal keys describe the
// same change.
type Key struct {
	Type            Type
	Path            string
	DestinationPath string
	IsDirectory     bool
}

// Key returns the identity key for the event. Synthetic markers are not part
// of an event's identity.
func (e Event) Key() Key {
	return Key{
		Type:            e.Type,
		Path:            e.Path,
		DestinationPath: e.DestinationPath,
		IsDirectory:     e.IsDirectory,
	}
}

// Equal determines whether or not two events have the same identity.
func (e Event) Equal(other Event) bool {
	return e.Key() == other.Key()
}

// Paths returns the paths involved in the event. Moves involve two paths.
func (e Event) Paths() []string {
	if e.Type == Moved {
		return []string{e.Path, e.DestinationPath}
	}
	return []string{e.Path}
}

// String provides a human-readable representation of the event.
func (e Event) String() string {
	kind := "file"
	if e.IsDirectory {
		kind = "directory"
	}
	if e.Type == Moved {
		return fmt.Sprintf("%s %s: %s -> %s", kind, e.Type, e.Path, e.DestinationPath)
	}
	return fmt.Sprintf("%s %s: %s", kind, e.Type, e.Path)
}
