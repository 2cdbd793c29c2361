package snapshot

import (
	"sort"

	"github.com/mutagen-io/watchdog/pkg/events"
)

// DiffOptions control difference computation.
type DiffOptions struct {
	// IgnoreDevice excludes the device identifier from file identity when
	// matching moves. This is useful for filesystems that report unstable
	// device identifiers.
	IgnoreDevice bool
}

// Move represents a path pair identified as a move.
type Move struct {
	// Source is the path in the reference snapshot.
	Source string
	// Destination is the path in the current snapshot.
	Destination string
}

// Diff is the structural difference between two snapshots. Each list is
// sorted. It should be treated as read-only.
type Diff struct {
	FilesCreated        []string
	FilesDeleted        []string
	FilesModified       []string
	FilesMoved          []Move
	DirectoriesCreated  []string
	DirectoriesDeleted  []string
	DirectoriesModified []string
	DirectoriesMoved    []Move
}

// identity is the key used for move matching.
type identity struct {
	inode  uint64
	device uint64
}

// key computes the identity key for an entry.
func (o *DiffOptions) key(entry Entry) identity {
	if o != nil && o.IgnoreDevice {
		return identity{inode: entry.Inode}
	}
	return identity{inode: entry.Inode, device: entry.Device}
}

// modified returns whether or not stat information indicates modification.
func modified(reference, current Entry) bool {
	return reference.ModificationTime != current.ModificationTime ||
		reference.Size != current.Size
}

// Compute computes the difference between a reference snapshot and a current
// snapshot. A path that exists in both snapshots but with a different identity
// is treated as deleted and re-created. A deleted path and a created path that
// share an identity are reported as a move instead. Moves onto an existing
// path don't report a separate deletion for the destination.
func Compute(reference, current *Snapshot, options *DiffOptions) *Diff {
	// Compute created and deleted paths, treating identity changes as
	// replacements.
	created := make(map[string]bool)
	deleted := make(map[string]bool)
	for path, entry := range current.entries {
		if old, ok := reference.entries[path]; !ok {
			created[path] = true
		} else if options.key(old) != options.key(entry) || old.IsDirectory != entry.IsDirectory {
			created[path] = true
			deleted[path] = true
		}
	}
	for path := range reference.entries {
		if _, ok := current.entries[path]; !ok {
			deleted[path] = true
		}
	}

	// Index created paths by identity.
	createdByIdentity := make(map[identity]string, len(created))
	for path := range created {
		createdByIdentity[options.key(current.entries[path])] = path
	}

	// Match deletions to creations with the same identity. Iterate in sorted
	// order so that results are deterministic in the presence of hard links.
	result := &Diff{}
	var moveDestinations []string
	for _, path := range sortedKeys(deleted) {
		old := reference.entries[path]
		destination, ok := createdByIdentity[options.key(old)]
		if !ok || !created[destination] || destination == path {
			continue
		}
		entry := current.entries[destination]
		if entry.IsDirectory != old.IsDirectory {
			continue
		}
		delete(deleted, path)
		delete(created, destination)
		moveDestinations = append(moveDestinations, destination)
		move := Move{Source: path, Destination: destination}
		if entry.IsDirectory {
			result.DirectoriesMoved = append(result.DirectoriesMoved, move)
		} else {
			result.FilesMoved = append(result.FilesMoved, move)
			if modified(old, entry) {
				result.FilesModified = append(result.FilesModified, destination)
			}
		}
	}
	for _, destination := range moveDestinations {
		delete(deleted, destination)
	}

	// Classify remaining creations and deletions.
	for path := range created {
		if current.entries[path].IsDirectory {
			result.DirectoriesCreated = append(result.DirectoriesCreated, path)
		} else {
			result.FilesCreated = append(result.FilesCreated, path)
		}
	}
	for path := range deleted {
		if reference.entries[path].IsDirectory {
			result.DirectoriesDeleted = append(result.DirectoriesDeleted, path)
		} else {
			result.FilesDeleted = append(result.FilesDeleted, path)
		}
	}

	// Detect in-place modifications.
	for path, entry := range current.entries {
		if created[path] || deleted[path] {
			continue
		}
		old, ok := reference.entries[path]
		if !ok || options.key(old) != options.key(entry) || old.IsDirectory != entry.IsDirectory {
			continue
		}
		if modified(old, entry) {
			if entry.IsDirectory {
				result.DirectoriesModified = append(result.DirectoriesModified, path)
			} else {
				result.FilesModified = append(result.FilesModified, path)
			}
		}
	}

	// Sort results.
	sort.Strings(result.FilesCreated)
	sort.Strings(result.FilesDeleted)
	sort.Strings(result.FilesModified)
	sort.Strings(result.DirectoriesCreated)
	sort.Sort(sort.Reverse(sort.StringSlice(result.DirectoriesDeleted)))
	sort.Strings(result.DirectoriesModified)
	sortMoves(result.FilesMoved)
	sortMoves(result.DirectoriesMoved)

	// Done.
	return result
}

// sortedKeys returns the keys of a set in sorted order.
func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// sortMoves sorts moves by source path.
func sortMoves(moves []Move) {
	sort.Slice(moves, func(i, j int) bool {
		return moves[i].Source < moves[j].Source
	})
}

// Empty returns whether or not the difference contains no changes.
func (d *Diff) Empty() bool {
	return len(d.FilesCreated) == 0 && len(d.FilesDeleted) == 0 &&
		len(d.FilesModified) == 0 && len(d.FilesMoved) == 0 &&
		len(d.DirectoriesCreated) == 0 && len(d.DirectoriesDeleted) == 0 &&
		len(d.DirectoriesModified) == 0 && len(d.DirectoriesMoved) == 0
}

// Events converts the difference into an ordered list of events: moves
// (directories before files), deletions (files, then directories with deeper
// paths first), modifications (files, then directories), and creations
// (files, then directories).
func (d *Diff) Events() []events.Event {
	var result []events.Event
	for _, move := range d.DirectoriesMoved {
		result = append(result, events.NewMoved(move.Source, move.Destination, true))
	}
	for _, move := range d.FilesMoved {
		result = append(result, events.NewMoved(move.Source, move.Destination, false))
	}
	for _, path := range d.FilesDeleted {
		result = append(result, events.New(events.Deleted, path, false))
	}
	for _, path := range d.DirectoriesDeleted {
		result = append(result, events.New(events.Deleted, path, true))
	}
	for _, path := range d.FilesModified {
		result = append(result, events.New(events.Modified, path, false))
	}
	for _, path := range d.DirectoriesModified {
		result = append(result, events.New(events.Modified, path, true))
	}
	for _, path := range d.FilesCreated {
		result = append(result, events.New(events.Created, path, false))
	}
	for _, path := range d.DirectoriesCreated {
		result = append(result, events.New(events.Created, path, true))
	}
	return result
}
