// Package snapshot provides point-in-time captures of directory trees and the
// computation of structural differences between them.
package snapshot

import (
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/mutagen-io/watchdog/pkg/filesystem"
)

// Entry is the metadata recorded for a single path.
type Entry struct {
	// Inode is the file's inode number (or file index on Windows).
	Inode uint64
	// Device is the identifier of the device containing the file.
	Device uint64
	// ModificationTime is the modification time in nanoseconds since the Unix
	// epoch.
	ModificationTime int64
	// Size is the size of the file in bytes.
	Size int64
	// IsDirectory indicates whether or not the entry is a directory.
	IsDirectory bool
}

// IdentityFunc is the signature for functions that compute the inode number
// and device identifier for a path.
type IdentityFunc func(path string, info os.FileInfo) (uint64, uint64, error)

// Options control snapshot creation.
type Options struct {
	// Stat is the metadata function. If nil, os.Lstat is used.
	Stat filesystem.StatFunc
	// ReadDirectory is the listing function. If nil,
	// filesystem.ReadDirectoryNames is used.
	ReadDirectory filesystem.ReadDirectoryFunc
	// Identity is the identity function. If nil, filesystem.FileIdentity is
	// used.
	Identity IdentityFunc
}

// Snapshot is an immutable capture of a directory tree. It maps absolute paths
// to their metadata at the time of the capture.
type Snapshot struct {
	// root is the root path of the snapshot.
	root string
	// recursive indicates whether or not the snapshot covers the full tree.
	recursive bool
	// entries maps paths to their metadata.
	entries map[string]Entry
}

// Take creates a snapshot of the tree rooted at the specified path. If
// recursive is false, only the root and its immediate children are captured.
// Entries that vanish or can't be accessed during the walk are omitted. A
// failure to access the root is an error.
func Take(root string, recursive bool, options *Options) (*Snapshot, error) {
	// Set up functions.
	if options == nil {
		options = &Options{}
	}
	identity := options.Identity
	if identity == nil {
		identity = filesystem.FileIdentity
	}

	// Create the snapshot.
	result := &Snapshot{
		root:      root,
		recursive: recursive,
		entries:   make(map[string]Entry),
	}

	// Walk the tree.
	walkOptions := &filesystem.WalkOptions{
		Recursive:     recursive,
		Stat:          options.Stat,
		ReadDirectory: options.ReadDirectory,
	}
	err := filesystem.Walk(root, walkOptions, func(path string, info os.FileInfo) error {
		inode, device, err := identity(path, info)
		if err != nil {
			if path != root && filesystem.IsVanishedOrForbidden(err) {
				return nil
			}
			return errors.Wrapf(err, "unable to compute file identity (%s)", path)
		}
		result.entries[path] = Entry{
			Inode:            inode,
			Device:           device,
			ModificationTime: info.ModTime().UnixNano(),
			Size:             info.Size(),
			IsDirectory:      info.IsDir(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Success.
	return result, nil
}

// Root returns the root path of the snapshot.
func (s *Snapshot) Root() string {
	return s.root
}

// Recursive returns whether or not the snapshot covers the full tree.
func (s *Snapshot) Recursive() bool {
	return s.recursive
}

// Len returns the number of entries in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.entries)
}

// Get returns the entry for a path.
func (s *Snapshot) Get(path string) (Entry, bool) {
	entry, ok := s.entries[path]
	return entry, ok
}

// Paths returns the paths in the snapshot in sorted order.
func (s *Snapshot) Paths() []string {
	paths := make([]string, 0, len(s.entries))
	for path := range s.entries {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Statistics summarizes a snapshot.
type Statistics struct {
	// Files is the number of non-directory entries.
	Files uint64
	// Directories is the number of directory entries, including the root.
	Directories uint64
	// TotalSize is the combined size of all non-directory entries.
	TotalSize uint64
}

// Statistics computes summary statistics for the snapshot.
func (s *Snapshot) Statistics() Statistics {
	var result Statistics
	for _, entry := range s.entries {
		if entry.IsDirectory {
			result.Directories++
		} else {
			result.Files++
			if entry.Size > 0 {
				result.TotalSize += uint64(entry.Size)
			}
		}
	}
	return result
}
