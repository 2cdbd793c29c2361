package filesystem

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

// SkipDirectory can be returned by a WalkFunc to indicate that the contents of
// the visited directory should not be traversed.
var SkipDirectory = filepath.SkipDir

// StatFunc is the signature for functions that retrieve metadata for a path.
// Implementations should not follow symbolic links.
type StatFunc func(path string) (os.FileInfo, error)

// ReadDirectoryFunc is the signature for functions that list the names of the
// entries in a directory.
type ReadDirectoryFunc func(path string) ([]string, error)

// WalkFunc is the visitor signature for Walk.
type WalkFunc func(path string, info os.FileInfo) error

// ReadDirectoryNames lists the names of the entries in a directory in sorted
// order.
func ReadDirectoryNames(path string) ([]string, error) {
	directory, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer directory.Close()
	names, err := directory.Readdirnames(0)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// WalkOptions control the behavior of Walk.
type WalkOptions struct {
	// Recursive indicates whether or not subdirectories of the root should be
	// traversed. If false, only the root and its immediate children are
	// visited.
	Recursive bool
	// Stat is the metadata function. If nil, os.Lstat is used.
	Stat StatFunc
	// ReadDirectory is the listing function. If nil, ReadDirectoryNames is
	// used.
	ReadDirectory ReadDirectoryFunc
}

// IsVanishedOrForbidden returns whether or not an error indicates that a path
// has disappeared or cannot be accessed. Walk skips such entries below the
// root.
func IsVanishedOrForbidden(err error) bool {
	err = errors.Cause(err)
	return os.IsNotExist(err) || os.IsPermission(err) || isNotDirectory(err)
}

// walker encapsulates the state for a single walk.
type walker struct {
	// recursive indicates whether or not the walk is recursive.
	recursive bool
	// stat is the metadata function.
	stat StatFunc
	// readDirectory is the listing function.
	readDirectory ReadDirectoryFunc
	// visitor is the visitation callback.
	visitor WalkFunc
}

// walkDirectory visits the contents of a directory that has already been
// visited itself.
func (w *walker) walkDirectory(path string, depth int) error {
	// Read directory contents. A failure to list the root is an error, but
	// failures for nested directories that disappear or are inaccessible are
	// ignored.
	names, err := w.readDirectory(path)
	if err != nil {
		if depth > 0 && IsVanishedOrForbidden(err) {
			return nil
		}
		return errors.Wrapf(err, "unable to read directory contents (%s)", path)
	}

	// Process contents.
	for _, name := range names {
		childPath := filepath.Join(path, name)

		// Grab metadata, skipping entries that have disappeared or that we
		// can't access.
		info, err := w.stat(childPath)
		if err != nil {
			if IsVanishedOrForbidden(err) {
				continue
			}
			return errors.Wrapf(err, "unable to query metadata (%s)", childPath)
		}

		// Visit the entry.
		if err := w.visitor(childPath, info); err != nil {
			if err == SkipDirectory {
				if !info.IsDir() {
					return errors.New("directory skip requested for non-directory")
				}
				continue
			}
			return err
		}

		// Descend if necessary.
		if info.IsDir() && w.recursive {
			if err := w.walkDirectory(childPath, depth+1); err != nil {
				return err
			}
		}
	}

	// Success.
	return nil
}

// Walk visits the root and, if the root is a directory, its contents. Entries
// are visited before their contents and in the order returned by the listing
// function. Entries below the root that vanish or become inaccessible during
// the walk are omitted. Errors accessing the root itself are returned.
func Walk(root string, options *WalkOptions, visitor WalkFunc) error {
	// Create the walker.
	w := &walker{
		stat:          os.Lstat,
		readDirectory: ReadDirectoryNames,
		visitor:       visitor,
	}
	if options != nil {
		w.recursive = options.Recursive
		if options.Stat != nil {
			w.stat = options.Stat
		}
		if options.ReadDirectory != nil {
			w.readDirectory = options.ReadDirectory
		}
	}

	// Grab information on the root.
	info, err := w.stat(root)
	if err != nil {
		return errors.Wrapf(err, "unable to query root metadata (%s)", root)
	}

	// Visit the root.
	if err := w.visitor(root, info); err != nil {
		if err == SkipDirectory {
			return nil
		}
		return err
	}

	// If the root is a directory, then walk its contents.
	if info.IsDir() {
		return w.walkDirectory(root, 0)
	}

	// Success.
	return nil
}
