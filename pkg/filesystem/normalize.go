package filesystem

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

// tildeExpand attempts tilde expansion of paths beginning with ~/ or
// ~<username>/. On Windows, it additionally supports ~\ and ~<username>\.
func tildeExpand(path string) (string, error) {
	// Only process relevant paths.
	if path == "" || path[0] != '~' {
		return path, nil
	}

	// Split the path at the first platform path separator. Separators are
	// always single-byte, so scanning bytes is safe.
	username, remaining := path[1:], ""
	for i := 1; i < len(path); i++ {
		if os.IsPathSeparator(path[i]) {
			username, remaining = path[1:i], path[i+1:]
			break
		}
	}

	// Compute the relevant home directory. An empty username refers to the
	// current user.
	var homeDirectory string
	if username == "" {
		if h, err := os.UserHomeDir(); err != nil {
			return "", errors.Wrap(err, "unable to compute path to home directory")
		} else {
			homeDirectory = h
		}
	} else {
		if u, err := user.Lookup(username); err != nil {
			return "", errors.Wrap(err, "unable to lookup user")
		} else {
			homeDirectory = u.HomeDir
		}
	}

	// Compute the full path.
	return filepath.Join(homeDirectory, remaining), nil
}

// Normalize normalizes a path, expanding home directory tildes, converting it
// to an absolute path, and cleaning the result.
func Normalize(path string) (string, error) {
	// Expand any leading tilde.
	path, err := tildeExpand(path)
	if err != nil {
		return "", errors.Wrap(err, "unable to perform tilde expansion")
	}

	// Convert to an absolute path. This will also invoke filepath.Clean.
	path, err = filepath.Abs(path)
	if err != nil {
		return "", errors.Wrap(err, "unable to compute absolute path")
	}

	// Success.
	return path, nil
}

// ComposeUnicode converts a path to Unicode normalization form C.
func ComposeUnicode(path string) string {
	if norm.NFC.IsNormalString(path) {
		return path
	}
	return norm.NFC.String(path)
}

// NormalizeEventPath cleans a path reported by a native notification facility.
// On macOS, where some filesystems and FSEvents report decomposed names, the
// path is additionally recomposed so that it matches paths supplied by users.
func NormalizeEventPath(path string) string {
	path = filepath.Clean(path)
	if runtime.GOOS == "darwin" {
		return ComposeUnicode(path)
	}
	return path
}

// IsDirectChild returns whether or not path is an immediate child of parent.
// Both paths must be clean.
func IsDirectChild(path, parent string) bool {
	return path != parent && filepath.Dir(path) == parent
}

// IsWithin returns whether or not path is equal to or contained within root.
// Both paths must be clean.
func IsWithin(path, root string) bool {
	if path == root {
		return true
	}
	relative, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return relative != ".." && !hasParentPrefix(relative)
}

// hasParentPrefix returns whether or not a relative path escapes its base.
func hasParentPrefix(relative string) bool {
	return len(relative) >= 3 && relative[:2] == ".." && os.IsPathSeparator(relative[2])
}
