//go:build !windows

package filesystem

import (
	"errors"
	"syscall"
)

// isNotDirectory returns whether or not an error indicates that a path
// component is not a directory, which occurs when a directory is replaced by a
// file during a walk.
func isNotDirectory(err error) bool {
	return errors.Is(err, syscall.ENOTDIR)
}
