package filesystem

import (
	"errors"

	"golang.org/x/sys/windows"
)

// isNotDirectory returns whether or not an error indicates that a path
// component is not a directory, which occurs when a directory is replaced by a
// file during a walk.
func isNotDirectory(err error) bool {
	return errors.Is(err, windows.ERROR_DIRECTORY) || errors.Is(err, windows.ERROR_PATH_NOT_FOUND)
}
