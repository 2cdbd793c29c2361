//go:build !windows && !plan9

package filesystem

import (
	"os"
	"syscall"

	"github.com/pkg/errors"
)

// FileIdentity extracts the inode number and device identifier for a file
// from its metadata. The path is unused on POSIX systems since the metadata
// carries the identity information.
func FileIdentity(_ string, info os.FileInfo) (uint64, uint64, error) {
	// Grab the system-specific stat type.
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, errors.New("unable to extract raw filesystem information")
	}

	// Success.
	return uint64(stat.Ino), uint64(stat.Dev), nil
}
