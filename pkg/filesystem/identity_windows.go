package filesystem

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

// FileIdentity computes the file index and volume serial number for a file.
// Windows metadata from os.Lstat doesn't carry this information, so the file
// is opened (without following reparse points) and queried by handle.
func FileIdentity(path string, _ os.FileInfo) (uint64, uint64, error) {
	// Convert the path to UTF-16.
	path16, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, 0, errors.Wrap(err, "unable to convert path encoding")
	}

	// Open the file with minimal access rights. Backup semantics are required
	// to open directories.
	handle, err := windows.CreateFile(
		path16,
		0,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS|windows.FILE_FLAG_OPEN_REPARSE_POINT,
		0,
	)
	if err != nil {
		if err == windows.ERROR_FILE_NOT_FOUND || err == windows.ERROR_PATH_NOT_FOUND {
			return 0, 0, os.ErrNotExist
		}
		return 0, 0, errors.Wrap(err, "unable to open file")
	}
	defer windows.CloseHandle(handle)

	// Query file information.
	var information windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(handle, &information); err != nil {
		return 0, 0, errors.Wrap(err, "unable to query file information")
	}

	// Success.
	index := uint64(information.FileIndexHigh)<<32 | uint64(information.FileIndexLow)
	return index, uint64(information.VolumeSerialNumber), nil
}
