//go:build linux

package fsutil

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// OpenNoAtime opens path read-only with O_NOATIME so classification and
// dry-run reads do not update the access time. O_NOATIME is refused for files
// the caller does not own; those fall back to a plain open.
func OpenNoAtime(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|unix.O_NOATIME, 0)
	if err != nil && errors.Is(err, os.ErrPermission) {
		return os.Open(path)
	}
	return f, err
}
