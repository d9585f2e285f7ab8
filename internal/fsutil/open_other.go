//go:build !linux

package fsutil

import "os"

// OpenNoAtime opens path read-only. Platforms other than Linux have no
// per-open atime suppression.
func OpenNoAtime(path string) (*os.File, error) {
	return os.Open(path)
}
