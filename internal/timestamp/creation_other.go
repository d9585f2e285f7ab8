//go:build !windows

package timestamp

import (
	"errors"
	"time"
)

var errCreationTimeUnsupported = errors.New("creation time cannot be set on this platform")

func setCreationTime(string, time.Time) error {
	return errCreationTimeUnsupported
}
