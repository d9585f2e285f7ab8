// Package timestamp resets filesystem times of cleaned files to the Unix
// epoch so they no longer reveal when a file was made or edited.
package timestamp

import (
	"fmt"
	"os"
	"time"
)

// Epoch is the instant every normalized timestamp is set to.
var Epoch = time.Unix(0, 0).UTC()

// Logger is the logging surface Normalize needs.
type Logger interface {
	Debug(string, ...interface{})
}

// Normalize sets path's access and modification times to Epoch, and its
// creation time where the platform allows it. A creation time that cannot be
// changed is logged at debug level and is not an error.
func Normalize(path string, log Logger) error {
	if err := os.Chtimes(path, Epoch, Epoch); err != nil {
		return fmt.Errorf("normalize times of %s: %w", path, err)
	}
	if err := setCreationTime(path, Epoch); err != nil {
		log.Debug("Creation time of %s left unchanged: %v", path, err)
	}
	return nil
}
