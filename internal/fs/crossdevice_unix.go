//go:build unix

package fs

import (
	"errors"

	"golang.org/x/sys/unix"
)

// isCrossDevice reports a rename that failed because source and destination
// live on different filesystems.
func isCrossDevice(err error) bool {
	return errors.Is(err, unix.EXDEV)
}
