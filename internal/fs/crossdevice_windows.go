//go:build windows

package fs

import (
	"errors"

	"golang.org/x/sys/windows"
)

// isCrossDevice reports a rename that failed because source and destination
// live on different volumes.
func isCrossDevice(err error) bool {
	return errors.Is(err, windows.ERROR_NOT_SAME_DEVICE)
}
