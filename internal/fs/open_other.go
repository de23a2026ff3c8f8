//go:build !linux && !darwin && !windows

package fs

import "errors"

func platformOpen(path string) error {
	return errors.New("open: no default application launcher on this platform")
}
