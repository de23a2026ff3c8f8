//go:build !unix && !windows

package fs

func isCrossDevice(err error) bool {
	return false
}
