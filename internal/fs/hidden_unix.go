//go:build !windows

package fs

import "strings"

func isHidden(path, name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}
