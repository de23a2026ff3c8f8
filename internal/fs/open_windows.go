//go:build windows

package fs

import "os/exec"

// platformOpen hands the file to the shell's file association.
func platformOpen(path string) error {
	return exec.Command("rundll32", "url.dll,FileProtocolHandler", path).Start()
}
