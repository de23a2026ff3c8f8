//go:build linux

package fs

import "os/exec"

// platformOpen opens the file with the desktop's default application.
// gio is preferred when present, xdg-open otherwise.
func platformOpen(path string) error {
	if _, err := exec.LookPath("gio"); err == nil {
		return exec.Command("gio", "open", path).Start()
	}
	return exec.Command("xdg-open", path).Start()
}
