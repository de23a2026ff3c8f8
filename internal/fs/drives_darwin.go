//go:build darwin

package fs

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"

	"github.com/justyntemme/razorfs/internal/debug"
)

const volumesDir = "/Volumes"

// ListDrives returns the boot volume as "/" followed by the other mounted
// volumes, sorted by name.
func ListDrives() []Drive {
	boot := Drive{Name: "Macintosh HD", Path: "/"}

	var (
		mu     sync.Mutex
		others []Drive
	)
	conf := &fastwalk.Config{Follow: false}
	err := fastwalk.Walk(conf, volumesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == volumesDir {
			return nil
		}
		if filepath.Dir(path) != volumesDir {
			return fastwalk.SkipDir
		}

		// The boot volume is a symlink back to /.
		if d.Type()&fs.ModeSymlink != 0 {
			if target, err := os.Readlink(path); err == nil && target == "/" {
				mu.Lock()
				boot.Name = d.Name()
				mu.Unlock()
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if _, err := os.Stat(path); err != nil {
			return fastwalk.SkipDir
		}
		mu.Lock()
		others = append(others, Drive{Name: d.Name(), Path: path})
		mu.Unlock()
		return fastwalk.SkipDir
	})
	if err != nil {
		debug.Log(debug.FS, "ListDrives: walk %s: %v", volumesDir, err)
	}

	slices.SortFunc(others, func(a, b Drive) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return append([]Drive{boot}, others...)
}
