//go:build linux

package fs

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/justyntemme/razorfs/internal/debug"
)

// virtualFS are filesystem types that never hold user files.
var virtualFS = map[string]bool{
	"autofs": true, "bpf": true, "cgroup": true, "cgroup2": true,
	"configfs": true, "debugfs": true, "devpts": true, "devtmpfs": true,
	"fusectl": true, "hugetlbfs": true, "mqueue": true, "nsfs": true,
	"overlay": true, "proc": true, "pstore": true, "securityfs": true,
	"squashfs": true, "sysfs": true, "tmpfs": true, "tracefs": true,
}

// systemPrefixes are mount points below which nothing is browsable.
var systemPrefixes = []string{"/sys", "/proc", "/dev", "/run", "/snap", "/boot/efi"}

// ListDrives returns "/" followed by the real mounts listed in
// /proc/self/mounts that report a non-zero size.
func ListDrives() []Drive {
	f, err := os.Open("/proc/self/mounts")
	if err != nil {
		debug.Log(debug.FS, "ListDrives: %v, using / only", err)
		return []Drive{rootDrive}
	}
	defer f.Close()
	return parseMounts(f, hasBlocks)
}

var rootDrive = Drive{Name: "/ (Root)", Path: "/"}

// parseMounts reads mounts(5) lines. keep filters the surviving mount points.
func parseMounts(r io.Reader, keep func(path string) bool) []Drive {
	drives := []Drive{rootDrive}
	seen := map[string]bool{"/": true}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		mountPoint := unescapeMount(fields[1])
		if seen[mountPoint] || virtualFS[fields[2]] || underSystem(mountPoint) {
			continue
		}
		if keep != nil && !keep(mountPoint) {
			continue
		}
		seen[mountPoint] = true
		drives = append(drives, Drive{Name: driveName(mountPoint), Path: mountPoint})
	}
	return drives
}

func underSystem(mountPoint string) bool {
	for _, p := range systemPrefixes {
		if mountPoint == p || strings.HasPrefix(mountPoint, p+"/") {
			return true
		}
	}
	return false
}

func driveName(mountPoint string) string {
	switch {
	case mountPoint == "/home":
		return "Home"
	case strings.HasPrefix(mountPoint, "/media/"), strings.HasPrefix(mountPoint, "/mnt/"):
		return filepath.Base(mountPoint)
	}
	return mountPoint
}

// unescapeMount decodes the octal escapes mounts(5) uses for blanks.
func unescapeMount(s string) string {
	r := strings.NewReplacer(`\040`, " ", `\011`, "\t", `\012`, "\n", `\134`, `\`)
	return r.Replace(s)
}

func hasBlocks(path string) bool {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return false
	}
	return st.Blocks > 0
}
