package fs

// Drive represents a mounted drive/volume
type Drive struct {
	Name string
	Path string
}

// DefaultRoots returns the OS-reported root paths.
func DefaultRoots() []string {
	drives := ListDrives()
	roots := make([]string, 0, len(drives))
	for _, d := range drives {
		roots = append(roots, d.Path)
	}
	return roots
}
