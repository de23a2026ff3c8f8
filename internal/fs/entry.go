package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/justyntemme/razorfs/internal/signal"
)

// Edit is a structural change a directory may or may not accept.
type Edit int

const (
	Moved Edit = iota
	Deleted
	Renamed
	Filled
)

func (e Edit) String() string {
	switch e {
	case Moved:
		return "moved"
	case Deleted:
		return "deleted"
	case Renamed:
		return "renamed"
	case Filled:
		return "filled"
	}
	return fmt.Sprintf("Edit(%d)", int(e))
}

// Entry is a cached filesystem object. It is implemented only by *File and
// *Directory; code that behaves differently per kind switches on the two.
//
// Identity is the ID, not the path: a moved entry is the same instance with
// a new path.
type Entry interface {
	ID() uuid.UUID
	Name() string
	Path() string
	Key() string
	Depth() int
	Hidden() bool
	Parent() (*Directory, bool)
	Changed() *signal.Signal
	FileSystem() *FileSystem
	String() string

	base() *node
}

// Same reports whether a and b are the same entry.
func Same(a, b Entry) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID() == b.ID()
}

// node holds the state shared by files and directories.
type node struct {
	id uuid.UUID
	fs *FileSystem

	mu   sync.RWMutex
	path string
	name string
	key  string

	changed signal.Signal
}

func (n *node) init(fsys *FileSystem, path, key string) {
	n.id = uuid.New()
	n.fs = fsys
	n.path = path
	n.key = key
	n.name = baseName(path)
}

func (n *node) base() *node { return n }

// ID returns the identity token.
func (n *node) ID() uuid.UUID { return n.id }

// FileSystem returns the registry owning the entry.
func (n *node) FileSystem() *FileSystem { return n.fs }

// Name returns the last path segment, or the whole path for a root.
func (n *node) Name() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.name
}

// Path returns the absolute path.
func (n *node) Path() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.path
}

// Key returns the cache key: the path, case-folded on case-insensitive
// filesystems.
func (n *node) Key() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.key
}

// Depth returns the number of path segments.
func (n *node) Depth() int {
	return pathDepth(n.Path())
}

// Hidden reports the platform hidden flag.
func (n *node) Hidden() bool {
	n.mu.RLock()
	path, name := n.path, n.name
	n.mu.RUnlock()
	return isHidden(path, name)
}

// Parent resolves the containing directory. Roots and the machine have none.
func (n *node) Parent() (*Directory, bool) {
	path := n.Path()
	if path == "" || isOSRoot(path) || n.fs.rootKeys[n.Key()] {
		return nil, false
	}
	e, err := n.fs.Resolve(filepath.Dir(path))
	if err != nil {
		return nil, false
	}
	d, ok := e.(*Directory)
	return d, ok
}

// Changed fires when the entry's own path or name changes.
func (n *node) Changed() *signal.Signal { return &n.changed }

func (n *node) String() string { return n.Path() }

func (n *node) setPath(path, key string) {
	n.mu.Lock()
	n.path = path
	n.key = key
	n.name = baseName(path)
	n.mu.Unlock()
}

// File is a regular file (or anything that is not a directory).
type File struct {
	node
	ext *Extension
}

// Size returns the size in bytes, or -1 if it cannot be read.
func (f *File) Size() int64 {
	return f.fs.SizeOf(f)
}

// Extension returns the interned extension, or nil if the name has none.
func (f *File) Extension() *Extension {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.ext
}

// DetectType sniffs the content type, for icon and preview collaborators.
func (f *File) DetectType() (*mimetype.MIME, error) {
	return mimetype.DetectFile(f.Path())
}

// Open hands the file to the default application.
func (f *File) Open() bool {
	return f.fs.open(f)
}

// Directory is a directory, an OS root, or the machine.
type Directory struct {
	node
	contentChanged signal.Signal
}

// Exists reports whether the directory is present on disk.
func (d *Directory) Exists() bool {
	if d.fs.IsMachine(d) {
		return true
	}
	info, err := os.Stat(d.Path())
	return err == nil && info.IsDir()
}

// CanBe reports whether the directory accepts edit. Roots can only be
// filled; the machine accepts nothing.
func (d *Directory) CanBe(edit Edit) bool {
	if d.fs.IsMachine(d) {
		return false
	}
	if d.fs.IsRoot(d) {
		return edit == Filled
	}
	return true
}

// Contains reports whether e lies strictly below d.
func (d *Directory) Contains(e Entry) bool {
	if d.fs.IsMachine(d) {
		return !Same(d, e)
	}
	return isWithin(e.Key(), d.Key())
}

// Host moves e into d.
func (d *Directory) Host(e Entry) bool {
	return d.fs.Move(e, d)
}

// ContentChanged fires whenever the set of children may have changed.
func (d *Directory) ContentChanged() *signal.Signal { return &d.contentChanged }

// ListenForChanges subscribes to ContentChanged.
func (d *Directory) ListenForChanges(fn func()) *signal.Subscription {
	return d.contentChanged.Subscribe(fn)
}

// Watch starts the OS watcher feeding ContentChanged.
func (d *Directory) Watch() bool {
	return d.fs.Watch(d)
}

// StopWatching stops the OS watcher, if any.
func (d *Directory) StopWatching() {
	d.fs.StopWatching(d)
}

// Children lists every non-ignored child, sorted by name.
func (d *Directory) Children() []Entry {
	var out []Entry
	d.FeedChildren(func(e Entry) { out = append(out, e) })
	sortEntries(out)
	return out
}

// Directories lists the non-ignored child directories, sorted by name.
func (d *Directory) Directories() []*Directory {
	var out []*Directory
	d.FeedDirectories(func(c *Directory) { out = append(out, c) })
	sort.SliceStable(out, func(i, j int) bool { return lessName(out[i], out[j]) })
	return out
}

// Files lists the non-ignored child files, sorted by name.
func (d *Directory) Files() []*File {
	var out []*File
	d.FeedFiles(func(f *File) { out = append(out, f) })
	sort.SliceStable(out, func(i, j int) bool { return lessName(out[i], out[j]) })
	return out
}

// FeedChildren pushes each listed child to consume. Listing errors are
// logged and end the feed.
func (d *Directory) FeedChildren(consume func(Entry)) {
	l, err := d.fs.List(d)
	if err != nil {
		return
	}
	defer l.Close()
	for l.Next() {
		consume(l.Entry())
	}
	if err := l.Err(); err != nil {
		d.fs.log.Warn("listing ended early", zap.String("path", d.Path()), zap.Error(err))
	}
}

// FeedDirectories pushes each listed child directory to consume.
func (d *Directory) FeedDirectories(consume func(*Directory)) {
	d.FeedChildren(func(e Entry) {
		if c, ok := e.(*Directory); ok {
			consume(c)
		}
	})
}

// FeedFiles pushes each listed child file to consume.
func (d *Directory) FeedFiles(consume func(*File)) {
	d.FeedChildren(func(e Entry) {
		if f, ok := e.(*File); ok {
			consume(f)
		}
	})
}

// canBe applies the edit policy to any entry. Files can be moved, deleted and
// renamed but never filled.
func canBe(e Entry, edit Edit) bool {
	switch e := e.(type) {
	case *Directory:
		return e.CanBe(edit)
	case *File:
		return edit != Filled
	}
	return false
}

func lessName(a, b Entry) bool {
	return strings.ToLower(a.Name()) < strings.ToLower(b.Name())
}

func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool { return lessName(entries[i], entries[j]) })
}

// isOSRoot reports whether path has no parent ("/", "C:\").
func isOSRoot(path string) bool {
	return filepath.Dir(path) == path
}

func baseName(path string) string {
	if path == "" || isOSRoot(path) {
		return path
	}
	return filepath.Base(path)
}

// pathDepth counts path segments: "/" is 0, "/a/b" is 2.
func pathDepth(path string) int {
	if path == "" {
		return -1
	}
	vol := filepath.VolumeName(path)
	rest := strings.Trim(path[len(vol):], string(filepath.Separator))
	if rest == "" {
		return 0
	}
	return strings.Count(rest, string(filepath.Separator)) + 1
}

// isWithin reports whether key lies strictly below parent.
func isWithin(key, parent string) bool {
	if key == parent || parent == "" {
		return false
	}
	prefix := parent
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(key, prefix)
}
