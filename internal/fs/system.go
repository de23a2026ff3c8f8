package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/justyntemme/razorfs/internal/debug"
	"github.com/justyntemme/razorfs/internal/ignore"
	"github.com/justyntemme/razorfs/internal/metrics"
	"github.com/justyntemme/razorfs/internal/signal"
	"github.com/justyntemme/razorfs/internal/watch"
)

// Opener hands a file to the platform's default application.
type Opener func(path string) error

// Options configures a FileSystem. The zero value is usable.
type Options struct {
	// Ignore filters listings. nil ignores nothing.
	Ignore *ignore.Store
	// Roots overrides the OS-reported drives.
	Roots []string
	// CaseInsensitive overrides the platform default (true on windows and
	// darwin) for key folding.
	CaseInsensitive *bool
	Opener          Opener
	Logger          *zap.Logger
	Metrics         *metrics.Metrics
	// Watch is the group whose lock serializes watcher callbacks. When nil
	// the FileSystem creates one with WatchDebounce.
	Watch         *watch.Group
	WatchDebounce time.Duration
}

// FileSystem is the entry registry: it memoizes entries by key and performs
// every mutation so that caches and signals stay consistent.
type FileSystem struct {
	ignore  *ignore.Store
	opener  Opener
	fold    bool
	log     *zap.Logger
	metrics *metrics.Metrics
	group   *watch.Group
	exts    *extensionTable

	mu    sync.RWMutex
	cache map[string]Entry

	// pathMu orders path changes against the watch bridge and against
	// resolution, so nobody sees a renamed path before the cache was
	// re-keyed. Holders of the read lock must not resolve again.
	pathMu sync.RWMutex

	machine  *Directory
	roots    []*Directory
	rootKeys map[string]bool

	watchMu  sync.Mutex
	watchers map[uuid.UUID]*watch.Watcher

	removed signal.Topic[Entry]
	closed  atomic.Bool
}

// New creates a registry. Roots that cannot be resolved are logged and
// skipped.
func New(opts Options) *FileSystem {
	fsys := &FileSystem{
		ignore:   opts.Ignore,
		opener:   opts.Opener,
		fold:     foldByDefault(),
		log:      opts.Logger,
		metrics:  opts.Metrics,
		group:    opts.Watch,
		exts:     newExtensionTable(),
		cache:    make(map[string]Entry),
		rootKeys: make(map[string]bool),
		watchers: make(map[uuid.UUID]*watch.Watcher),
	}
	if opts.CaseInsensitive != nil {
		fsys.fold = *opts.CaseInsensitive
	}
	if fsys.opener == nil {
		fsys.opener = platformOpen
	}
	if fsys.log == nil {
		fsys.log = debug.Logger(debug.FS)
	}
	if fsys.group == nil {
		fsys.group = watch.NewGroup(opts.WatchDebounce)
	}
	fsys.group.SetObserver(func(dir string, events int) {
		fsys.metrics.Events("change", events)
	})

	fsys.machine = &Directory{}
	fsys.machine.init(fsys, "", "")
	fsys.machine.name = hostName()

	paths := opts.Roots
	if len(paths) == 0 {
		paths = DefaultRoots()
	}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			fsys.log.Warn("skipping root", zap.String("path", p), zap.Error(err))
			continue
		}
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			fsys.log.Warn("skipping root", zap.String("path", abs), zap.Error(err))
			continue
		}
		key := fsys.Key(abs)
		if fsys.rootKeys[key] {
			continue
		}
		fsys.rootKeys[key] = true
		fsys.roots = append(fsys.roots, fsys.memo(abs, true).(*Directory))
	}

	debug.Log(debug.FS, "Registry ready: %d roots, case-insensitive=%v", len(fsys.roots), fsys.fold)
	return fsys
}

func hostName() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "This Computer"
	}
	return name
}

// Key normalizes path into a cache key.
func (fsys *FileSystem) Key(path string) string {
	return keyOf(path, fsys.fold)
}

// KeyFunc returns the key normalization a FileSystem built with the same
// CaseInsensitive option will use. Ignore rules are loaded with it before the
// registry exists.
func KeyFunc(caseInsensitive *bool) func(string) string {
	fold := foldByDefault()
	if caseInsensitive != nil {
		fold = *caseInsensitive
	}
	return func(path string) string { return keyOf(path, fold) }
}

func foldByDefault() bool {
	return runtime.GOOS == "windows" || runtime.GOOS == "darwin"
}

func keyOf(path string, fold bool) string {
	if path == "" {
		return ""
	}
	path = filepath.Clean(path)
	if fold {
		return strings.ToLower(path)
	}
	return path
}

// CaseInsensitive reports whether keys are case-folded.
func (fsys *FileSystem) CaseInsensitive() bool { return fsys.fold }

// Resolve returns the entry for path, creating and caching it on first use.
// The empty path resolves to the machine. A cached entry whose kind changed
// on disk is replaced by a new entry.
func (fsys *FileSystem) Resolve(path string) (Entry, error) {
	if path == "" {
		return fsys.machine, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	// A move must not land between the stat and the memo.
	fsys.pathMu.RLock()
	defer fsys.pathMu.RUnlock()
	info, err := os.Stat(abs)
	if err != nil {
		// Dangling symlinks resolve as files.
		info, err = os.Lstat(abs)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", abs, err)
		}
	}
	return fsys.memo(abs, info.IsDir()), nil
}

// ResolveDirectory resolves path and requires it to be a directory.
func (fsys *FileSystem) ResolveDirectory(path string) (*Directory, error) {
	e, err := fsys.Resolve(path)
	if err != nil {
		return nil, err
	}
	d, ok := e.(*Directory)
	if !ok {
		return nil, fmt.Errorf("resolve %s: not a directory", path)
	}
	return d, nil
}

// Lookup returns the cached entry for path without touching the disk.
func (fsys *FileSystem) Lookup(path string) (Entry, bool) {
	if path == "" {
		return fsys.machine, true
	}
	key := fsys.Key(path)
	fsys.mu.RLock()
	defer fsys.mu.RUnlock()
	e, ok := fsys.cache[key]
	return e, ok
}

// memo returns the cached entry for path if its kind matches, otherwise
// creates one. Resolve-or-insert is atomic.
func (fsys *FileSystem) memo(path string, isDir bool) Entry {
	key := fsys.Key(path)

	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	if e, ok := fsys.cache[key]; ok {
		if _, dir := e.(*Directory); dir == isDir || fsys.rootKeys[key] {
			return e
		}
		debug.Log(debug.FS_ENTRY, "Entry kind changed on disk, replacing %s", path)
		fsys.dropLocked(key, e)
	}

	var e Entry
	if isDir {
		d := &Directory{}
		d.init(fsys, path, key)
		e = d
	} else {
		f := &File{}
		f.init(fsys, path, key)
		fsys.exts.attach(f)
		e = f
	}
	fsys.cache[key] = e
	fsys.metrics.Cached(len(fsys.cache))
	return e
}

func (fsys *FileSystem) dropLocked(key string, e Entry) {
	delete(fsys.cache, key)
	if f, ok := e.(*File); ok {
		fsys.exts.detach(f)
	}
}

// Extension returns the interned extension for suffix, if any resolved file
// has carried it.
func (fsys *FileSystem) Extension(suffix string) (*Extension, bool) {
	return fsys.exts.get(suffix)
}

// Machine returns the synthetic directory containing every root.
func (fsys *FileSystem) Machine() *Directory { return fsys.machine }

// Roots returns the root directories.
func (fsys *FileSystem) Roots() []*Directory {
	out := make([]*Directory, len(fsys.roots))
	copy(out, fsys.roots)
	return out
}

// IsRoot reports whether d is a configured root or has no parent on disk.
func (fsys *FileSystem) IsRoot(d *Directory) bool {
	if d == nil || d == fsys.machine {
		return false
	}
	return fsys.rootKeys[d.Key()] || isOSRoot(d.Path())
}

// IsMachine reports whether d is the machine.
func (fsys *FileSystem) IsMachine(d *Directory) bool {
	return d != nil && d == fsys.machine
}

// Removed publishes every entry evicted from the cache because it was
// removed from disk.
func (fsys *FileSystem) Removed() *signal.Topic[Entry] { return &fsys.removed }

// Ignored reports whether listings hide e.
func (fsys *FileSystem) Ignored(e Entry) bool {
	return fsys.ignore != nil && fsys.ignore.IsIgnored(e)
}

// Len returns the number of cached entries.
func (fsys *FileSystem) Len() int {
	fsys.mu.RLock()
	defer fsys.mu.RUnlock()
	return len(fsys.cache)
}

// Close stops every watcher started through the registry.
func (fsys *FileSystem) Close() {
	if !fsys.closed.CompareAndSwap(false, true) {
		return
	}
	fsys.watchMu.Lock()
	all := make([]*watch.Watcher, 0, len(fsys.watchers))
	for id, w := range fsys.watchers {
		all = append(all, w)
		delete(fsys.watchers, id)
	}
	fsys.watchMu.Unlock()

	for _, w := range all {
		fsys.group.Forget(w)
	}
	debug.Log(debug.FS, "Registry closed, stopped %d watchers", len(all))
}

func (fsys *FileSystem) open(f *File) bool {
	path := f.Path()
	if err := fsys.opener(path); err != nil {
		fsys.log.Warn("open failed", zap.String("path", path), zap.Error(err))
		fsys.metrics.Op("open", false)
		return false
	}
	fsys.metrics.Op("open", true)
	return true
}

// relocated is an entry whose path changed during a move or rename.
type relocated struct {
	entry   Entry
	oldPath string
}

// rekey moves e, and every cached descendant when e is a directory, from
// oldPath to newPath. It returns every relocated entry, e first.
func (fsys *FileSystem) rekey(e Entry, oldPath, newPath string) []relocated {
	oldKey := e.Key()
	newKey := fsys.Key(newPath)

	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	var descendants []Entry
	if _, ok := e.(*Directory); ok {
		for k, c := range fsys.cache {
			if isWithin(k, oldKey) {
				descendants = append(descendants, c)
			}
		}
	}
	sort.Slice(descendants, func(i, j int) bool { return descendants[i].Key() < descendants[j].Key() })

	moved := make([]relocated, 0, len(descendants)+1)
	fsys.relocateLocked(e, newPath, newKey)
	moved = append(moved, relocated{entry: e, oldPath: oldPath})

	base := pathDepth(oldPath)
	for _, c := range descendants {
		cOld := c.Path()
		cNew := filepath.Join(newPath, tailSegments(cOld, pathDepth(cOld)-base))
		fsys.relocateLocked(c, cNew, fsys.Key(cNew))
		moved = append(moved, relocated{entry: c, oldPath: cOld})
	}
	return moved
}

func (fsys *FileSystem) relocateLocked(e Entry, path, key string) {
	if fsys.cache[e.Key()] == e {
		delete(fsys.cache, e.Key())
	}
	if stale, ok := fsys.cache[key]; ok && stale != e {
		fsys.dropLocked(key, stale)
	}
	e.base().setPath(path, key)
	fsys.cache[key] = e
	if f, ok := e.(*File); ok {
		fsys.exts.attach(f)
	}
}

// evict drops e and its cached descendants and stops their watchers, except
// the one of self, whose callback is the caller. The caller publishes the
// result with publishRemoved once its own signals have fired.
func (fsys *FileSystem) evict(e Entry, self *Directory) []Entry {
	key := e.Key()

	fsys.mu.Lock()
	var out []Entry
	if fsys.cache[key] == e {
		fsys.dropLocked(key, e)
		out = append(out, e)
	}
	if _, ok := e.(*Directory); ok {
		var rest []Entry
		for k, c := range fsys.cache {
			if isWithin(k, key) {
				rest = append(rest, c)
			}
		}
		sort.Slice(rest, func(i, j int) bool { return rest[i].Key() < rest[j].Key() })
		for _, c := range rest {
			fsys.dropLocked(c.Key(), c)
		}
		out = append(out, rest...)
	}
	fsys.metrics.Cached(len(fsys.cache))
	fsys.mu.Unlock()

	for _, c := range out {
		if d, ok := c.(*Directory); ok && d != self {
			fsys.StopWatching(d)
		}
	}
	if len(out) > 0 {
		debug.Log(debug.FS_ENTRY, "Evicted %d entries under %s", len(out), e.Path())
	}
	return out
}

func (fsys *FileSystem) publishRemoved(entries []Entry) {
	for _, e := range entries {
		fsys.removed.Publish(e)
	}
}

// fire fires s and counts it.
func (fsys *FileSystem) fire(s *signal.Signal) {
	s.Fire()
	fsys.metrics.Signal()
}

// tailSegments returns the last n segments of path.
func tailSegments(path string, n int) string {
	if n <= 0 {
		return ""
	}
	sep := string(filepath.Separator)
	parts := strings.Split(strings.Trim(path[len(filepath.VolumeName(path)):], sep), sep)
	if n > len(parts) {
		n = len(parts)
	}
	return filepath.Join(parts[len(parts)-n:]...)
}
