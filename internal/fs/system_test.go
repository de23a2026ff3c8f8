package fs

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justyntemme/razorfs/internal/ignore"
	"github.com/justyntemme/razorfs/internal/metrics"
	"github.com/justyntemme/razorfs/internal/progress"
	"github.com/justyntemme/razorfs/internal/signal"
)

type fixture struct {
	root    string
	fs      *FileSystem
	metrics *metrics.Metrics
	opened  []string
}

func newFixture(t *testing.T, opts ...func(*Options)) *fixture {
	t.Helper()
	root := t.TempDir()
	fx := &fixture{root: root, metrics: metrics.New(prometheus.NewRegistry())}
	sensitive := false
	o := Options{
		Roots:           []string{root},
		CaseInsensitive: &sensitive,
		Metrics:         fx.metrics,
		Opener: func(path string) error {
			fx.opened = append(fx.opened, path)
			return nil
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	fx.fs = New(o)
	t.Cleanup(fx.fs.Close)
	return fx
}

// mk creates paths below the fixture root. A trailing slash makes a directory.
func (fx *fixture) mk(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		full := filepath.Join(fx.root, filepath.FromSlash(p))
		if strings.HasSuffix(p, "/") {
			require.NoError(t, os.MkdirAll(full, 0o755))
			continue
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte("content of "+p), 0o644))
	}
}

func (fx *fixture) path(p string) string {
	return filepath.Join(fx.root, filepath.FromSlash(p))
}

func (fx *fixture) dir(t *testing.T, p string) *Directory {
	t.Helper()
	d, err := fx.fs.ResolveDirectory(fx.path(p))
	require.NoError(t, err)
	return d
}

func (fx *fixture) file(t *testing.T, p string) *File {
	t.Helper()
	e, err := fx.fs.Resolve(fx.path(p))
	require.NoError(t, err)
	f, ok := e.(*File)
	require.True(t, ok, "%s is not a file", p)
	return f
}

func (fx *fixture) rootDir(t *testing.T) *Directory {
	t.Helper()
	d, err := fx.fs.ResolveDirectory(fx.root)
	require.NoError(t, err)
	return d
}

func names(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name())
	}
	return out
}

func TestResolveReturnsSameInstance(t *testing.T) {
	fx := newFixture(t)
	fx.mk(t, "a/b.txt")

	first, err := fx.fs.Resolve(fx.path("a/b.txt"))
	require.NoError(t, err)
	second, err := fx.fs.Resolve(fx.path("a/../a/b.txt"))
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.True(t, Same(first, second))
	assert.IsType(t, &File{}, first)
	assert.Equal(t, "b.txt", first.Name())

	dir, err := fx.fs.Resolve(fx.path("a"))
	require.NoError(t, err)
	assert.IsType(t, &Directory{}, dir)
	assert.False(t, Same(first, dir))

	_, err = fx.fs.Resolve(fx.path("missing"))
	assert.Error(t, err)
}

func TestResolveCaseInsensitiveKeys(t *testing.T) {
	insensitive := true
	fx := newFixture(t, func(o *Options) { o.CaseInsensitive = &insensitive })
	fx.mk(t, "Docs/")

	d := fx.dir(t, "Docs")
	assert.Equal(t, strings.ToLower(fx.path("Docs")), d.Key())
	assert.Equal(t, fx.path("Docs"), d.Path())

	cached, ok := fx.fs.Lookup(fx.path("DOCS"))
	require.True(t, ok)
	assert.Same(t, d, cached)
}

func TestResolveReplacesEntryWhoseKindChanged(t *testing.T) {
	fx := newFixture(t)
	fx.mk(t, "thing")
	file := fx.file(t, "thing")

	require.NoError(t, os.Remove(fx.path("thing")))
	require.NoError(t, os.Mkdir(fx.path("thing"), 0o755))

	dir := fx.dir(t, "thing")
	assert.NotEqual(t, file.ID(), dir.ID())
}

func TestConcurrentResolveYieldsOneInstance(t *testing.T) {
	fx := newFixture(t)
	fx.mk(t, "shared/x.go")

	const n = 32
	results := make([]Entry, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := fx.fs.Resolve(fx.path("shared/x.go"))
			if err == nil {
				results[i] = e
			}
		}()
	}
	wg.Wait()

	for _, e := range results {
		require.NotNil(t, e)
		assert.Same(t, results[0], e)
	}
}

func TestResolveDuringMovesKeepsIdentity(t *testing.T) {
	fx := newFixture(t)
	fx.mk(t, "a/f.txt", "b/")
	f := fx.file(t, "a/f.txt")
	a, b := fx.dir(t, "a"), fx.dir(t, "b")

	stop := make(chan struct{})
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		duplicates int
	)
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			path := fx.path("a/f.txt")
			if i%2 == 1 {
				path = fx.path("b/f.txt")
			}
			for {
				select {
				case <-stop:
					return
				default:
				}
				e, err := fx.fs.Resolve(path)
				if err == nil && e != Entry(f) {
					mu.Lock()
					duplicates++
					mu.Unlock()
				}
			}
		}()
	}

	for i := range 500 {
		to := b
		if i%2 == 1 {
			to = a
		}
		require.True(t, fx.fs.Move(f, to))
	}
	close(stop)
	wg.Wait()

	assert.Zero(t, duplicates)
	got, err := fx.fs.Resolve(fx.path("a/f.txt"))
	require.NoError(t, err)
	assert.Same(t, f, got)
}

func TestMachineAndRoots(t *testing.T) {
	fx := newFixture(t)
	machine := fx.fs.Machine()
	root := fx.rootDir(t)

	assert.NotEmpty(t, machine.Name())
	assert.Equal(t, -1, machine.Depth())
	assert.True(t, fx.fs.IsMachine(machine))
	assert.True(t, fx.fs.IsRoot(root))
	assert.False(t, fx.fs.IsRoot(machine))

	for _, edit := range []Edit{Moved, Deleted, Renamed, Filled} {
		assert.False(t, machine.CanBe(edit), "machine %s", edit)
	}
	assert.True(t, root.CanBe(Filled))
	assert.False(t, root.CanBe(Moved))
	assert.False(t, root.CanBe(Deleted))
	assert.False(t, root.CanBe(Renamed))

	_, ok := root.Parent()
	assert.False(t, ok)
	_, ok = machine.Parent()
	assert.False(t, ok)

	children := machine.Children()
	require.Len(t, children, 1)
	assert.Same(t, root, children[0])
	assert.True(t, machine.Contains(root))
	assert.False(t, machine.Contains(machine))

	e, err := fx.fs.Resolve("")
	require.NoError(t, err)
	assert.Same(t, machine, e)
}

func TestEntryAccessors(t *testing.T) {
	fx := newFixture(t)
	fx.mk(t, "a/Notes.TXT", "a/.hidden", "a/README")

	f := fx.file(t, "a/Notes.TXT")
	require.NotNil(t, f.Extension())
	assert.Equal(t, "txt", f.Extension().Name())
	assert.Nil(t, fx.file(t, "a/README").Extension())
	assert.Nil(t, fx.file(t, "a/.hidden").Extension())
	assert.True(t, fx.file(t, "a/.hidden").Hidden())
	assert.False(t, f.Hidden())

	assert.Equal(t, int64(len("content of a/Notes.TXT")), f.Size())
	assert.Equal(t, fx.rootDir(t).Depth()+2, f.Depth())

	parent, ok := f.Parent()
	require.True(t, ok)
	assert.Same(t, fx.dir(t, "a"), parent)
	assert.True(t, parent.Contains(f))
	assert.False(t, f.Changed() == nil)

	mt, err := f.DetectType()
	require.NoError(t, err)
	assert.True(t, mt.Is("text/plain"), "got %s", mt.String())

	assert.True(t, f.Open())
	assert.Equal(t, []string{f.Path()}, fx.opened)
}

func TestExtensionsAreInterned(t *testing.T) {
	fx := newFixture(t)
	fx.mk(t, "one.go", "two.GO", "three.md")

	one := fx.file(t, "one.go")
	two := fx.file(t, "two.GO")
	assert.Same(t, one.Extension(), two.Extension())

	ext, ok := fx.fs.Extension(".go")
	require.True(t, ok)
	assert.Equal(t, int64(2), ext.Files())

	require.True(t, fx.fs.Rename(two, "two.md"))
	assert.Equal(t, int64(1), ext.Files())
	assert.Equal(t, "md", two.Extension().Name())
}

func TestListingFiltersIgnored(t *testing.T) {
	store := ignore.NewStore(ignore.NewRules([]string{"node_modules", "*.tmp"}, nil, nil))
	t.Cleanup(store.Close)
	fx := newFixture(t, func(o *Options) { o.Ignore = store })
	fx.mk(t, "proj/node_modules/", "proj/src/", "proj/main.go", "proj/scratch.tmp", "proj/b.txt")

	proj := fx.dir(t, "proj")
	assert.Equal(t, []string{"b.txt", "main.go", "src"}, names(proj.Children()))
	assert.Len(t, proj.Directories(), 1)
	assert.Len(t, proj.Files(), 2)

	main := fx.file(t, "proj/main.go")
	rec := store.Ignore(main)
	assert.Equal(t, []string{"b.txt", "src"}, names(proj.Children()))

	require.True(t, store.Undo(rec))
	assert.Equal(t, []string{"b.txt", "main.go", "src"}, names(proj.Children()))
}

func TestListingAllClosesOnBreak(t *testing.T) {
	fx := newFixture(t)
	fx.mk(t, "d/1", "d/2", "d/3")

	l, err := fx.fs.List(fx.dir(t, "d"))
	require.NoError(t, err)
	count := 0
	for range l.All() {
		count++
		break
	}
	assert.Equal(t, 1, count)
	assert.Nil(t, l.f)
	assert.False(t, l.Next())
	assert.NoError(t, l.Close())

	_, err = fx.fs.List(&Directory{node: node{fs: fx.fs, path: fx.path("gone")}})
	assert.Error(t, err)
}

func TestCopyRejections(t *testing.T) {
	fx := newFixture(t)
	fx.mk(t, "src/inner/", "src/f.txt", "other/f.txt")

	src := fx.dir(t, "src")
	inner := fx.dir(t, "src/inner")
	file := fx.file(t, "src/f.txt")

	tests := []struct {
		name   string
		entry  Entry
		target *Directory
	}{
		{"into itself", src, src},
		{"into its parent", file, src},
		{"directory into descendant", src, inner},
		{"into the machine", file, fx.fs.Machine()},
		{"destination exists", file, fx.dir(t, "other")},
		{"root", fx.rootDir(t), inner},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(tt.target.Children())
			fired := 0
			sub := tt.target.ListenForChanges(func() { fired++ })
			defer sub.Cancel()

			assert.False(t, fx.fs.Copy(tt.entry, tt.target))
			assert.Equal(t, before, len(tt.target.Children()))
			assert.Zero(t, fired)
		})
	}
	assert.Equal(t, float64(len(tests)), testutil.ToFloat64(fx.metrics.Rejections.WithLabelValues("copy")))
}

func TestCopyDirectoryTree(t *testing.T) {
	fx := newFixture(t)
	fx.mk(t, "src/a/b/deep.txt", "src/top.txt", "src/empty/", "dst/")
	require.NoError(t, os.Chmod(fx.path("src/top.txt"), 0o600))

	dst := fx.dir(t, "dst")
	fired := 0
	dst.ListenForChanges(func() { fired++ })

	require.True(t, fx.fs.Copy(fx.dir(t, "src"), dst))
	assert.Equal(t, 1, fired)

	data, err := os.ReadFile(fx.path("dst/src/a/b/deep.txt"))
	require.NoError(t, err)
	assert.Equal(t, "content of src/a/b/deep.txt", string(data))
	assert.DirExists(t, fx.path("dst/src/empty"))
	if runtime.GOOS != "windows" {
		info, err := os.Stat(fx.path("dst/src/top.txt"))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
	assert.FileExists(t, fx.path("src/top.txt"))
}

func TestMoveDirectoryRekeysDescendants(t *testing.T) {
	fx := newFixture(t)
	fx.mk(t, "a/b/c.txt", "dest/")

	a := fx.dir(t, "a")
	b := fx.dir(t, "a/b")
	c := fx.file(t, "a/b/c.txt")
	root := fx.rootDir(t)
	dest := fx.dir(t, "dest")

	var order []string
	root.ListenForChanges(func() { order = append(order, "old parent") })
	dest.ListenForChanges(func() { order = append(order, "host") })
	a.Changed().Subscribe(func() { order = append(order, "entry") })

	require.True(t, dest.Host(a))
	assert.Equal(t, []string{"old parent", "host", "entry"}, order)

	assert.Equal(t, fx.path("dest/a"), a.Path())
	assert.Equal(t, fx.path("dest/a/b"), b.Path())
	assert.Equal(t, fx.path("dest/a/b/c.txt"), c.Path())

	_, ok := fx.fs.Lookup(fx.path("a/b/c.txt"))
	assert.False(t, ok)
	moved, err := fx.fs.Resolve(fx.path("dest/a/b/c.txt"))
	require.NoError(t, err)
	assert.Same(t, c, moved)

	parent, ok := a.Parent()
	require.True(t, ok)
	assert.Same(t, dest, parent)
}

func TestMoveFileSignalsOncePerObserver(t *testing.T) {
	fx := newFixture(t)
	fx.mk(t, "d1/f.txt", "d2/")

	d1 := fx.dir(t, "d1")
	d2 := fx.dir(t, "d2")
	f := fx.file(t, "d1/f.txt")
	id := f.ID()

	var fromOld, intoHost, self int
	d1.ListenForChanges(func() { fromOld++ })
	d2.ListenForChanges(func() { intoHost++ })
	f.Changed().Subscribe(func() { self++ })

	require.True(t, fx.fs.Move(f, d2))
	assert.Equal(t, 1, fromOld)
	assert.Equal(t, 1, intoHost)
	assert.Equal(t, 1, self)

	assert.Equal(t, id, f.ID())
	assert.Equal(t, "f.txt", f.Name())
	assert.Equal(t, []string{"f.txt"}, names(d2.Children()))
	assert.Empty(t, d1.Children())
}

func TestMoveRejections(t *testing.T) {
	fx := newFixture(t)
	fx.mk(t, "a/sub/", "a/x.txt", "b/x.txt")

	a := fx.dir(t, "a")
	tests := []struct {
		name   string
		entry  Entry
		target *Directory
	}{
		{"onto itself", a, a},
		{"into descendant", a, fx.dir(t, "a/sub")},
		{"into current parent", fx.file(t, "a/x.txt"), a},
		{"root", fx.rootDir(t), fx.dir(t, "b")},
		{"into the machine", a, fx.fs.Machine()},
		{"destination exists", fx.file(t, "a/x.txt"), fx.dir(t, "b")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.entry.Path()
			assert.False(t, fx.fs.Move(tt.entry, tt.target))
			assert.Equal(t, path, tt.entry.Path())
		})
	}
	assert.DirExists(t, fx.path("a/sub"))
}

func TestRename(t *testing.T) {
	fx := newFixture(t)
	fx.mk(t, "d/old.txt", "d/taken.txt")

	d := fx.dir(t, "d")
	f := fx.file(t, "d/old.txt")
	var order []string
	d.ListenForChanges(func() { order = append(order, "parent") })
	f.Changed().Subscribe(func() { order = append(order, "entry") })

	assert.False(t, fx.fs.Rename(f, "taken.txt"))
	assert.False(t, fx.fs.Rename(f, "bad/name"))
	assert.False(t, fx.fs.Rename(f, "old.txt"))
	assert.False(t, fx.fs.Rename(fx.rootDir(t), "x"))
	assert.Empty(t, order)

	require.True(t, fx.fs.Rename(f, "new.txt"))
	assert.Equal(t, []string{"parent", "entry"}, order)
	assert.Equal(t, "new.txt", f.Name())
	assert.FileExists(t, fx.path("d/new.txt"))
	assert.NoFileExists(t, fx.path("d/old.txt"))
}

func TestRemoveEvictsAndPublishes(t *testing.T) {
	fx := newFixture(t)
	fx.mk(t, "p/victim/x.txt", "p/victim/y/")

	p := fx.dir(t, "p")
	victim := fx.dir(t, "p/victim")
	x := fx.file(t, "p/victim/x.txt")
	fx.dir(t, "p/victim/y")

	var removed []string
	fx.fs.Removed().Subscribe(func(e Entry) { removed = append(removed, e.Name()) })
	fired := 0
	p.ListenForChanges(func() { fired++ })

	require.True(t, fx.fs.Remove(victim))
	assert.NoDirExists(t, fx.path("p/victim"))
	assert.Equal(t, 1, fired)
	assert.ElementsMatch(t, []string{"victim", "x.txt", "y"}, removed)

	_, ok := fx.fs.Lookup(x.Path())
	assert.False(t, ok)
	assert.Equal(t, fx.path("p/victim/x.txt"), x.Path(), "detached instances stay valid")

	assert.False(t, fx.fs.Remove(fx.rootDir(t)))
	assert.False(t, fx.fs.Remove(fx.fs.Machine()))
}

func TestCreateFileAndDirectory(t *testing.T) {
	fx := newFixture(t)
	root := fx.rootDir(t)
	fired := 0
	root.ListenForChanges(func() { fired++ })

	d, ok := fx.fs.CreateDirectory(root, "made")
	require.True(t, ok)
	assert.DirExists(t, d.Path())

	f, ok := fx.fs.CreateFile(d, "new.txt")
	require.True(t, ok)
	assert.FileExists(t, f.Path())
	assert.Equal(t, int64(0), f.Size())

	_, ok = fx.fs.CreateFile(d, "new.txt")
	assert.False(t, ok)
	_, ok = fx.fs.CreateDirectory(fx.fs.Machine(), "nope")
	assert.False(t, ok)
	_, ok = fx.fs.CreateFile(nil, "x")
	assert.False(t, ok)
	assert.Equal(t, 1, fired)
}

func TestSizeOf(t *testing.T) {
	fx := newFixture(t)
	fx.mk(t, "s/a", "s/deep/b")

	want := int64(len("content of s/a") + len("content of s/deep/b"))
	assert.Equal(t, want, fx.fs.SizeOf(fx.dir(t, "s")))
	assert.Equal(t, int64(-1), fx.fs.SizeOf(fx.fs.Machine()))

	f := fx.file(t, "s/a")
	require.NoError(t, os.Remove(f.Path()))
	assert.Equal(t, int64(-1), f.Size())
}

func TestBatchOrderAndCompleteness(t *testing.T) {
	fx := newFixture(t)
	fx.mk(t, "r/one.txt", "r/deep/two.txt", "r/deep/er/three.txt")

	entries := []Entry{
		fx.file(t, "r/one.txt"),
		fx.rootDir(t),
		fx.file(t, "r/deep/er/three.txt"),
		fx.file(t, "r/deep/two.txt"),
	}
	var seen []string
	var done []int
	counter := &progress.Counter{}
	tracker := progress.Multi{counter, progress.Func{
		OnProcessing:     func(item any) { seen = append(seen, item.(Entry).Name()) },
		OnProcessingDone: func(seq int, item any) { done = append(done, seq) },
	}}

	ok := fx.fs.RemoveAll(entries, tracker)
	assert.False(t, ok, "the root cannot be removed")
	assert.Equal(t, []string{"three.txt", "two.txt", "one.txt", filepath.Base(fx.root)}, seen)
	assert.Equal(t, []int{0, 1, 2, 3}, done)

	snap := counter.Snapshot()
	assert.Equal(t, 4, snap.Total)
	assert.Equal(t, 4, snap.Done)
	assert.Equal(t, 1, snap.Completed)
	assert.NoFileExists(t, fx.path("r/one.txt"))
	assert.NoFileExists(t, fx.path("r/deep/er/three.txt"))

	assert.True(t, fx.fs.RemoveAll(nil, nil))
}

func TestBatchCountsNilEntriesAsFailed(t *testing.T) {
	fx := newFixture(t)
	fx.mk(t, "n/a.txt")

	counter := &progress.Counter{}
	ok := fx.fs.RemoveAll([]Entry{nil, fx.file(t, "n/a.txt"), nil}, counter)
	assert.False(t, ok)
	assert.NoFileExists(t, fx.path("n/a.txt"))

	snap := counter.Snapshot()
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 3, snap.Done)
	assert.Equal(t, 1, snap.Completed)
}

func TestCopyAllIntoTarget(t *testing.T) {
	fx := newFixture(t)
	fx.mk(t, "in/a.txt", "in/sub/b.txt", "out/")

	out := fx.dir(t, "out")
	fired := 0
	out.ListenForChanges(func() { fired++ })
	counter := &progress.Counter{}

	ok := fx.fs.CopyAll([]Entry{fx.file(t, "in/a.txt"), fx.dir(t, "in/sub")}, out, counter)
	require.True(t, ok)
	assert.Equal(t, 2, fired)
	assert.FileExists(t, fx.path("out/a.txt"))
	assert.FileExists(t, fx.path("out/sub/b.txt"))
	assert.Equal(t, 2, counter.Snapshot().Done)

	ok = fx.fs.CopyAll([]Entry{fx.file(t, "in/a.txt")}, out, counter)
	assert.False(t, ok)
	assert.Equal(t, 1, counter.Snapshot().Done)
}

func TestMoveAll(t *testing.T) {
	fx := newFixture(t)
	fx.mk(t, "m/a.txt", "m/b.txt", "to/")

	a, b := fx.file(t, "m/a.txt"), fx.file(t, "m/b.txt")
	require.True(t, fx.fs.MoveAll([]Entry{a, b}, fx.dir(t, "to"), nil))
	assert.Equal(t, fx.path("to/a.txt"), a.Path())
	assert.Equal(t, fx.path("to/b.txt"), b.Path())
}

func TestFanOutReachesEveryListener(t *testing.T) {
	fx := newFixture(t)
	fx.mk(t, "f.txt", "t/")
	target := fx.dir(t, "t")

	calls := make([]int, 3)
	subs := make([]*signal.Subscription, 3)
	for i := range calls {
		subs[i] = target.ListenForChanges(func() { calls[i]++ })
	}
	require.True(t, fx.fs.Copy(fx.file(t, "f.txt"), target))
	assert.Equal(t, []int{1, 1, 1}, calls)

	subs[1].Cancel()
	require.True(t, fx.fs.Remove(fx.file(t, "t/f.txt")))
	assert.Equal(t, []int{2, 1, 2}, calls)
	assert.Equal(t, float64(2), testutil.ToFloat64(fx.metrics.ChangeSignals))
}
