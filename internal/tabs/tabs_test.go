package tabs

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justyntemme/razorfs/internal/fs"
)

type fixture struct {
	root string
	fs   *fs.FileSystem
}

func newFixture(t *testing.T, dirs ...string) *fixture {
	t.Helper()
	root := t.TempDir()
	for _, d := range dirs {
		require.NoError(t, os.MkdirAll(filepath.Join(root, filepath.FromSlash(d)), 0o755))
	}
	sensitive := false
	fsys := fs.New(fs.Options{Roots: []string{root}, CaseInsensitive: &sensitive})
	t.Cleanup(fsys.Close)
	return &fixture{root: root, fs: fsys}
}

func (fx *fixture) dir(t *testing.T, p string) *fs.Directory {
	t.Helper()
	d, err := fx.fs.ResolveDirectory(filepath.Join(fx.root, filepath.FromSlash(p)))
	require.NoError(t, err)
	return d
}

func visible(tabs []*Tab) []string {
	out := make([]string, len(tabs))
	for i, t := range tabs {
		out[i] = t.VisibleName()
	}
	return out
}

func TestSelectionIsExclusive(t *testing.T) {
	fx := newFixture(t, "a", "b", "c")
	ts := NewTabs()

	changes := 0
	ts.OnChange(func() { changes++ })

	a := ts.New(fx.dir(t, "a"))
	b := ts.New(fx.dir(t, "b"))
	c := ts.New(fx.dir(t, "c"))
	assert.True(t, c.Active())
	assert.False(t, a.Active())
	assert.Positive(t, changes)

	ts.Select(a)
	sel, ok := ts.Selected()
	require.True(t, ok)
	assert.Same(t, a, sel)
	assert.False(t, c.Active())

	ts.Next()
	assert.True(t, b.Active())
	ts.Prev()
	ts.Prev()
	assert.True(t, c.Active(), "Prev wraps around")

	ts.Select(nil)
	_, ok = ts.Selected()
	assert.False(t, ok)
	for _, tab := range ts.All() {
		assert.False(t, tab.Active())
	}
}

func TestCloseSelectsNeighbour(t *testing.T) {
	fx := newFixture(t, "a", "b", "c")
	ts := NewTabs()
	a := ts.New(fx.dir(t, "a"))
	b := ts.New(fx.dir(t, "b"))
	c := ts.New(fx.dir(t, "c"))

	var closed []*Tab
	ts.OnClose(func(t *Tab) { closed = append(closed, t) })

	ts.Select(b)
	ts.Close(b)
	assert.True(t, c.Active())
	assert.Equal(t, []*Tab{a, c}, ts.All())

	ts.Close(c)
	assert.True(t, a.Active())
	ts.Close(a)
	_, ok := ts.Selected()
	assert.False(t, ok)
	assert.Zero(t, ts.Len())
	assert.Equal(t, []*Tab{b, c, a}, closed)

	ts.Close(a)
	assert.Len(t, closed, 3, "closing twice is a no-op")
}

func TestHistory(t *testing.T) {
	fx := newFixture(t, "one", "two", "three")
	ts := NewTabs()
	tab := ts.New(fx.dir(t, "one"))
	tab.SetSelectedDirectory(fx.dir(t, "two"))
	tab.SetSelectedDirectory(fx.dir(t, "three"))

	assert.False(t, tab.CanForward())
	require.True(t, tab.Back())
	require.True(t, tab.Back())
	assert.Equal(t, "one", tab.VisibleName())
	assert.False(t, tab.Back())
	assert.True(t, tab.CanForward())

	require.True(t, tab.Forward())
	assert.Equal(t, "two", tab.VisibleName())

	tab.SetSelectedDirectory(fx.dir(t, "one"))
	assert.False(t, tab.CanForward(), "navigating drops the forward history")
	assert.True(t, tab.CanBack())
}

func TestVisibleNameResetsToDirectoryName(t *testing.T) {
	fx := newFixture(t, "p/docs", "q/docs", "q/other")
	ts := NewTabs()
	first := ts.New(fx.dir(t, "p/docs"))
	second := ts.New(fx.dir(t, "q/docs"))
	assert.Equal(t, []string{"p/docs", "q/docs"}, visible(ts.All()))

	second.SetSelectedDirectory(fx.dir(t, "q/other"))
	assert.Equal(t, "docs", first.VisibleName())
	assert.Equal(t, "other", second.VisibleName())

	empty := ts.New(nil)
	_, ok := empty.SelectedDirectory()
	assert.False(t, ok)
	assert.Equal(t, "", empty.VisibleName())
}

func TestNameDisambiguationConvergence(t *testing.T) {
	fx := newFixture(t, "a/x/shared", "b/y/shared", "c/y/shared", "solo")
	ts := NewTabs()
	ts.New(fx.dir(t, "a/x/shared"))
	ts.New(fx.dir(t, "b/y/shared"))
	ts.New(fx.dir(t, "c/y/shared"))
	ts.New(fx.dir(t, "solo"))

	want := []string{"x/shared", "b/y/shared", "c/y/shared", "solo"}
	assert.Equal(t, want, visible(ts.All()))

	names := Names(ts.All())
	for i, tab := range ts.All() {
		assert.Equal(t, want[i], names[tab])
	}
}

func TestNameDisambiguationIgnoresCase(t *testing.T) {
	fx := newFixture(t, "left/Docs", "right/docs")
	ts := NewTabs()
	ts.New(fx.dir(t, "left/Docs"))
	ts.New(fx.dir(t, "right/docs"))
	assert.Equal(t, []string{"left/Docs", "right/docs"}, visible(ts.All()))
}

func TestNameDisambiguationTerminatesOnIdenticalDirectories(t *testing.T) {
	fx := newFixture(t, "same/dir")
	ts := NewTabs()
	d := fx.dir(t, "same/dir")
	first := ts.New(d)
	second := ts.New(d)

	assert.Equal(t, first.VisibleName(), second.VisibleName())
	assert.True(t, strings.HasSuffix(first.VisibleName(), "same/dir"))
	assert.True(t, strings.HasPrefix(first.VisibleName(), "/") || filepath.VolumeName(fx.root) != "")
}

func TestDisambiguateRoots(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix paths")
	}
	assert.Equal(t, []string{"/"}, ancestors("/a"))
	assert.Equal(t, []string{"b", "a", "/"}, ancestors("/a/b/c"))
	assert.Empty(t, ancestors("/"))
	assert.Equal(t, "/a", prefix("/", "a"))
	assert.Equal(t, "x/a", prefix("x", "a"))
}

func TestTabFollowsRenamedDirectory(t *testing.T) {
	fx := newFixture(t, "a/x/shared", "b/y/shared")
	ts := NewTabs()
	first := ts.New(fx.dir(t, "a/x/shared"))
	second := ts.New(fx.dir(t, "b/y/shared"))
	assert.Equal(t, "x/shared", first.VisibleName())

	changes := 0
	ts.OnChange(func() { changes++ })
	require.True(t, fx.fs.Rename(fx.dir(t, "a/x/shared"), "renamed"))

	assert.Equal(t, "renamed", first.VisibleName())
	assert.Equal(t, "shared", second.VisibleName())
	assert.Positive(t, changes)

	ts.Close(first)
	require.True(t, fx.fs.Rename(fx.dir(t, "a/x/renamed"), "again"))
	assert.Equal(t, "shared", second.VisibleName())
}
