package app

import (
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justyntemme/razorfs/internal/config"
)

func testConfig(t *testing.T) (config.Config, string) {
	t.Helper()
	root := t.TempDir()
	state := t.TempDir()
	sensitive := false

	cfg := *config.DefaultConfig()
	cfg.FS.Roots = []string{root}
	cfg.FS.CaseInsensitive = &sensitive
	cfg.Ignore.NamesFile = filepath.Join(state, "ignored_names")
	cfg.Ignore.PathsFile = filepath.Join(state, "ignored_paths")
	cfg.Store.Path = filepath.Join(state, "razorfs.db")
	cfg.Watch.DebounceMillis = 0
	return cfg, root
}

func mkdirs(t *testing.T, root string, rel ...string) {
	t.Helper()
	for _, r := range rel {
		require.NoError(t, os.MkdirAll(filepath.Join(root, r), 0o755))
	}
}

func TestOpenAppliesIgnoreRules(t *testing.T) {
	cfg, root := testConfig(t)
	mkdirs(t, root, "keep", "node_modules")
	require.NoError(t, os.WriteFile(cfg.Ignore.NamesFile, []byte("node_modules\n"), 0o644))

	s, err := Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	dir, err := s.FS.ResolveDirectory(root)
	require.NoError(t, err)
	var names []string
	for _, c := range dir.Children() {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"keep"}, names)
}

func TestIgnoresSurviveRestart(t *testing.T) {
	cfg, root := testConfig(t)
	mkdirs(t, root, "a", "b")

	s, err := Open(cfg)
	require.NoError(t, err)
	a, err := s.FS.Resolve(filepath.Join(root, "a"))
	require.NoError(t, err)
	s.Ignores.Ignore(a)
	require.NoError(t, s.Close())

	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	a, err = s.FS.Resolve(filepath.Join(root, "a"))
	require.NoError(t, err)
	assert.True(t, s.FS.Ignored(a))
	assert.Len(t, s.Ignores.Active(), 1)
}

func TestIgnoreFollowsMoveAcrossRestart(t *testing.T) {
	cfg, root := testConfig(t)
	mkdirs(t, root, "a", "dest")

	s, err := Open(cfg)
	require.NoError(t, err)
	a, err := s.FS.Resolve(filepath.Join(root, "a"))
	require.NoError(t, err)
	dest, err := s.FS.ResolveDirectory(filepath.Join(root, "dest"))
	require.NoError(t, err)
	s.Ignores.Ignore(a)
	require.True(t, s.FS.Move(a, dest))
	require.NoError(t, s.Close())

	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	moved, err := s.FS.Resolve(filepath.Join(root, "dest", "a"))
	require.NoError(t, err)
	assert.True(t, s.FS.Ignored(moved))
	require.Len(t, s.Ignores.Active(), 1)
	assert.Equal(t, moved.Key(), s.Ignores.Active()[0].Target.Key())
}

func TestTabsSurviveRestart(t *testing.T) {
	cfg, root := testConfig(t)
	cfg.Tabs.RestoreTabsOnStart = true
	mkdirs(t, root, "x", "y", "gone")

	s, err := Open(cfg)
	require.NoError(t, err)
	for _, rel := range []string{"x", "gone", "y"} {
		_, err := s.NewTab(filepath.Join(root, rel))
		require.NoError(t, err)
	}
	s.Tabs.Select(s.Tabs.All()[0])
	require.NoError(t, s.Close())
	require.NoError(t, os.Remove(filepath.Join(root, "gone")))

	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	all := s.Tabs.All()
	require.Len(t, all, 2)
	assert.Equal(t, "x", all[0].VisibleName())
	assert.Equal(t, "y", all[1].VisibleName())
	assert.True(t, all[0].Active())
}

func TestNewTabDefaultsToSelectedDirectory(t *testing.T) {
	cfg, root := testConfig(t)
	cfg.Store.Enabled = false
	mkdirs(t, root, "here")

	s, err := Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.NewTab(filepath.Join(root, "here"))
	require.NoError(t, err)
	second, err := s.NewTab("")
	require.NoError(t, err)

	dir, ok := second.SelectedDirectory()
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "here"), dir.Path())
	assert.Nil(t, s.DB)
}

func TestNewTabRejectsFiles(t *testing.T) {
	cfg, root := testConfig(t)
	cfg.Store.Enabled = false
	require.NoError(t, os.WriteFile(filepath.Join(root, "f"), nil, 0o644))

	s, err := Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.NewTab(filepath.Join(root, "f"))
	assert.Error(t, err)
}

func TestMetricsHandlerExposesOperations(t *testing.T) {
	cfg, root := testConfig(t)
	cfg.Store.Enabled = false
	mkdirs(t, root, "src", "dst")

	s, err := Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	src, err := s.FS.ResolveDirectory(filepath.Join(root, "src"))
	require.NoError(t, err)
	dst, err := s.FS.ResolveDirectory(filepath.Join(root, "dst"))
	require.NoError(t, err)
	require.True(t, s.FS.Move(src, dst))

	srv := httptest.NewServer(s.MetricsHandler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `razorfs_operations_total{op="move",result="ok"} 1`)
}

func TestWatchThroughSession(t *testing.T) {
	cfg, root := testConfig(t)
	cfg.Store.Enabled = false

	s, err := Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	dir, err := s.FS.ResolveDirectory(root)
	require.NoError(t, err)
	fired := make(chan struct{}, 1)
	sub := dir.ListenForChanges(func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	defer sub.Cancel()
	require.True(t, dir.Watch())

	require.NoError(t, os.WriteFile(filepath.Join(root, "external.txt"), []byte("x"), 0o644))
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("no change signal")
	}
}
