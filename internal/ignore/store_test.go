package ignore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEntry struct {
	id   uuid.UUID
	name string
	key  string
}

func (f *fakeEntry) ID() uuid.UUID { return f.id }
func (f *fakeEntry) Name() string  { return f.name }
func (f *fakeEntry) Key() string   { return f.key }

func entry(path string) *fakeEntry {
	return &fakeEntry{id: uuid.New(), name: filepath.Base(path), key: path}
}

func TestRulesMatch(t *testing.T) {
	rules := NewRules(
		[]string{"Thumbs.db", "  node_modules ", "*.tmp", ""},
		[]string{"/proj/build", "/var/**/cache"},
		strings.ToLower,
	)

	testCases := []struct {
		name, key string
		expected  bool
	}{
		{"thumbs.db", "/a/thumbs.db", true},
		{"THUMBS.DB", "/a/THUMBS.DB", true},
		{"node_modules", "/x/node_modules", true},
		{"scratch.TMP", "/x/scratch.TMP", true},
		{"build", "/proj/build", true},
		{"build", "/other/build", false},
		{"cache", "/var/lib/app/cache", true},
		{"notes.txt", "/proj/notes.txt", false},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, rules.Match(tc.name, tc.key), "Match(%q, %q)", tc.name, tc.key)
	}
	assert.Equal(t, 3, rules.NameCount())
	assert.Equal(t, 2, rules.PathCount())
}

func TestRulesMatchGlobCharactersLiterally(t *testing.T) {
	rules := NewRules(
		[]string{"notes[1].txt", "what?"},
		[]string{"/data/[draft]"},
		nil,
	)

	assert.True(t, rules.Match("notes[1].txt", "/a/notes[1].txt"))
	assert.True(t, rules.Match("notes1.txt", "/a/notes1.txt"), "still a pattern")
	assert.True(t, rules.Match("what?", "/a/what?"))
	assert.True(t, rules.Match("whats", "/a/whats"))
	assert.True(t, rules.Match("x", "/data/[draft]"))
	assert.False(t, rules.Match("notes2.txt", "/a/notes2.txt"))
	assert.Equal(t, 2, rules.NameCount())
	assert.Equal(t, 1, rules.PathCount())
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	names := filepath.Join(dir, "names.txt")
	require.NoError(t, os.WriteFile(names, []byte("# comment\n.DS_Store\n\ndesktop.ini\n"), 0o644))

	rules, err := LoadRules(names, filepath.Join(dir, "missing.txt"), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, rules.NameCount())
	assert.Equal(t, 0, rules.PathCount())
	assert.True(t, rules.Match(".ds_store", "/x/.DS_Store"))
}

func TestLoadRulesUnreadable(t *testing.T) {
	_, err := LoadRules(t.TempDir(), "", nil)
	assert.Error(t, err)
}

func TestPersistedNameIgnoredWithoutRecord(t *testing.T) {
	s := NewStore(NewRules([]string{"secret.txt"}, nil, nil))
	defer s.Close()

	e := entry("/proj/Secret.txt")
	assert.True(t, s.IsIgnored(e))
	assert.Empty(t, s.Active())
}

func TestIgnoreAndUndo(t *testing.T) {
	s := NewStore(NewRules([]string{"secret.txt"}, nil, nil))
	defer s.Close()

	e := entry("/proj/a.txt")
	require.False(t, s.IsIgnored(e))

	rec := s.Ignore(e)
	require.NotNil(t, rec)
	assert.Same(t, rec, s.Ignore(e), "second ignore returns the active record")
	assert.True(t, s.IsIgnored(e))
	assert.Equal(t, []*Ignore{rec}, s.Active())

	assert.True(t, s.Undo(rec))
	assert.False(t, s.IsIgnored(e))
	assert.False(t, s.Undo(rec), "undo twice")
	assert.False(t, s.Undo(&Ignore{ID: uuid.New(), Target: e}), "unknown record")
	assert.False(t, s.Undo(nil))
}

func TestUndoDoesNotTouchPersistedRule(t *testing.T) {
	s := NewStore(NewRules([]string{"secret.txt"}, nil, nil))
	defer s.Close()

	e := entry("/proj/secret.txt")
	rec := s.Ignore(e)
	require.True(t, s.Undo(rec))
	assert.True(t, s.IsIgnored(e))
}

func TestRuntimeIgnoreFollowsIdentity(t *testing.T) {
	s := NewStore(Rules{})
	defer s.Close()

	e := entry("/proj/a.txt")
	s.Ignore(e)
	e.key = "/elsewhere/b.txt"
	e.name = "b.txt"
	assert.True(t, s.IsIgnored(e))
}

func TestListenersNotifiedInOrder(t *testing.T) {
	s := NewStore(Rules{})

	got := make(chan string, 8)
	s.OnIgnore(func(rec *Ignore) { got <- "ignore:" + rec.Target.Key() })
	s.OnUndo(func(rec *Ignore) { got <- "undo:" + rec.Target.Key() })

	a, b := entry("/a"), entry("/b")
	ra := s.Ignore(a)
	s.Ignore(b)
	s.Undo(ra)
	s.Close()

	var events []string
	timeout := time.After(5 * time.Second)
	for len(events) < 3 {
		select {
		case ev := <-got:
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timed out, got %v", events)
		}
	}
	assert.Equal(t, []string{"ignore:/a", "ignore:/b", "undo:/a"}, events)
}

func TestCancelledListener(t *testing.T) {
	s := NewStore(Rules{})
	calls := 0
	sub := s.OnIgnore(func(*Ignore) { calls++ })
	sub.Cancel()

	s.Ignore(entry("/a"))
	s.Close()
	assert.Equal(t, 0, calls)
}
