package fs

import (
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
)

// Extension is an interned file-name suffix shared by every file carrying it.
type Extension struct {
	name  string
	files atomic.Int64
}

// Name returns the lower-case suffix without the dot.
func (e *Extension) Name() string { return e.name }

// Files returns how many cached files currently carry the extension.
func (e *Extension) Files() int64 { return e.files.Load() }

func (e *Extension) String() string { return e.name }

// extensionTable interns extensions per registry.
type extensionTable struct {
	mu    sync.Mutex
	byKey map[string]*Extension
}

func newExtensionTable() *extensionTable {
	return &extensionTable{byKey: make(map[string]*Extension)}
}

// extensionOf returns the lower-case suffix of name, or "" when there is
// none. A leading dot alone (".bashrc") is not an extension.
func extensionOf(name string) string {
	ext := filepath.Ext(name)
	if ext == "" || ext == name || ext == "." {
		return ""
	}
	return strings.ToLower(ext[1:])
}

// lookup returns the interned extension for name, or nil.
func (t *extensionTable) lookup(name string) *Extension {
	key := extensionOf(name)
	if key == "" {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	ext, ok := t.byKey[key]
	if !ok {
		ext = &Extension{name: key}
		t.byKey[key] = ext
	}
	return ext
}

// Get returns an already interned extension by suffix.
func (t *extensionTable) get(key string) (*Extension, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ext, ok := t.byKey[strings.ToLower(strings.TrimPrefix(key, "."))]
	return ext, ok
}

// attach binds f to the extension of its current name.
func (t *extensionTable) attach(f *File) {
	ext := t.lookup(f.Name())
	f.mu.Lock()
	old := f.ext
	f.ext = ext
	f.mu.Unlock()
	if old == ext {
		return
	}
	if old != nil {
		old.files.Add(-1)
	}
	if ext != nil {
		ext.files.Add(1)
	}
}

// detach releases f's extension.
func (t *extensionTable) detach(f *File) {
	f.mu.Lock()
	old := f.ext
	f.ext = nil
	f.mu.Unlock()
	if old != nil {
		old.files.Add(-1)
	}
}
