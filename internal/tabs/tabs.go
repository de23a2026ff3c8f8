// Package tabs models independent navigation contexts over one shared
// filesystem registry.
package tabs

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/justyntemme/razorfs/internal/debug"
	"github.com/justyntemme/razorfs/internal/fs"
	"github.com/justyntemme/razorfs/internal/signal"
)

// Tab is one navigation context: a selected directory, its history and the
// name shown for it.
type Tab struct {
	id    uuid.UUID
	owner *Tabs

	// guarded by owner.mu
	active       bool
	dir          *fs.Directory
	visibleName  string
	history      []*fs.Directory
	historyIndex int
	follow       *signal.Subscription
}

// ID returns the tab's identity.
func (t *Tab) ID() uuid.UUID { return t.id }

// Active reports whether t is the selected tab.
func (t *Tab) Active() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	return t.active
}

// SelectedDirectory returns the directory shown by the tab.
func (t *Tab) SelectedDirectory() (*fs.Directory, bool) {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	return t.dir, t.dir != nil
}

// VisibleName returns the disambiguated display name.
func (t *Tab) VisibleName() string {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	return t.visibleName
}

// SetSelectedDirectory navigates the tab to dir, recording it in the history.
// The visible name resets to dir's name before the set is disambiguated.
func (t *Tab) SetSelectedDirectory(dir *fs.Directory) {
	t.owner.navigate(t, dir, true)
}

// CanBack reports whether Back has somewhere to go.
func (t *Tab) CanBack() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	return t.historyIndex > 0
}

// CanForward reports whether Forward has somewhere to go.
func (t *Tab) CanForward() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	return t.historyIndex < len(t.history)-1
}

// Back returns to the previous directory in the history.
func (t *Tab) Back() bool {
	return t.owner.step(t, -1)
}

// Forward undoes a Back.
func (t *Tab) Forward() bool {
	return t.owner.step(t, 1)
}

// Tabs owns the open tabs and which one is selected. At most one tab is
// active.
type Tabs struct {
	log *zap.Logger

	mu       sync.Mutex
	tabs     []*Tab
	selected *Tab

	changed signal.Signal
	closed  signal.Topic[*Tab]
}

// NewTabs creates an empty tab set.
func NewTabs() *Tabs {
	return &Tabs{log: debug.Logger(debug.TABS)}
}

// New opens a tab on dir and selects it. dir may be nil.
func (ts *Tabs) New(dir *fs.Directory) *Tab {
	t := &Tab{id: uuid.New(), owner: ts, historyIndex: -1}
	ts.mu.Lock()
	ts.tabs = append(ts.tabs, t)
	ts.mu.Unlock()

	debug.Log(debug.TABS, "Created tab %s", t.id)
	if dir != nil {
		ts.navigate(t, dir, true)
	}
	ts.Select(t)
	return t
}

// Close removes t. Closing the selected tab selects its right-hand
// neighbour, or the left one when it was last.
func (ts *Tabs) Close(t *Tab) {
	ts.mu.Lock()
	idx := ts.indexLocked(t)
	if idx < 0 {
		ts.mu.Unlock()
		return
	}
	ts.tabs = append(ts.tabs[:idx], ts.tabs[idx+1:]...)
	if t.follow != nil {
		t.follow.Cancel()
		t.follow = nil
	}
	if ts.selected == t {
		t.active = false
		ts.selected = nil
		if len(ts.tabs) > 0 {
			next := idx
			if next >= len(ts.tabs) {
				next = len(ts.tabs) - 1
			}
			ts.selected = ts.tabs[next]
			ts.selected.active = true
		}
	}
	ts.renameLocked()
	ts.mu.Unlock()

	debug.Log(debug.TABS, "Closed tab %s", t.id)
	ts.closed.Publish(t)
	ts.changed.Fire()
}

// Select makes t the only active tab. nil deselects every tab.
func (ts *Tabs) Select(t *Tab) {
	ts.mu.Lock()
	if t != nil && ts.indexLocked(t) < 0 {
		ts.mu.Unlock()
		return
	}
	if ts.selected == t {
		ts.mu.Unlock()
		return
	}
	if ts.selected != nil {
		ts.selected.active = false
	}
	ts.selected = t
	if t != nil {
		t.active = true
	}
	ts.mu.Unlock()
	ts.changed.Fire()
}

// Selected returns the active tab.
func (ts *Tabs) Selected() (*Tab, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.selected, ts.selected != nil
}

// Next selects the tab after the active one, wrapping around.
func (ts *Tabs) Next() { ts.cycle(1) }

// Prev selects the tab before the active one, wrapping around.
func (ts *Tabs) Prev() { ts.cycle(-1) }

func (ts *Tabs) cycle(delta int) {
	ts.mu.Lock()
	n := len(ts.tabs)
	if n <= 1 || ts.selected == nil {
		ts.mu.Unlock()
		return
	}
	idx := (ts.indexLocked(ts.selected) + delta + n) % n
	t := ts.tabs[idx]
	ts.mu.Unlock()
	ts.Select(t)
}

// All returns the open tabs in opening order.
func (ts *Tabs) All() []*Tab {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]*Tab, len(ts.tabs))
	copy(out, ts.tabs)
	return out
}

// Len returns the number of open tabs.
func (ts *Tabs) Len() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.tabs)
}

// OnChange subscribes to any change of selection, directories or names.
func (ts *Tabs) OnChange(fn func()) *signal.Subscription {
	return ts.changed.Subscribe(fn)
}

// OnClose subscribes to closed tabs.
func (ts *Tabs) OnClose(fn func(*Tab)) *signal.Subscription {
	return ts.closed.Subscribe(fn)
}

func (ts *Tabs) indexLocked(t *Tab) int {
	for i, c := range ts.tabs {
		if c == t {
			return i
		}
	}
	return -1
}

func (ts *Tabs) navigate(t *Tab, dir *fs.Directory, record bool) {
	ts.mu.Lock()
	if ts.indexLocked(t) < 0 {
		ts.mu.Unlock()
		return
	}
	if record {
		if t.historyIndex < len(t.history)-1 {
			t.history = t.history[:t.historyIndex+1]
		}
		if dir != nil {
			t.history = append(t.history, dir)
			t.historyIndex = len(t.history) - 1
		}
	}
	ts.selectDirLocked(t, dir)
	ts.renameLocked()
	ts.mu.Unlock()

	if dir != nil {
		debug.Log(debug.TABS, "Tab %s now shows %s", t.id, dir.Path())
	}
	ts.changed.Fire()
}

func (ts *Tabs) step(t *Tab, delta int) bool {
	ts.mu.Lock()
	idx := t.historyIndex + delta
	if ts.indexLocked(t) < 0 || idx < 0 || idx >= len(t.history) {
		ts.mu.Unlock()
		return false
	}
	t.historyIndex = idx
	dir := t.history[idx]
	ts.mu.Unlock()

	ts.navigate(t, dir, false)
	return true
}

// selectDirLocked points t at dir and follows dir's renames and moves.
func (ts *Tabs) selectDirLocked(t *Tab, dir *fs.Directory) {
	if t.follow != nil {
		t.follow.Cancel()
		t.follow = nil
	}
	t.dir = dir
	t.visibleName = ""
	if dir == nil {
		return
	}
	t.visibleName = dir.Name()
	t.follow = dir.Changed().Subscribe(ts.refresh)
}

// refresh recomputes names after a selected directory changed its path.
func (ts *Tabs) refresh() {
	ts.mu.Lock()
	for _, t := range ts.tabs {
		if t.dir != nil {
			t.visibleName = t.dir.Name()
		}
	}
	ts.renameLocked()
	ts.mu.Unlock()
	ts.changed.Fire()
}

func (ts *Tabs) renameLocked() {
	var withDir []*Tab
	var dirs []*fs.Directory
	for _, t := range ts.tabs {
		if t.dir != nil {
			withDir = append(withDir, t)
			dirs = append(dirs, t.dir)
		}
	}
	for i, name := range disambiguate(dirs) {
		withDir[i].visibleName = name
	}
}
