package tabs

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/justyntemme/razorfs/internal/debug"
	"github.com/justyntemme/razorfs/internal/fs"
	"github.com/justyntemme/razorfs/internal/signal"
)

// DirectoryAtTab is one directory as seen from one tab. It carries the UI
// state that must not leak between tabs showing the same directory.
type DirectoryAtTab struct {
	owner    *DirectoriesAtTabs
	tab      *Tab
	dir      *fs.Directory
	expanded atomic.Bool
}

// Tab returns the tab side of the join.
func (j *DirectoryAtTab) Tab() *Tab { return j.tab }

// Directory returns the directory side of the join.
func (j *DirectoryAtTab) Directory() *fs.Directory { return j.dir }

// Expanded reports whether the directory is expanded in this tab.
func (j *DirectoryAtTab) Expanded() bool { return j.expanded.Load() }

// SetExpanded records the expansion state for this tab only.
func (j *DirectoryAtTab) SetExpanded(v bool) { j.expanded.Store(v) }

// Directories joins every listed child directory with the same tab.
func (j *DirectoryAtTab) Directories() []*DirectoryAtTab {
	children := j.dir.Directories()
	out := make([]*DirectoryAtTab, 0, len(children))
	for _, c := range children {
		out = append(out, j.owner.Join(j.tab, c))
	}
	return out
}

type joinKey struct {
	tab uuid.UUID
	dir uuid.UUID
}

// DirectoriesAtTabs memoizes DirectoryAtTab per (tab, directory) pair. Joins
// are dropped when their directory is removed from disk or their tab closes.
type DirectoriesAtTabs struct {
	mu    sync.Mutex
	joins map[joinKey]*DirectoryAtTab

	dropped signal.Topic[*DirectoryAtTab]
	subs    []*signal.Subscription
}

// NewDirectoriesAtTabs creates the join table. fsys and tabs may be nil, in
// which case removals and closed tabs must be forgotten by hand.
func NewDirectoriesAtTabs(fsys *fs.FileSystem, tabs *Tabs) *DirectoriesAtTabs {
	d := &DirectoriesAtTabs{joins: make(map[joinKey]*DirectoryAtTab)}
	if fsys != nil {
		d.subs = append(d.subs, fsys.Removed().Subscribe(func(e fs.Entry) {
			if dir, ok := e.(*fs.Directory); ok {
				d.ForgetDirectory(dir)
			}
		}))
	}
	if tabs != nil {
		d.subs = append(d.subs, tabs.OnClose(func(t *Tab) { d.Forget(t) }))
	}
	return d
}

// Join returns the join of tab and dir, creating it on first use.
func (d *DirectoriesAtTabs) Join(tab *Tab, dir *fs.Directory) *DirectoryAtTab {
	key := joinKey{tab: tab.ID(), dir: dir.ID()}
	d.mu.Lock()
	defer d.mu.Unlock()
	if j, ok := d.joins[key]; ok {
		return j
	}
	j := &DirectoryAtTab{owner: d, tab: tab, dir: dir}
	d.joins[key] = j
	return j
}

// Lookup returns an existing join.
func (d *DirectoriesAtTabs) Lookup(tab *Tab, dir *fs.Directory) (*DirectoryAtTab, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	j, ok := d.joins[joinKey{tab: tab.ID(), dir: dir.ID()}]
	return j, ok
}

// Forget drops every join of tab and returns how many there were.
func (d *DirectoriesAtTabs) Forget(tab *Tab) int {
	return d.drop(func(k joinKey) bool { return k.tab == tab.ID() })
}

// ForgetDirectory drops every join of dir.
func (d *DirectoriesAtTabs) ForgetDirectory(dir *fs.Directory) int {
	return d.drop(func(k joinKey) bool { return k.dir == dir.ID() })
}

func (d *DirectoriesAtTabs) drop(match func(joinKey) bool) int {
	d.mu.Lock()
	var gone []*DirectoryAtTab
	for k, j := range d.joins {
		if match(k) {
			gone = append(gone, j)
			delete(d.joins, k)
		}
	}
	d.mu.Unlock()

	for _, j := range gone {
		d.dropped.Publish(j)
	}
	if len(gone) > 0 {
		debug.Log(debug.TABS, "Dropped %d directory joins", len(gone))
	}
	return len(gone)
}

// OnDrop subscribes to dropped joins, for views holding per-join nodes.
func (d *DirectoriesAtTabs) OnDrop(fn func(*DirectoryAtTab)) *signal.Subscription {
	return d.dropped.Subscribe(fn)
}

// Len returns the number of live joins.
func (d *DirectoriesAtTabs) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.joins)
}

// Close stops following removals and closed tabs.
func (d *DirectoriesAtTabs) Close() {
	for _, s := range d.subs {
		s.Cancel()
	}
}
