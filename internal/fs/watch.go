package fs

import (
	"os"
	"path/filepath"

	"github.com/justyntemme/razorfs/internal/debug"
	"github.com/justyntemme/razorfs/internal/watch"
)

// Watch starts an OS watcher on d. Its batches fire d's ContentChanged.
// Watching an already watched directory is a no-op. Handlers fired by the
// watcher run on its goroutine and must not stop or relocate d synchronously.
func (fsys *FileSystem) Watch(d *Directory) bool {
	if d == nil || fsys.IsMachine(d) || fsys.closed.Load() {
		return false
	}

	fsys.watchMu.Lock()
	w, ok := fsys.watchers[d.ID()]
	if !ok {
		w = fsys.group.New(d.Path(), func(paths []string, stop func()) {
			fsys.onEvents(d, paths, stop)
		})
		fsys.watchers[d.ID()] = w
	}
	fsys.watchMu.Unlock()

	if err := w.Start(); err != nil {
		fsys.watchMu.Lock()
		if fsys.watchers[d.ID()] == w {
			delete(fsys.watchers, d.ID())
		}
		fsys.watchMu.Unlock()
		fsys.group.Forget(w)
		return false
	}
	return true
}

// StopWatching stops d's watcher, if any, and waits for it.
func (fsys *FileSystem) StopWatching(d *Directory) {
	if d == nil {
		return
	}
	fsys.watchMu.Lock()
	w, ok := fsys.watchers[d.ID()]
	delete(fsys.watchers, d.ID())
	fsys.watchMu.Unlock()
	if ok {
		fsys.group.Forget(w)
	}
}

// Watching reports whether d has a running watcher.
func (fsys *FileSystem) Watching(d *Directory) bool {
	fsys.watchMu.Lock()
	w, ok := fsys.watchers[d.ID()]
	fsys.watchMu.Unlock()
	return ok && w.State() == watch.Running
}

// retarget points the watchers of relocated directories at their new paths.
func (fsys *FileSystem) retarget(moved []relocated) {
	for _, m := range moved {
		d, ok := m.entry.(*Directory)
		if !ok {
			continue
		}
		fsys.watchMu.Lock()
		w, ok := fsys.watchers[d.ID()]
		fsys.watchMu.Unlock()
		if !ok {
			continue
		}
		// The OS may already have ended the old watch when its directory
		// was renamed away, so a stopped watcher is started again.
		err := w.Retarget(d.Path())
		if err == nil && w.State() != watch.Running {
			err = w.Start()
		}
		if err != nil {
			debug.Log(debug.WATCH, "Retarget %s -> %s failed: %v", m.oldPath, d.Path(), err)
		}
	}
}

// onEvents runs under the watch group lock. Cached paths that vanished are
// evicted; cached direct children still present get their Changed fired.
// When d itself vanished its watcher is ended through stop.
func (fsys *FileSystem) onEvents(d *Directory, paths []string, stop func()) {
	var removed []Entry
	var changed []Entry

	fsys.pathMu.RLock()
	dirKey := d.Key()
	for _, p := range paths {
		e, ok := fsys.Lookup(p)
		if !ok {
			continue
		}
		if _, err := os.Lstat(p); os.IsNotExist(err) {
			removed = append(removed, fsys.evict(e, d)...)
			continue
		}
		if fsys.Key(filepath.Dir(p)) == dirKey {
			changed = append(changed, e)
		}
	}
	fsys.pathMu.RUnlock()

	for _, e := range removed {
		if e == Entry(d) {
			fsys.watchMu.Lock()
			delete(fsys.watchers, d.ID())
			fsys.watchMu.Unlock()
			stop()
			break
		}
	}
	for _, e := range changed {
		e.Changed().Fire()
	}
	fsys.fire(d.ContentChanged())
	fsys.publishRemoved(removed)
}
