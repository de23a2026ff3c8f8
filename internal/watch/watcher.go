// Package watch bridges OS filesystem notifications into per-directory
// callbacks. Each watched directory gets its own fsnotify handle and its own
// goroutine; callbacks of all watchers in a Group are serialized.
package watch

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/justyntemme/razorfs/internal/debug"
)

// State is the lifecycle position of a Watcher.
type State int32

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// ErrStopping is returned by Start while a previous Stop has not finished.
var ErrStopping = errors.New("watch: watcher is stopping")

// Callback receives the absolute paths touched by one batch of OS events.
// Calling stop ends the watcher once the callback returns and drops it from
// its group. A callback must not call Stop or Retarget on its own watcher.
type Callback func(paths []string, stop func())

// Group owns the lock serializing watcher callbacks.
type Group struct {
	sem      chan struct{}
	debounce time.Duration
	log      *zap.Logger

	mu       sync.Mutex
	watchers map[*Watcher]struct{}
	observer func(dir string, events int)
}

// NewGroup creates a group. A positive debounce keeps collecting events for
// that long after the first one of a batch before dispatching.
func NewGroup(debounce time.Duration) *Group {
	if debounce < 0 {
		debounce = 0
	}
	return &Group{
		sem:      make(chan struct{}, 1),
		debounce: debounce,
		log:      debug.Logger(debug.WATCH),
		watchers: make(map[*Watcher]struct{}),
	}
}

// SetObserver registers a hook called (under the group lock) with the number
// of raw events folded into every dispatched batch.
func (g *Group) SetObserver(fn func(dir string, events int)) {
	g.mu.Lock()
	g.observer = fn
	g.mu.Unlock()
}

// New creates a stopped watcher for dir.
func (g *Group) New(dir string, cb Callback) *Watcher {
	w := &Watcher{
		dir:      filepath.Clean(dir),
		group:    g,
		callback: cb,
		log:      g.log.With(zap.String("dir", dir)),
	}
	g.mu.Lock()
	g.watchers[w] = struct{}{}
	g.mu.Unlock()
	return w
}

// StopAll stops every watcher created by the group.
func (g *Group) StopAll() {
	g.mu.Lock()
	all := make([]*Watcher, 0, len(g.watchers))
	for w := range g.watchers {
		all = append(all, w)
	}
	g.mu.Unlock()

	for _, w := range all {
		w.Stop()
	}
}

// Forget stops w and drops it from the group.
func (g *Group) Forget(w *Watcher) {
	w.Stop()
	g.drop(w)
}

func (g *Group) drop(w *Watcher) {
	g.mu.Lock()
	delete(g.watchers, w)
	g.mu.Unlock()
}

// Watcher watches a single directory.
type Watcher struct {
	dir      string
	group    *Group
	callback Callback
	log      *zap.Logger

	mu    sync.Mutex
	state State
	fsw   *fsnotify.Watcher
	stop  chan struct{}
	done  chan struct{}
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dir
}

// State returns the current lifecycle state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start registers the OS watch and launches the watcher goroutine. Starting a
// running watcher is a no-op.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case Running, Starting:
		return nil
	case Stopping:
		return ErrStopping
	}
	w.state = Starting

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.state = Stopped
		w.log.Warn("watch registration failed", zap.Error(err))
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		w.state = Stopped
		w.log.Warn("watch registration failed", zap.Error(err))
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	w.fsw = fsw
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	w.state = Running
	go w.run(fsw, w.dir, w.log, w.stop, w.done)

	debug.Log(debug.WATCH, "Now watching directory: %s", w.dir)
	return nil
}

// Stop closes the OS handle and waits for the goroutine to exit, including
// a stop already requested from the watcher's callback.
func (w *Watcher) Stop() {
	done := w.halt()
	if done == nil {
		return
	}
	<-done
	debug.Log(debug.WATCH, "Stopped watching directory: %s", w.Dir())
}

// halt signals the goroutine and closes the OS handle without waiting. It
// returns the channel closed when the goroutine exits, nil if none runs.
func (w *Watcher) halt() chan struct{} {
	w.mu.Lock()
	switch w.state {
	case Running:
	case Stopping:
		done := w.done
		w.mu.Unlock()
		return done
	default:
		w.mu.Unlock()
		return nil
	}
	w.state = Stopping
	fsw, stop, done, log := w.fsw, w.stop, w.done, w.log
	w.mu.Unlock()

	close(stop)
	if err := fsw.Close(); err != nil {
		log.Debug("closing watch handle", zap.Error(err))
	}
	return done
}

// Retarget moves the watch to dir. A running watcher is restarted on the new
// path; a stopped one only records it. A pending stop is waited for.
func (w *Watcher) Retarget(dir string) error {
	dir = filepath.Clean(dir)
	running := w.State() == Running
	w.Stop()
	w.mu.Lock()
	w.dir = dir
	w.log = w.group.log.With(zap.String("dir", dir))
	w.mu.Unlock()
	if running {
		return w.Start()
	}
	return nil
}

// run processes filesystem events in batches
func (w *Watcher) run(fsw *fsnotify.Watcher, dir string, log *zap.Logger, stop, done chan struct{}) {
	defer func() {
		w.mu.Lock()
		if w.state == Running {
			// The handle died underneath us; no restart.
			log.Warn("watch handle invalid, watcher terminated")
			fsw.Close()
		}
		w.state = Stopped
		w.fsw = nil
		w.mu.Unlock()
		close(done)
	}()

	for {
		select {
		case <-stop:
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			b := newBatch(dir)
			b.add(event)
			if !w.drain(fsw, stop, b) {
				return
			}
			if len(b.paths) > 0 {
				w.dispatch(stop, b)
			}
			if b.rootGone {
				return
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			log.Warn("fsnotify error", zap.Error(err))
		}
	}
}

// drain collects the events already pending, or arriving within the debounce
// window. It returns false if the watcher was stopped or the handle closed.
func (w *Watcher) drain(fsw *fsnotify.Watcher, stop chan struct{}, b *batch) bool {
	if w.group.debounce <= 0 {
		for {
			select {
			case event, ok := <-fsw.Events:
				if !ok {
					return false
				}
				b.add(event)
			default:
				return true
			}
		}
	}

	timer := time.NewTimer(w.group.debounce)
	defer timer.Stop()
	for {
		select {
		case <-stop:
			return false
		case event, ok := <-fsw.Events:
			if !ok {
				return false
			}
			b.add(event)
		case <-timer.C:
			return true
		}
	}
}

func (w *Watcher) dispatch(stop chan struct{}, b *batch) {
	g := w.group
	select {
	case g.sem <- struct{}{}:
	case <-stop:
		return
	}
	defer func() { <-g.sem }()

	g.mu.Lock()
	observer := g.observer
	g.mu.Unlock()
	if observer != nil {
		observer(b.dir, b.events)
	}

	debug.Log(debug.WATCH, "Directory change notification: %s (%d events)", b.dir, b.events)
	w.callback(b.paths, func() {
		w.halt()
		g.drop(w)
	})
}

type batch struct {
	dir      string
	paths    []string
	seen     map[string]bool
	events   int
	rootGone bool
}

func newBatch(dir string) *batch {
	return &batch{dir: dir, seen: make(map[string]bool)}
}

// add records creates, deletes, renames and writes
func (b *batch) add(event fsnotify.Event) {
	if !(event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) ||
		event.Has(fsnotify.Rename) || event.Has(fsnotify.Write)) {
		return
	}
	b.events++

	path := event.Name
	if !filepath.IsAbs(path) {
		path = filepath.Join(b.dir, path)
	}
	path = filepath.Clean(path)
	if path == b.dir && (event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) {
		b.rootGone = true
	}
	if !b.seen[path] {
		b.seen[path] = true
		b.paths = append(b.paths, path)
	}
}
