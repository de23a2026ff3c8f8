package fs

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/justyntemme/razorfs/internal/debug"
)

const listBatch = 256

// Listing yields the non-ignored children of one directory in directory
// order, reading from disk in batches. The caller must Close it.
type Listing struct {
	fsys *FileSystem
	dir  *Directory

	f     *os.File
	batch []os.DirEntry
	pos   int
	eof   bool

	fixed []Entry // the machine lists its roots

	cur Entry
	err error
}

// List opens a listing of d.
func (fsys *FileSystem) List(d *Directory) (*Listing, error) {
	if fsys.IsMachine(d) {
		roots := fsys.Roots()
		fixed := make([]Entry, 0, len(roots))
		for _, r := range roots {
			fixed = append(fixed, r)
		}
		return &Listing{fsys: fsys, dir: d, fixed: fixed, eof: true}, nil
	}

	path := d.Path()
	f, err := os.Open(path)
	if err != nil {
		fsys.log.Warn("list failed", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("list %s: %w", path, err)
	}
	debug.Log(debug.FS, "Listing %s", path)
	return &Listing{fsys: fsys, dir: d, f: f}, nil
}

// Next advances to the next visible child.
func (l *Listing) Next() bool {
	l.cur = nil
	for {
		for len(l.fixed) > 0 {
			e := l.fixed[0]
			l.fixed = l.fixed[1:]
			if !l.fsys.Ignored(e) {
				l.cur = e
				return true
			}
		}

		for l.pos < len(l.batch) {
			de := l.batch[l.pos]
			l.pos++
			e := l.fsys.child(l.dir, de)
			if l.fsys.Ignored(e) {
				debug.Log(debug.FS_ENTRY, "Listing skips ignored %s", e.Path())
				continue
			}
			l.cur = e
			return true
		}

		if l.eof || l.f == nil {
			return false
		}
		batch, err := l.f.ReadDir(listBatch)
		l.batch, l.pos = batch, 0
		if err != nil {
			l.eof = true
			if !errors.Is(err, io.EOF) {
				l.err = fmt.Errorf("list %s: %w", l.dir.Path(), err)
			}
		}
		if len(batch) == 0 && l.eof {
			return false
		}
	}
}

// Entry returns the child Next moved to.
func (l *Listing) Entry() Entry { return l.cur }

// Err returns the first read error.
func (l *Listing) Err() error { return l.err }

// Close releases the directory handle. It is safe to call twice.
func (l *Listing) Close() error {
	l.eof = true
	l.batch = nil
	l.fixed = nil
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// All iterates the remaining children and closes the listing when the loop
// ends, early breaks included.
func (l *Listing) All() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		defer l.Close()
		for l.Next() {
			if !yield(l.Entry()) {
				return
			}
		}
	}
}

// child resolves a directory entry, following symlinks for the kind.
func (fsys *FileSystem) child(dir *Directory, de os.DirEntry) Entry {
	fsys.pathMu.RLock()
	defer fsys.pathMu.RUnlock()
	path := filepath.Join(dir.Path(), de.Name())
	isDir := de.IsDir()
	if de.Type()&os.ModeSymlink != 0 {
		if info, err := os.Stat(path); err == nil {
			isDir = info.IsDir()
		}
	}
	return fsys.memo(path, isDir)
}
