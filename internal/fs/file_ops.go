package fs

import (
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charlievieth/fastwalk"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/justyntemme/razorfs/internal/debug"
)

// pathExists checks if a path exists without following a final symlink
func pathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) && !strings.ContainsRune(name, 0)
}

// reject logs a policy refusal. No I/O has happened.
func (fsys *FileSystem) reject(op, reason string, e Entry) bool {
	path := ""
	if e != nil {
		path = e.Path()
	}
	debug.Log(debug.FS, "%s rejected for %q: %s", op, path, reason)
	fsys.metrics.Rejected(op)
	return false
}

func (fsys *FileSystem) failed(op string, err error, fields ...zap.Field) bool {
	fsys.log.Error(op+" failed", append(fields, zap.Error(err))...)
	fsys.metrics.Op(op, false)
	return false
}

// Copy copies e into target under its own name.
func (fsys *FileSystem) Copy(e Entry, target *Directory) bool {
	const op = "copy"
	if e == nil || target == nil {
		return fsys.reject(op, "missing entry or target", e)
	}
	if d, ok := e.(*Directory); ok {
		if fsys.IsMachine(d) || fsys.IsRoot(d) {
			return fsys.reject(op, "roots cannot be copied", e)
		}
		if d.Contains(target) {
			return fsys.reject(op, "target lies inside the entry", e)
		}
	}
	if Same(e, target) {
		return fsys.reject(op, "target is the entry", e)
	}
	if parent, ok := e.Parent(); ok && Same(parent, target) {
		return fsys.reject(op, "target is the entry's parent", e)
	}
	if !target.CanBe(Filled) {
		return fsys.reject(op, "target cannot be filled", e)
	}
	src := e.Path()
	dst := filepath.Join(target.Path(), e.Name())
	if pathExists(dst) {
		return fsys.reject(op, "destination exists", e)
	}

	var err error
	switch e.(type) {
	case *Directory:
		err = copyTree(src, dst)
	case *File:
		err = copyFile(src, dst)
	}
	if err != nil {
		if pathExists(dst) {
			fsys.fire(target.ContentChanged())
		}
		return fsys.failed(op, err, zap.String("src", src), zap.String("dst", dst))
	}

	debug.Log(debug.FS, "Copied %s -> %s", src, dst)
	fsys.metrics.Op(op, true)
	fsys.fire(target.ContentChanged())
	return true
}

// Move moves e into target under its own name. Cached entries keep their
// identity and follow the move.
func (fsys *FileSystem) Move(e Entry, target *Directory) bool {
	const op = "move"
	if e == nil || target == nil {
		return fsys.reject(op, "missing entry or target", e)
	}
	if Same(e, target) {
		return fsys.reject(op, "target is the entry", e)
	}
	if d, ok := e.(*Directory); ok && d.Contains(target) {
		return fsys.reject(op, "target lies inside the entry", e)
	}
	parent, hasParent := e.Parent()
	if hasParent && Same(parent, target) {
		return fsys.reject(op, "target is already the parent", e)
	}
	if !canBe(e, Moved) {
		return fsys.reject(op, "entry cannot be moved", e)
	}
	if !target.CanBe(Filled) {
		return fsys.reject(op, "target cannot be filled", e)
	}
	src := e.Path()
	dst := filepath.Join(target.Path(), e.Name())
	if pathExists(dst) {
		return fsys.reject(op, "destination exists", e)
	}

	fsys.pathMu.Lock()
	if err := relocate(e, src, dst); err != nil {
		fsys.pathMu.Unlock()
		return fsys.failed(op, err, zap.String("src", src), zap.String("dst", dst))
	}
	moved := fsys.rekey(e, src, dst)
	fsys.pathMu.Unlock()
	fsys.retarget(moved)

	debug.Log(debug.FS, "Moved %s -> %s", src, dst)
	fsys.metrics.Op(op, true)
	if hasParent {
		fsys.fire(parent.ContentChanged())
	}
	fsys.fire(target.ContentChanged())
	for _, m := range moved {
		m.entry.Changed().Fire()
	}
	return true
}

// Rename gives e a new name inside its parent.
func (fsys *FileSystem) Rename(e Entry, name string) bool {
	const op = "rename"
	if e == nil {
		return fsys.reject(op, "missing entry", e)
	}
	if !validName(name) {
		return fsys.reject(op, "invalid name "+strconv.Quote(name), e)
	}
	if !canBe(e, Renamed) {
		return fsys.reject(op, "entry cannot be renamed", e)
	}
	if name == e.Name() {
		return fsys.reject(op, "name unchanged", e)
	}
	parent, ok := e.Parent()
	if !ok {
		return fsys.reject(op, "entry has no parent", e)
	}
	src := e.Path()
	dst := filepath.Join(parent.Path(), name)
	// A case-only rename targets the entry itself on case-insensitive disks.
	if fsys.Key(dst) != e.Key() && pathExists(dst) {
		return fsys.reject(op, "destination exists", e)
	}

	fsys.pathMu.Lock()
	if err := os.Rename(src, dst); err != nil {
		fsys.pathMu.Unlock()
		return fsys.failed(op, err, zap.String("src", src), zap.String("dst", dst))
	}
	moved := fsys.rekey(e, src, dst)
	fsys.pathMu.Unlock()
	fsys.retarget(moved)

	debug.Log(debug.FS, "Renamed %s -> %s", src, dst)
	fsys.metrics.Op(op, true)
	fsys.fire(parent.ContentChanged())
	for _, m := range moved {
		m.entry.Changed().Fire()
	}
	return true
}

// Remove deletes e from disk. A directory is removed deepest path first; on a
// partial failure what was removed stays removed.
func (fsys *FileSystem) Remove(e Entry) bool {
	const op = "remove"
	if e == nil {
		return fsys.reject(op, "missing entry", e)
	}
	if !canBe(e, Deleted) {
		return fsys.reject(op, "entry cannot be deleted", e)
	}
	parent, hasParent := e.Parent()
	path := e.Path()

	var err error
	switch e := e.(type) {
	case *Directory:
		err = removeTree(path)
		if err != nil && e.Exists() {
			fsys.fire(e.ContentChanged())
		}
	case *File:
		err = os.Remove(path)
	}
	if err != nil {
		if hasParent {
			fsys.fire(parent.ContentChanged())
		}
		return fsys.failed(op, err, zap.String("path", path))
	}

	removed := fsys.evict(e, nil)
	debug.Log(debug.FS, "Removed %s (%d cached entries evicted)", path, len(removed))
	fsys.metrics.Op(op, true)
	if hasParent {
		fsys.fire(parent.ContentChanged())
	}
	fsys.publishRemoved(removed)
	return true
}

// CreateFile creates an empty file named name in dir.
func (fsys *FileSystem) CreateFile(dir *Directory, name string) (*File, bool) {
	const op = "create_file"
	if dir == nil {
		fsys.reject(op, "missing directory", nil)
		return nil, false
	}
	if !validName(name) {
		fsys.reject(op, "invalid name "+strconv.Quote(name), dir)
		return nil, false
	}
	if !dir.CanBe(Filled) {
		fsys.reject(op, "directory cannot be filled", dir)
		return nil, false
	}
	fsys.pathMu.RLock()
	path := filepath.Join(dir.Path(), name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		fsys.pathMu.RUnlock()
		fsys.failed(op, err, zap.String("path", path))
		return nil, false
	}
	if err := f.Close(); err != nil {
		fsys.pathMu.RUnlock()
		fsys.failed(op, err, zap.String("path", path))
		return nil, false
	}
	file := fsys.memo(path, false).(*File)
	fsys.pathMu.RUnlock()

	fsys.metrics.Op(op, true)
	fsys.fire(dir.ContentChanged())
	return file, true
}

// CreateDirectory creates a directory named name in dir.
func (fsys *FileSystem) CreateDirectory(dir *Directory, name string) (*Directory, bool) {
	const op = "create_directory"
	if dir == nil {
		fsys.reject(op, "missing directory", nil)
		return nil, false
	}
	if !validName(name) {
		fsys.reject(op, "invalid name "+strconv.Quote(name), dir)
		return nil, false
	}
	if !dir.CanBe(Filled) {
		fsys.reject(op, "directory cannot be filled", dir)
		return nil, false
	}
	fsys.pathMu.RLock()
	path := filepath.Join(dir.Path(), name)
	if err := os.Mkdir(path, 0o755); err != nil {
		fsys.pathMu.RUnlock()
		fsys.failed(op, err, zap.String("path", path))
		return nil, false
	}
	created := fsys.memo(path, true).(*Directory)
	fsys.pathMu.RUnlock()

	fsys.metrics.Op(op, true)
	fsys.fire(dir.ContentChanged())
	return created, true
}

// SizeOf returns the size of a file or the total size of the regular files
// below a directory, or -1 if any part cannot be read.
func (fsys *FileSystem) SizeOf(e Entry) int64 {
	switch e := e.(type) {
	case *File:
		info, err := os.Stat(e.Path())
		if err != nil {
			return -1
		}
		return info.Size()
	case *Directory:
		if fsys.IsMachine(e) {
			return -1
		}
		var total atomic.Int64
		conf := &fastwalk.Config{Follow: false}
		err := fastwalk.Walk(conf, e.Path(), func(path string, d iofs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			total.Add(info.Size())
			return nil
		})
		if err != nil {
			debug.Log(debug.FS_WALK, "SizeOf %s: %v", e.Path(), err)
			return -1
		}
		debug.Log(debug.FS_WALK, "SizeOf %s: %s", e.Path(), humanize.IBytes(uint64(total.Load())))
		return total.Load()
	}
	return -1
}

// relocate renames src to dst, copying and deleting when they live on
// different devices.
func relocate(e Entry, src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || !isCrossDevice(err) {
		return err
	}
	debug.Log(debug.FS, "Rename across devices, copying %s -> %s", src, dst)
	switch e.(type) {
	case *Directory:
		if err := copyTree(src, dst); err != nil {
			return err
		}
		return removeTree(src)
	default:
		if err := copyFile(src, dst); err != nil {
			return err
		}
		return os.Remove(src)
	}
}

// copyFile copies content and permission bits. dst must not exist.
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	info, err := srcFile.Stat()
	if err != nil {
		return err
	}

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		return err
	}
	if err := dstFile.Close(); err != nil {
		return err
	}
	return os.Chmod(dst, info.Mode())
}

type copyItem struct {
	src, dst string
	mode     iofs.FileMode
}

// copyTree copies the directory src to dst. Directories are created before
// their contents; symlinks are recreated, not followed.
func copyTree(src, dst string) error {
	rootInfo, err := os.Stat(src)
	if err != nil {
		return err
	}

	var items []copyItem
	var mu sync.Mutex
	conf := &fastwalk.Config{Follow: false}
	srcLen := len(src)

	err = fastwalk.Walk(conf, src, func(fullPath string, d iofs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		relPath := fullPath[srcLen:]
		if len(relPath) > 0 && (relPath[0] == '/' || relPath[0] == '\\') {
			relPath = relPath[1:]
		}
		if relPath == "" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		mu.Lock()
		items = append(items, copyItem{src: fullPath, dst: filepath.Join(dst, relPath), mode: info.Mode()})
		mu.Unlock()
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", src, err)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return pathDepth(items[i].dst) < pathDepth(items[j].dst)
	})

	if err := os.Mkdir(dst, rootInfo.Mode().Perm()); err != nil {
		return err
	}
	debug.Log(debug.FS_WALK, "copyTree %s: %d items", src, len(items))

	for _, item := range items {
		switch {
		case item.mode.IsDir():
			if err := os.MkdirAll(item.dst, item.mode.Perm()); err != nil {
				return err
			}
		case item.mode&iofs.ModeSymlink != 0:
			target, err := os.Readlink(item.src)
			if err != nil {
				return err
			}
			if err := os.Symlink(target, item.dst); err != nil {
				return err
			}
		case item.mode.IsRegular():
			if err := copyFile(item.src, item.dst); err != nil {
				return err
			}
		default:
			debug.Log(debug.FS_WALK, "copyTree: skipping special file %s", item.src)
		}
	}
	return nil
}

// removeTree deletes root and everything below it, deepest path first, and
// stops at the first failure.
func removeTree(root string) error {
	info, err := os.Lstat(root)
	if err != nil {
		return err
	}
	if info.Mode()&iofs.ModeSymlink != 0 {
		return os.Remove(root)
	}

	var paths []string
	var mu sync.Mutex
	conf := &fastwalk.Config{Follow: false}
	err = fastwalk.Walk(conf, root, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		mu.Lock()
		paths = append(paths, path)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", root, err)
	}

	sort.SliceStable(paths, func(i, j int) bool {
		return pathDepth(paths[i]) > pathDepth(paths[j])
	})
	debug.Log(debug.FS_WALK, "removeTree %s: %d paths", root, len(paths))

	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, iofs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}
