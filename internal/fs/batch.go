package fs

import (
	"slices"
	"sort"

	"github.com/justyntemme/razorfs/internal/debug"
	"github.com/justyntemme/razorfs/internal/progress"
)

// CopyAll copies every entry into target. See runBatch for ordering and
// progress.
func (fsys *FileSystem) CopyAll(entries []Entry, target *Directory, tracker progress.Tracker) bool {
	return fsys.runBatch("copy_all", entries, tracker, func(e Entry) bool {
		return fsys.Copy(e, target)
	})
}

// MoveAll moves every entry into target.
func (fsys *FileSystem) MoveAll(entries []Entry, target *Directory, tracker progress.Tracker) bool {
	return fsys.runBatch("move_all", entries, tracker, func(e Entry) bool {
		return fsys.Move(e, target)
	})
}

// RemoveAll removes every entry.
func (fsys *FileSystem) RemoveAll(entries []Entry, tracker progress.Tracker) bool {
	return fsys.runBatch("remove_all", entries, tracker, func(e Entry) bool {
		return fsys.Remove(e)
	})
}

// runBatch applies apply to a copy of entries ordered deepest first, so
// children are handled before their ancestors. Every entry is attempted
// even after a failure; the result is true only if all succeeded. nil
// entries sort last and count as failed items.
func (fsys *FileSystem) runBatch(op string, entries []Entry, tracker progress.Tracker, apply func(Entry) bool) bool {
	tracker = progress.Nop(tracker)
	ordered := slices.Clone(entries)
	sort.SliceStable(ordered, func(i, j int) bool {
		return batchDepth(ordered[i]) > batchDepth(ordered[j])
	})

	tracker.Begin(len(ordered))
	ok := true
	failures := 0
	for i, e := range ordered {
		tracker.Processing(e)
		if e == nil || !apply(e) {
			ok = false
			failures++
		}
		tracker.ProcessingDone(i, e)
	}
	tracker.Completed()

	debug.Log(debug.FS, "%s: %d items, %d failed", op, len(ordered), failures)
	fsys.metrics.Op(op, ok)
	return ok
}

func batchDepth(e Entry) int {
	if e == nil {
		return -1
	}
	return e.Depth()
}
