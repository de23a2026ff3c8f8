// Package progress defines the begin/processing/done/completed protocol every
// batch filesystem operation reports through.
package progress

import (
	"fmt"
	"sync"
)

// Tracker observes a batch operation:
//
//	Begin(total) -> {Processing(item) -> ProcessingDone(seq, item)}* -> Completed()
//
// ProcessingDone is called once per attempted item, whether or not it
// succeeded. Clear resets counters without calling back.
type Tracker interface {
	Begin(total int)
	Processing(item any)
	ProcessingDone(seq int, item any)
	Completed()
	Clear()
}

// State is the lifecycle position of a Counter.
type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Counter is a thread-safe Tracker that only counts.
type Counter struct {
	mu        sync.Mutex
	state     State
	total     int
	started   int
	done      int
	completed int
	current   any
}

func (c *Counter) Begin(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Running
	c.total = total
	c.started = 0
	c.done = 0
	c.current = nil
}

func (c *Counter) Processing(item any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started++
	c.current = item
}

func (c *Counter) ProcessingDone(seq int, item any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done++
	c.current = nil
}

func (c *Counter) Completed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Idle
	c.completed++
}

func (c *Counter) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Idle
	c.total = 0
	c.started = 0
	c.done = 0
	c.completed = 0
	c.current = nil
}

// Snapshot is a point-in-time copy of a Counter.
type Snapshot struct {
	State     State
	Total     int
	Started   int
	Done      int
	Completed int
	Current   any
}

// Snapshot returns the current counts.
func (c *Counter) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:     c.state,
		Total:     c.total,
		Started:   c.started,
		Done:      c.done,
		Completed: c.completed,
		Current:   c.current,
	}
}

// Func adapts optional callbacks to a Tracker. Nil fields are skipped.
type Func struct {
	OnBegin          func(total int)
	OnProcessing     func(item any)
	OnProcessingDone func(seq int, item any)
	OnCompleted      func()
}

func (f Func) Begin(total int) {
	if f.OnBegin != nil {
		f.OnBegin(total)
	}
}

func (f Func) Processing(item any) {
	if f.OnProcessing != nil {
		f.OnProcessing(item)
	}
}

func (f Func) ProcessingDone(seq int, item any) {
	if f.OnProcessingDone != nil {
		f.OnProcessingDone(seq, item)
	}
}

func (f Func) Completed() {
	if f.OnCompleted != nil {
		f.OnCompleted()
	}
}

func (f Func) Clear() {}

// Multi forwards every call to each tracker in order.
type Multi []Tracker

func (m Multi) Begin(total int) {
	for _, t := range m {
		t.Begin(total)
	}
}

func (m Multi) Processing(item any) {
	for _, t := range m {
		t.Processing(item)
	}
}

func (m Multi) ProcessingDone(seq int, item any) {
	for _, t := range m {
		t.ProcessingDone(seq, item)
	}
}

func (m Multi) Completed() {
	for _, t := range m {
		t.Completed()
	}
}

func (m Multi) Clear() {
	for _, t := range m {
		t.Clear()
	}
}

// Nop returns t, or a tracker that ignores everything when t is nil.
func Nop(t Tracker) Tracker {
	if t == nil {
		return Func{}
	}
	return t
}
