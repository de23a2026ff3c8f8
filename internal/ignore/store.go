// Package ignore decides which entries are hidden from listings. It combines
// the persisted rule files with runtime Ignore records that can be undone.
package ignore

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/justyntemme/razorfs/internal/debug"
	"github.com/justyntemme/razorfs/internal/signal"
)

// Entry is the part of a filesystem entry the store needs.
type Entry interface {
	ID() uuid.UUID
	Name() string
	Key() string
}

// Ignore is a runtime record of an explicitly ignored entry.
type Ignore struct {
	ID        uuid.UUID
	Target    Entry
	Timestamp time.Time
}

type event struct {
	undo bool
	rec  *Ignore
}

// Store is the ignore predicate used by every listing.
type Store struct {
	rules Rules
	log   *zap.Logger

	mu      sync.RWMutex
	byEntry map[uuid.UUID]*Ignore

	ignored signal.Topic[*Ignore]
	undone  signal.Topic[*Ignore]

	events    chan event
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewStore creates a store over rules and starts its listener dispatcher.
func NewStore(rules Rules) *Store {
	s := &Store{
		rules:   rules,
		log:     debug.Logger(debug.IGNORE),
		byEntry: make(map[uuid.UUID]*Ignore),
		events:  make(chan event, 64),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go s.dispatch()
	return s
}

// Rules returns the persisted rules.
func (s *Store) Rules() Rules {
	return s.rules
}

// IsIgnored reports whether e matches a persisted rule or has an active
// runtime Ignore.
func (s *Store) IsIgnored(e Entry) bool {
	if s.rules.Match(e.Name(), e.Key()) {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byEntry[e.ID()]
	return ok
}

// Ignore records e as ignored. Ignoring an entry that already has an active
// record returns that record and notifies nobody.
func (s *Store) Ignore(e Entry) *Ignore {
	s.mu.Lock()
	if rec, ok := s.byEntry[e.ID()]; ok {
		s.mu.Unlock()
		return rec
	}
	rec := &Ignore{ID: uuid.New(), Target: e, Timestamp: time.Now()}
	s.byEntry[e.ID()] = rec
	s.mu.Unlock()

	debug.Log(debug.IGNORE, "Ignored %s", e.Key())
	s.notify(event{rec: rec})
	return rec
}

// Undo removes rec if it is still active. Persisted rules are unaffected.
func (s *Store) Undo(rec *Ignore) bool {
	if rec == nil || rec.Target == nil {
		return false
	}
	s.mu.Lock()
	cur, ok := s.byEntry[rec.Target.ID()]
	if !ok || cur.ID != rec.ID {
		s.mu.Unlock()
		return false
	}
	delete(s.byEntry, rec.Target.ID())
	s.mu.Unlock()

	debug.Log(debug.IGNORE, "Undid ignore of %s", rec.Target.Key())
	s.notify(event{undo: true, rec: rec})
	return true
}

// Active returns the active runtime records, oldest first.
func (s *Store) Active() []*Ignore {
	s.mu.RLock()
	out := make([]*Ignore, 0, len(s.byEntry))
	for _, rec := range s.byEntry {
		out = append(out, rec)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// OnIgnore subscribes to new records. Listeners run on the dispatcher
// goroutine, in the order the records were created.
func (s *Store) OnIgnore(fn func(*Ignore)) *signal.Subscription {
	return s.ignored.Subscribe(fn)
}

// OnUndo subscribes to undone records.
func (s *Store) OnUndo(fn func(*Ignore)) *signal.Subscription {
	return s.undone.Subscribe(fn)
}

// Close delivers pending notifications and stops the dispatcher.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.done) })
	<-s.stopped
}

func (s *Store) notify(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
		s.log.Debug("store closed, dropping notification", zap.String("path", ev.rec.Target.Key()))
	}
}

func (s *Store) dispatch() {
	defer close(s.stopped)
	for {
		select {
		case ev := <-s.events:
			s.deliver(ev)
		case <-s.done:
			for {
				select {
				case ev := <-s.events:
					s.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) deliver(ev event) {
	if ev.undo {
		s.undone.Publish(ev.rec)
		return
	}
	s.ignored.Publish(ev.rec)
}
