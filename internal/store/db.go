// Package store journals session state in sqlite: runtime ignores, so they
// survive a restart, and the open tabs.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/justyntemme/razorfs/internal/debug"
	"github.com/justyntemme/razorfs/internal/ignore"
	"github.com/justyntemme/razorfs/internal/signal"
)

// TabRecord is one persisted tab, in display order.
type TabRecord struct {
	ID     string
	Path   string
	Active bool
}

type DB struct {
	conn *sql.DB
	log  *zap.Logger
	subs []*signal.Subscription

	mu      sync.Mutex
	journal map[uuid.UUID]string // runtime ignore ID -> journaled key
}

// Open initializes the database connection and schema
func Open(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)

	// WAL mode allows simultaneous readers and writers
	// Synchronous NORMAL is safe against app crashes, faster than FULL
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS ignores (
			path TEXT PRIMARY KEY,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS tabs (
			position INTEGER PRIMARY KEY,
			id TEXT NOT NULL,
			path TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 0
		);`,
	}
	for _, q := range schema {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: schema: %w", err)
		}
	}

	debug.Log(debug.STORE, "Opened journal %s", dbPath)
	return &DB{
		conn:    db,
		log:     debug.Logger(debug.STORE),
		journal: make(map[uuid.UUID]string),
	}, nil
}

// Close detaches from every ignore store and closes the connection.
func (d *DB) Close() error {
	for _, s := range d.subs {
		s.Cancel()
	}
	d.subs = nil
	return d.conn.Close()
}

// AddIgnore journals path as ignored. Re-adding keeps the original time.
func (d *DB) AddIgnore(path string) error {
	// Use INSERT OR IGNORE to handle duplicates gracefully
	if _, err := d.conn.Exec("INSERT OR IGNORE INTO ignores (path) VALUES (?)", path); err != nil {
		return fmt.Errorf("store: add ignore: %w", err)
	}
	return nil
}

// RemoveIgnore forgets path.
func (d *DB) RemoveIgnore(path string) error {
	if _, err := d.conn.Exec("DELETE FROM ignores WHERE path = ?", path); err != nil {
		return fmt.Errorf("store: remove ignore: %w", err)
	}
	return nil
}

// Ignores returns the journaled paths, oldest first.
func (d *DB) Ignores() ([]string, error) {
	rows, err := d.conn.Query("SELECT path FROM ignores ORDER BY created_at ASC, rowid ASC")
	if err != nil {
		return nil, fmt.Errorf("store: ignores: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("store: ignores: %w", err)
		}
		paths = append(paths, path)
	}
	return paths, rows.Err()
}

// Attach journals every Ignore and Undo of s. Listener delivery is already
// asynchronous, so writes never run on the caller of Ignore.
func (d *DB) Attach(s *ignore.Store) {
	d.subs = append(d.subs,
		s.OnIgnore(func(rec *ignore.Ignore) {
			key := rec.Target.Key()
			if err := d.AddIgnore(key); err != nil {
				d.log.Warn("journal ignore", zap.String("key", key), zap.Error(err))
				return
			}
			d.remember(rec.ID, key)
		}),
		s.OnUndo(func(rec *ignore.Ignore) {
			key := d.forget(rec)
			if err := d.RemoveIgnore(key); err != nil {
				d.log.Warn("journal undo", zap.String("key", key), zap.Error(err))
			}
		}),
	)
}

func (d *DB) remember(id uuid.UUID, key string) {
	d.mu.Lock()
	d.journal[id] = key
	d.mu.Unlock()
}

// forget returns the key rec was journaled under, which differs from its
// target's key once the target moved.
func (d *DB) forget(rec *ignore.Ignore) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	key, ok := d.journal[rec.ID]
	if !ok {
		return rec.Target.Key()
	}
	delete(d.journal, rec.ID)
	return key
}

// RestoreIgnores re-ignores every journaled path in s. Paths that no longer
// resolve are dropped from the journal. It returns how many were restored.
func (d *DB) RestoreIgnores(s *ignore.Store, resolve func(path string) (ignore.Entry, error)) (int, error) {
	paths, err := d.Ignores()
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, p := range paths {
		e, err := resolve(p)
		if err != nil {
			debug.Log(debug.STORE, "Dropping journaled ignore %s: %v", p, err)
			if err := d.RemoveIgnore(p); err != nil {
				return restored, err
			}
			continue
		}
		rec := s.Ignore(e)
		d.remember(rec.ID, p)
		restored++
	}
	return restored, nil
}

// SyncIgnores re-keys the journal rows of active records whose target moved
// since it was journaled. Call it once s delivered its pending events.
func (d *DB) SyncIgnores(s *ignore.Store) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs error
	for _, rec := range s.Active() {
		old, ok := d.journal[rec.ID]
		cur := rec.Target.Key()
		if !ok || old == cur {
			continue
		}
		if _, err := d.conn.Exec("UPDATE OR REPLACE ignores SET path = ? WHERE path = ?", cur, old); err != nil {
			errs = errors.Join(errs, fmt.Errorf("store: sync ignore %s: %w", old, err))
			continue
		}
		d.journal[rec.ID] = cur
		debug.Log(debug.STORE, "Re-keyed journaled ignore %s -> %s", old, cur)
	}
	return errs
}

// SaveTabs replaces the journaled session with tabs.
func (d *DB) SaveTabs(tabs []TabRecord) (err error) {
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: save tabs: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = errors.Join(err, rbErr)
		}
	}()

	if _, err = tx.Exec("DELETE FROM tabs"); err != nil {
		return fmt.Errorf("store: save tabs: %w", err)
	}
	for i, t := range tabs {
		active := 0
		if t.Active {
			active = 1
		}
		if _, err = tx.Exec("INSERT INTO tabs (position, id, path, active) VALUES (?, ?, ?, ?)",
			i, t.ID, t.Path, active); err != nil {
			return fmt.Errorf("store: save tabs: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("store: save tabs: %w", err)
	}
	debug.Log(debug.STORE, "Saved %d tabs", len(tabs))
	return nil
}

// LoadTabs returns the journaled session in display order.
func (d *DB) LoadTabs() ([]TabRecord, error) {
	rows, err := d.conn.Query("SELECT id, path, active FROM tabs ORDER BY position ASC")
	if err != nil {
		return nil, fmt.Errorf("store: load tabs: %w", err)
	}
	defer rows.Close()

	var tabs []TabRecord
	for rows.Next() {
		var t TabRecord
		var active int
		if err := rows.Scan(&t.ID, &t.Path, &active); err != nil {
			return nil, fmt.Errorf("store: load tabs: %w", err)
		}
		t.Active = active != 0
		tabs = append(tabs, t)
	}
	return tabs, rows.Err()
}
