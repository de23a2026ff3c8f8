// Package app wires the filesystem core into one session: configuration,
// ignore rules, the registry, the journal, tabs and metrics.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/justyntemme/razorfs/internal/config"
	"github.com/justyntemme/razorfs/internal/debug"
	"github.com/justyntemme/razorfs/internal/fs"
	"github.com/justyntemme/razorfs/internal/ignore"
	"github.com/justyntemme/razorfs/internal/metrics"
	"github.com/justyntemme/razorfs/internal/store"
	"github.com/justyntemme/razorfs/internal/tabs"
)

// Session owns every long-lived component. The journal is nil when the
// store is disabled.
type Session struct {
	Config   config.Config
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Ignores  *ignore.Store
	FS       *fs.FileSystem
	Tabs     *tabs.Tabs
	Joins    *tabs.DirectoriesAtTabs
	DB       *store.DB

	log *zap.Logger
}

// Open builds a session from cfg. Journaled ignores are restored before the
// journal starts recording, and journaled tabs are reopened when
// Tabs.RestoreTabsOnStart is set.
func Open(cfg config.Config) (*Session, error) {
	s := &Session{
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
		log:      debug.Logger(debug.APP),
	}
	s.Metrics = metrics.New(s.Registry)

	rules, err := ignore.LoadRules(cfg.Ignore.NamesFile, cfg.Ignore.PathsFile, fs.KeyFunc(cfg.FS.CaseInsensitive))
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	s.Ignores = ignore.NewStore(rules)

	s.FS = fs.New(fs.Options{
		Ignore:          s.Ignores,
		Roots:           cfg.FS.Roots,
		CaseInsensitive: cfg.FS.CaseInsensitive,
		Metrics:         s.Metrics,
		WatchDebounce:   cfg.Watch.Debounce(),
	})
	s.Tabs = tabs.NewTabs()
	s.Joins = tabs.NewDirectoriesAtTabs(s.FS, s.Tabs)

	if cfg.Store.Enabled {
		db, err := store.Open(cfg.Store.Path)
		if err != nil {
			s.closeCore()
			return nil, fmt.Errorf("app: %w", err)
		}
		s.DB = db

		n, err := db.RestoreIgnores(s.Ignores, func(path string) (ignore.Entry, error) {
			return s.FS.Resolve(path)
		})
		if err != nil {
			s.log.Warn("restore ignores", zap.Error(err))
		}
		db.Attach(s.Ignores)
		debug.Log(debug.APP, "Restored %d ignores", n)

		if cfg.Tabs.RestoreTabsOnStart {
			if _, err := s.RestoreTabs(); err != nil {
				s.log.Warn("restore tabs", zap.Error(err))
			}
		}
	}

	s.log.Info("session ready",
		zap.Int("roots", len(s.FS.Roots())),
		zap.Bool("case_insensitive", s.FS.CaseInsensitive()),
		zap.Bool("journal", s.DB != nil),
	)
	return s, nil
}

// NewTab opens a tab on path. An empty path follows Tabs.NewTabLocation:
// "home" opens the home directory, anything else the selected tab's
// directory, falling back to the working directory.
func (s *Session) NewTab(path string) (*tabs.Tab, error) {
	if path == "" {
		path = s.defaultTabPath()
	}
	dir, err := s.FS.ResolveDirectory(path)
	if err != nil {
		return nil, fmt.Errorf("app: new tab: %w", err)
	}
	return s.Tabs.New(dir), nil
}

func (s *Session) defaultTabPath() string {
	if s.Config.Tabs.NewTabLocation == "home" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
	}
	if t, ok := s.Tabs.Selected(); ok {
		if d, ok := t.SelectedDirectory(); ok {
			return d.Path()
		}
	}
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return wd
}

// RestoreTabs reopens the journaled tabs in order and selects the one that
// was active. Tabs whose directory is gone are skipped.
func (s *Session) RestoreTabs() (int, error) {
	if s.DB == nil {
		return 0, nil
	}
	records, err := s.DB.LoadTabs()
	if err != nil {
		return 0, err
	}
	var active *tabs.Tab
	restored := 0
	for _, r := range records {
		dir, err := s.FS.ResolveDirectory(r.Path)
		if err != nil {
			debug.Log(debug.APP, "Skipping journaled tab %s: %v", r.Path, err)
			continue
		}
		t := s.Tabs.New(dir)
		if r.Active {
			active = t
		}
		restored++
	}
	if active != nil {
		s.Tabs.Select(active)
	}
	return restored, nil
}

// SaveTabs journals the open tabs.
func (s *Session) SaveTabs() error {
	if s.DB == nil {
		return nil
	}
	var records []store.TabRecord
	for _, t := range s.Tabs.All() {
		dir, ok := t.SelectedDirectory()
		if !ok || s.FS.IsMachine(dir) {
			continue
		}
		records = append(records, store.TabRecord{
			ID:     t.ID().String(),
			Path:   dir.Path(),
			Active: t.Active(),
		})
	}
	return s.DB.SaveTabs(records)
}

// MetricsHandler exposes the session registry.
func (s *Session) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{})
}

// ServeMetrics serves the metrics endpoint on addr until ctx is done.
func (s *Session) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.MetricsHandler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("metrics server listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: metrics: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Close stops the watchers, drains pending ignore events into the journal,
// re-keys journaled ignores whose entry moved, saves the tabs when they are
// restored on start and closes the journal.
func (s *Session) Close() error {
	s.closeCore()
	if s.DB == nil {
		return nil
	}
	err := s.DB.SyncIgnores(s.Ignores)
	if s.Config.Tabs.RestoreTabsOnStart {
		err = errors.Join(err, s.SaveTabs())
	}
	if cerr := s.DB.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}

func (s *Session) closeCore() {
	s.Joins.Close()
	s.FS.Close()
	s.Ignores.Close()
}
