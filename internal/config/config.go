package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/justyntemme/razorfs/internal/debug"
)

// envPrefix scopes the environment overrides: RAZOR_LOG_LEVEL,
// RAZOR_WATCH_DEBOUNCE_MILLIS and so on.
const envPrefix = "razor"

// Config holds all user-configurable settings loaded from config.json
type Config struct {
	Log     LogConfig     `json:"log"`
	FS      FSConfig      `json:"fs"`
	Ignore  IgnoreConfig  `json:"ignore"`
	Watch   WatchConfig   `json:"watch"`
	Tabs    TabsConfig    `json:"tabs"`
	Store   StoreConfig   `json:"store"`
	Metrics MetricsConfig `json:"metrics"`
}

// LogConfig holds the zap sink settings
type LogConfig struct {
	Level       string   `json:"level"` // "debug" | "info" | "warn" | "error"
	Development bool     `json:"development"`
	OutputPaths []string `json:"outputPaths" split_words:"true"`
}

// FSConfig holds registry settings
type FSConfig struct {
	// Roots replaces the OS roots as the top-level directories. Empty means
	// the mounted drives.
	Roots []string `json:"roots,omitempty"`
	// CaseInsensitive forces key folding. Unset means the platform default.
	CaseInsensitive *bool `json:"caseInsensitive,omitempty" split_words:"true"`
}

// IgnoreConfig names the two persisted rule files
type IgnoreConfig struct {
	NamesFile string `json:"namesFile" split_words:"true"`
	PathsFile string `json:"pathsFile" split_words:"true"`
}

// WatchConfig holds OS watcher settings
type WatchConfig struct {
	DebounceMillis int `json:"debounceMillis" split_words:"true"`
}

// TabsConfig holds tab behavior settings
type TabsConfig struct {
	NewTabLocation     string `json:"newTabLocation" split_words:"true"` // "current" | "home"
	RestoreTabsOnStart bool   `json:"restoreTabsOnStart" split_words:"true"`
}

// StoreConfig holds the journal database settings
type StoreConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// MetricsConfig holds the Prometheus endpoint settings. An empty Addr
// disables the endpoint.
type MetricsConfig struct {
	Addr string `json:"addr"`
}

// Debounce returns the watcher debounce as a duration.
func (w WatchConfig) Debounce() time.Duration {
	return time.Duration(w.DebounceMillis) * time.Millisecond
}

// DebugConfig converts the log section for debug.Init.
func (l LogConfig) DebugConfig() debug.Config {
	cfg := debug.DefaultConfig()
	if l.Level != "" {
		cfg.Level = l.Level
	}
	cfg.Development = l.Development
	if len(l.OutputPaths) > 0 {
		cfg.OutputPaths = l.OutputPaths
	}
	return cfg
}

// Manager handles loading, saving, and accessing configuration
type Manager struct {
	mu       sync.RWMutex
	config   *Config
	path     string
	parseErr error // Stores parsing error if config failed to load
}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{
		config: DefaultConfig(),
	}
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	dir := configDir()
	return &Config{
		Log: LogConfig{
			Level:       "info",
			Development: false,
			OutputPaths: []string{"stderr"},
		},
		Ignore: IgnoreConfig{
			NamesFile: filepath.Join(dir, "ignored_names"),
			PathsFile: filepath.Join(dir, "ignored_paths"),
		},
		Watch: WatchConfig{
			DebounceMillis: 100,
		},
		Tabs: TabsConfig{
			NewTabLocation:     "current",
			RestoreTabsOnStart: false,
		},
		Store: StoreConfig{
			Enabled: true,
			Path:    filepath.Join(dir, "razorfs.db"),
		},
	}
}

func configDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "razor")
}

// ConfigPath returns the config file path: ~/.config/razor/config.json
// This is consistent across all platforms (Windows, macOS, Linux)
func ConfigPath() string {
	return filepath.Join(configDir(), "config.json")
}

// Load reads the configuration from ConfigPath.
func (m *Manager) Load() error {
	return m.LoadFrom(ConfigPath())
}

// LoadFrom reads the configuration from path, then applies RAZOR_*
// environment overrides.
// If the file doesn't exist, creates it with defaults
// If parsing fails, stores the error and uses defaults
func (m *Manager) LoadFrom(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.path = path
	m.parseErr = nil

	// Ensure config directory exists
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: create %s: %w", dir, err)
	}

	data, err := os.ReadFile(m.path)
	switch {
	case os.IsNotExist(err):
		debug.Log(debug.APP, "Config: creating default config at %s", m.path)
		m.config = DefaultConfig()
		if err := m.saveUnlocked(); err != nil {
			return fmt.Errorf("config: save defaults: %w", err)
		}
	case err != nil:
		return fmt.Errorf("config: read %s: %w", m.path, err)
	default:
		cfg := DefaultConfig()
		if err := json.Unmarshal(data, cfg); err != nil {
			// Keep the error for the caller to report, run on defaults
			debug.Log(debug.APP, "Config: JSON parse error: %v", err)
			m.parseErr = err
			cfg = DefaultConfig()
		} else {
			debug.Log(debug.APP, "Config: loaded from %s", m.path)
		}
		m.config = cfg
	}

	if err := envconfig.Process(envPrefix, m.config); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// saveUnlocked saves config without acquiring lock (caller must hold lock)
func (m *Manager) saveUnlocked() error {
	data, err := json.MarshalIndent(m.config, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0o644)
}

// Save writes the current configuration to disk
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.path == "" {
		m.path = ConfigPath()
	}
	return m.saveUnlocked()
}

// Path returns the file the configuration was loaded from.
func (m *Manager) Path() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.path
}

// Get returns a copy of the current configuration
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return *DefaultConfig()
	}
	return *m.config
}

// ParseError returns the parsing error if config failed to load
func (m *Manager) ParseError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.parseErr
}

// SetRestoreTabs toggles restoring the journaled tabs on start
func (m *Manager) SetRestoreTabs(restore bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.Tabs.RestoreTabsOnStart = restore
}

// SetMetricsAddr sets the Prometheus listen address
func (m *Manager) SetMetricsAddr(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.Metrics.Addr = addr
}

// GenerateConfig backs up the config at path and writes a fresh default one.
// An empty path means ConfigPath. Returns the backup path if a backup was
// created, or empty string if there was no existing config
func GenerateConfig(path string) (backupPath string, err error) {
	if path == "" {
		path = ConfigPath()
	}

	if _, err := os.Stat(path); err == nil {
		timestamp := time.Now().Format("20060102-150405")
		backupPath = filepath.Join(filepath.Dir(path), "config.backup."+timestamp+".json")

		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read existing config: %w", err)
		}
		if err := os.WriteFile(backupPath, data, 0o644); err != nil {
			return "", fmt.Errorf("failed to write backup: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return backupPath, fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(DefaultConfig(), "", "  ")
	if err != nil {
		return backupPath, fmt.Errorf("failed to marshal default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return backupPath, fmt.Errorf("failed to write config: %w", err)
	}

	return backupPath, nil
}
