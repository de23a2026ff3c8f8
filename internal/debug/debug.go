// Package debug provides a centralized, categorized logging system built on zap.
//
// Every component logs through a named zap logger for its category. Debug-level
// lines written with Log are additionally gated per category, controlled by the
// RAZOR_DEBUG environment variable:
//
//	RAZOR_DEBUG=all        enable every category
//	RAZOR_DEBUG=none       disable every category
//	RAZOR_DEBUG=FS,WATCH   enable only the listed categories
package debug

import (
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a debug logging category
type Category string

const (
	// Core categories
	APP    Category = "APP"    // Harness wiring, startup, shutdown
	FS     Category = "FS"     // Registry: resolve, list, mutations
	WATCH  Category = "WATCH"  // OS event watchers
	IGNORE Category = "IGNORE" // Ignore rules and runtime ignores
	TABS   Category = "TABS"   // Tabs, name disambiguation, joins
	STORE  Category = "STORE"  // Journal database

	// Detailed subcategories (use sparingly - can be verbose)
	FS_ENTRY Category = "FS_ENTRY" // Individual entry processing
	FS_WALK  Category = "FS_WALK"  // Subtree walks during copy/remove/size
)

var (
	enabledCategories = map[Category]bool{
		APP:    true,
		FS:     true,
		WATCH:  true,
		IGNORE: true,
		TABS:   true,
		STORE:  true,
		// Verbose categories disabled by default
		FS_ENTRY: false,
		FS_WALK:  false,
	}
	categoryMu sync.RWMutex

	base atomic.Pointer[zap.Logger]
)

func init() {
	base.Store(zap.NewNop())
	if env := os.Getenv("RAZOR_DEBUG"); env != "" {
		SetFromString(env)
	}
}

// Config defines the zap sink configuration.
type Config struct {
	Level       string // "debug", "info", "warn", "error"
	Development bool
	OutputPaths []string
}

// DefaultConfig returns a production configuration writing JSON to stderr.
func DefaultConfig() Config {
	return Config{
		Level:       "info",
		Development: false,
		OutputPaths: []string{"stderr"},
	}
}

// New builds a zap logger from cfg.
func New(cfg Config) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, err
	}
	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.OutputPaths = outputs
	zapCfg.ErrorOutputPaths = []string{"stderr"}
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.DisableStacktrace = !cfg.Development

	return zapCfg.Build()
}

// Init builds the process-wide base logger. Until Init (or SetBase) is called
// every category logs to a no-op logger.
func Init(cfg Config) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}
	SetBase(l)
	return nil
}

// SetBase replaces the base logger all categories derive from.
func SetBase(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	base.Store(l)
}

// Logger returns the named logger for a category.
func Logger(cat Category) *zap.Logger {
	return base.Load().Named(string(cat))
}

// Sync flushes buffered log entries.
func Sync() {
	_ = base.Load().Sync()
}

// Log writes a printf-style debug line if the category is enabled
func Log(cat Category, format string, args ...interface{}) {
	if !IsEnabled(cat) {
		return
	}
	Logger(cat).Sugar().Debugf(format, args...)
}

// SetFromString applies an "all", "none" or comma separated category list.
func SetFromString(spec string) {
	categoryMu.Lock()
	defer categoryMu.Unlock()

	spec = strings.ToUpper(strings.TrimSpace(spec))
	switch spec {
	case "ALL":
		for cat := range enabledCategories {
			enabledCategories[cat] = true
		}
	case "NONE":
		for cat := range enabledCategories {
			enabledCategories[cat] = false
		}
	default:
		// Disable all first, then enable specified
		for cat := range enabledCategories {
			enabledCategories[cat] = false
		}
		for _, cat := range strings.Split(spec, ",") {
			cat = strings.TrimSpace(cat)
			if cat != "" {
				enabledCategories[Category(cat)] = true
			}
		}
	}
}

// Enable enables a debug category
func Enable(cat Category) {
	categoryMu.Lock()
	enabledCategories[cat] = true
	categoryMu.Unlock()
}

// Disable disables a debug category
func Disable(cat Category) {
	categoryMu.Lock()
	enabledCategories[cat] = false
	categoryMu.Unlock()
}

// IsEnabled returns whether a category is enabled
func IsEnabled(cat Category) bool {
	categoryMu.RLock()
	defer categoryMu.RUnlock()
	return enabledCategories[cat]
}

// EnableAll enables all debug categories including verbose ones
func EnableAll() {
	categoryMu.Lock()
	for cat := range enabledCategories {
		enabledCategories[cat] = true
	}
	categoryMu.Unlock()
}

// DisableAll disables all debug categories
func DisableAll() {
	categoryMu.Lock()
	for cat := range enabledCategories {
		enabledCategories[cat] = false
	}
	categoryMu.Unlock()
}

// ListEnabled returns the currently enabled categories, sorted
func ListEnabled() []Category {
	categoryMu.RLock()
	defer categoryMu.RUnlock()

	var enabled []Category
	for cat, on := range enabledCategories {
		if on {
			enabled = append(enabled, cat)
		}
	}
	sort.Slice(enabled, func(i, j int) bool { return enabled[i] < enabled[j] })
	return enabled
}
