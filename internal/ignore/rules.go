package ignore

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/justyntemme/razorfs/internal/debug"
)

// Rules are the persisted ignore rules: lower-case entry names and normalized
// absolute paths. Every line matches literally; a line that is also valid
// doublestar syntax matches as a pattern too. Rules never change after
// construction.
type Rules struct {
	names        map[string]bool
	namePatterns []string
	paths        map[string]bool
	pathPatterns []string
}

// NewRules builds rules from raw lines. normalize maps a path to the cache key
// form used by the registry; nil means filepath.Clean.
func NewRules(names, paths []string, normalize func(string) string) Rules {
	if normalize == nil {
		normalize = filepath.Clean
	}
	r := Rules{
		names: make(map[string]bool),
		paths: make(map[string]bool),
	}
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if !r.names[n] && isPattern(n) && doublestar.ValidatePattern(n) {
			r.namePatterns = append(r.namePatterns, n)
		}
		r.names[n] = true
	}
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		p = normalize(p)
		if !r.paths[p] && isPattern(p) && doublestar.ValidatePathPattern(p) {
			r.pathPatterns = append(r.pathPatterns, p)
		}
		r.paths[p] = true
	}
	return r
}

// LoadRules reads the two line-oriented rule files. A missing file counts as
// empty; blank lines and lines starting with '#' are skipped.
func LoadRules(namesFile, pathsFile string, normalize func(string) string) (Rules, error) {
	names, err := readLines(namesFile)
	if err != nil {
		return Rules{}, fmt.Errorf("load ignored names: %w", err)
	}
	paths, err := readLines(pathsFile)
	if err != nil {
		return Rules{}, fmt.Errorf("load ignored paths: %w", err)
	}
	r := NewRules(names, paths, normalize)
	debug.Log(debug.IGNORE, "Loaded ignore rules: %d names, %d paths", r.NameCount(), r.PathCount())
	return r, nil
}

func readLines(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		debug.Log(debug.IGNORE, "Ignore rule file %s not found, using no rules", path)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

func isPattern(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

// Match reports whether a lower-case-insensitive name or a normalized key is
// covered by a rule.
func (r Rules) Match(name, key string) bool {
	name = strings.ToLower(name)
	if r.names[name] || r.paths[key] {
		return true
	}
	for _, p := range r.namePatterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	for _, p := range r.pathPatterns {
		if ok, _ := doublestar.PathMatch(p, key); ok {
			return true
		}
	}
	return false
}

// NameCount returns the number of distinct name rules.
func (r Rules) NameCount() int {
	return len(r.names)
}

// PathCount returns the number of distinct path rules.
func (r Rules) PathCount() int {
	return len(r.paths)
}
