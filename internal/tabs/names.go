package tabs

import (
	"path/filepath"
	"strings"

	"github.com/justyntemme/razorfs/internal/fs"
)

// Names returns the disambiguated visible name of every tab that has a
// selected directory.
func Names(tabs []*Tab) map[*Tab]string {
	var withDir []*Tab
	var dirs []*fs.Directory
	for _, t := range tabs {
		if d, ok := t.SelectedDirectory(); ok {
			withDir = append(withDir, t)
			dirs = append(dirs, d)
		}
	}
	out := make(map[*Tab]string, len(withDir))
	for i, name := range disambiguate(dirs) {
		out[withDir[i]] = name
	}
	return out
}

type candidate struct {
	label string
	chain []string // ancestor names, nearest first
	used  int
}

// disambiguate names each directory by its own name, prefixed with as many
// ancestor names as it takes to tell colliding names apart. Names are
// compared case-insensitively. Each round extends every still-colliding
// label by one ancestor; labels that became unique, and chains that ran out,
// stop. The loop ends after at most the deepest chain's length rounds.
func disambiguate(dirs []*fs.Directory) []string {
	cands := make([]*candidate, len(dirs))
	for i, d := range dirs {
		cands[i] = &candidate{label: d.Name(), chain: ancestors(d.Path())}
	}

	pending := colliding(cands)
	for len(pending) > 0 {
		var grown []*candidate
		for _, c := range pending {
			if c.used >= len(c.chain) {
				continue
			}
			c.label = prefix(c.chain[c.used], c.label)
			c.used++
			grown = append(grown, c)
		}
		pending = colliding(grown)
	}

	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.label
	}
	return out
}

// colliding returns the candidates whose label is shared, ignoring case.
func colliding(cands []*candidate) []*candidate {
	groups := make(map[string][]*candidate)
	for _, c := range cands {
		key := strings.ToLower(c.label)
		groups[key] = append(groups[key], c)
	}
	var out []*candidate
	for _, c := range cands {
		if len(groups[strings.ToLower(c.label)]) > 1 {
			out = append(out, c)
		}
	}
	return out
}

// ancestors lists the names of the directories above path, nearest first.
// A root keeps its whole path ("/").
func ancestors(path string) []string {
	if path == "" {
		return nil
	}
	var out []string
	p := filepath.Clean(path)
	for {
		parent := filepath.Dir(p)
		if parent == p {
			return out
		}
		if filepath.Dir(parent) == parent {
			out = append(out, parent)
		} else {
			out = append(out, filepath.Base(parent))
		}
		p = parent
	}
}

// prefix joins an ancestor name and a label with "/", without doubling the
// separator after a root.
func prefix(ancestor, label string) string {
	trimmed := strings.TrimRight(ancestor, `/\`)
	if trimmed == "" {
		return "/" + label
	}
	return trimmed + "/" + label
}
