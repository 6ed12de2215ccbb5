package watcher

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Ignore is an ordered list of gitignore-style rules. A later rule
// overrides an earlier one, so "!keep.log" after "*.log" keeps keep.log.
//
//	*.log            files ending in .log at any depth
//	/dist            dist at the root only
//	build/           directories named build, and everything below them
//	public/lib/**    everything below public/lib
//	!keep.log        re-include keep.log
//
// A nil *Ignore ignores nothing.
type Ignore struct {
	rules []ignoreRule
}

type ignoreRule struct {
	glob    string
	exclude bool
	dirOnly bool
}

// CompileIgnore parses patterns. Blank entries and # comments are skipped.
func CompileIgnore(patterns []string) (*Ignore, error) {
	ig := &Ignore{}
	for _, raw := range patterns {
		line := strings.TrimRight(raw, " \t")
		if line == "" || line[0] == '#' {
			continue
		}
		r := ignoreRule{exclude: true}
		if rest, ok := strings.CutPrefix(line, "!"); ok {
			r.exclude = false
			line = rest
		}
		if rest, ok := strings.CutSuffix(line, "/"); ok {
			r.dirOnly = true
			line = rest
		}
		// Any remaining slash roots the pattern at the project root.
		anchored := strings.Contains(line, "/")
		line = strings.TrimPrefix(line, "/")
		if line == "" {
			return nil, fmt.Errorf("invalid ignore pattern %q", raw)
		}
		if !anchored {
			line = "**/" + line
		}
		if !doublestar.ValidatePattern(line) {
			return nil, fmt.Errorf("invalid ignore pattern %q", raw)
		}
		r.glob = line
		ig.rules = append(ig.rules, r)
	}
	return ig, nil
}

// Len returns the number of rules.
func (ig *Ignore) Len() int {
	if ig == nil {
		return 0
	}
	return len(ig.rules)
}

// Match reports whether the root-relative path rel is ignored.
func (ig *Ignore) Match(rel string, isDir bool) bool {
	if ig == nil {
		return false
	}
	rel = path.Clean(filepath.ToSlash(rel))
	ignored := false
	for _, r := range ig.rules {
		if r.covers(rel, isDir) {
			ignored = r.exclude
		}
	}
	return ignored
}

// MatchUnder is Match for an absolute path below root. Paths outside root
// are never ignored.
func (ig *Ignore) MatchUnder(root, p string, isDir bool) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return ig.Match(rel, isDir)
}

// covers reports whether the rule names rel or a directory containing it.
func (r ignoreRule) covers(rel string, isDir bool) bool {
	if (!r.dirOnly || isDir) && r.matchName(rel) {
		return true
	}
	for dir := path.Dir(rel); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if r.matchName(dir) {
			return true
		}
	}
	return false
}

func (r ignoreRule) matchName(name string) bool {
	if ok, _ := doublestar.Match(r.glob, name); ok {
		return true
	}
	// "dir/**" also names dir itself.
	if base, ok := strings.CutSuffix(r.glob, "/**"); ok {
		ok, _ := doublestar.Match(base, name)
		return ok
	}
	return false
}
