package watcher

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// GlobGroup binds a set of file patterns to the tasks re-run when a
// matching file changes.
type GlobGroup struct {
	Name string
	// Patterns are doublestar globs relative to the project root. A pattern
	// starting with "!" excludes paths matched by earlier patterns.
	Patterns []string
	// Tasks are run in order by the dispatcher's trigger.
	Tasks []string
	// LiveReload emits a reload notification after a successful run.
	LiveReload bool
	// Debounce is the quiet period; zero uses the dispatcher default.
	Debounce time.Duration
	// Action replaces the dispatcher trigger for this group when set.
	Action func(ctx context.Context, changed []string) error
}

// Validate checks the group's name and patterns.
func (g GlobGroup) Validate() error {
	if g.Name == "" {
		return fmt.Errorf("watch group: empty name")
	}
	if len(g.Patterns) == 0 {
		return fmt.Errorf("watch group %q: no file patterns", g.Name)
	}
	for _, p := range g.Patterns {
		if !doublestar.ValidatePattern(strings.TrimPrefix(p, "!")) {
			return fmt.Errorf("watch group %q: invalid pattern %q", g.Name, p)
		}
	}
	return nil
}

// Matches reports whether the slash-separated relative path belongs to the
// group. The last pattern that matches decides.
func (g GlobGroup) Matches(rel string) bool {
	rel = strings.TrimPrefix(path.Clean(filepath.ToSlash(rel)), "./")
	matched := false
	for _, p := range g.Patterns {
		neg := strings.HasPrefix(p, "!")
		if ok, _ := doublestar.Match(strings.TrimPrefix(p, "!"), rel); ok {
			matched = !neg
		}
	}
	return matched
}
