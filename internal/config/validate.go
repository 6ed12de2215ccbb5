package config

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// Validate checks the configuration for values that would make a run
// meaningless. The first problem found is returned as a *Error.
func (c *Config) Validate() error {
	if c.Project.Manifest == "" {
		return Errorf("project.manifest", "must not be empty")
	}

	outputs := map[string]string{
		"output.js":     c.Output.JS,
		"output.js_min": c.Output.JSMin,
		"output.css":    c.Output.CSS,
	}
	for _, key := range []string{"output.js", "output.js_min", "output.css"} {
		if outputs[key] == "" {
			return Errorf(key, "must not be empty")
		}
	}
	if c.Output.JS == c.Output.JSMin {
		return Errorf("output.js_min", "must differ from output.js")
	}

	switch c.Minify.Kind {
	case "builtin", "none":
	default:
		return Errorf("minify.kind", "unknown minifier %q (want builtin or none)", c.Minify.Kind)
	}

	if c.Concurrent.Limit <= 0 {
		return Errorf("concurrent.limit", "must be positive, got %d", c.Concurrent.Limit)
	}

	if c.Server.MaxRestarts < 0 {
		return Errorf("server.max_restarts", "must not be negative")
	}

	if err := validatePatterns("lint.js.files", c.Lint.JS.Files); err != nil {
		return err
	}
	if err := validatePatterns("lint.css.files", c.Lint.CSS.Files); err != nil {
		return err
	}
	if err := validatePatterns("server.restart_on", c.Server.RestartOn); err != nil {
		return err
	}
	if err := validatePatterns("server.ignore", c.Server.Ignore); err != nil {
		return err
	}
	if err := validatePatterns("watch.ignore", c.Watch.Ignore); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Watch.Groups))
	for i, g := range c.Watch.Groups {
		key := fmt.Sprintf("watch.groups[%d]", i)
		if g.Name == "" {
			return Errorf(key, "name is required")
		}
		if seen[g.Name] {
			return Errorf(key, "duplicate watch group %q", g.Name)
		}
		seen[g.Name] = true
		if len(g.Files) == 0 {
			return Errorf(key, "group %q has no files", g.Name)
		}
		if err := validatePatterns(key+".files", g.Files); err != nil {
			return err
		}
		if c.GroupDebounce(g) < 0 {
			return Errorf(key, "negative debounce")
		}
	}

	for i, t := range c.Tasks {
		key := fmt.Sprintf("tasks[%d]", i)
		if t.Name == "" {
			return Errorf(key, "name is required")
		}
		if t.Command == "" {
			return Errorf(key, "task %q has no command", t.Name)
		}
	}

	return nil
}

func validatePatterns(key string, patterns []string) error {
	for _, p := range patterns {
		if len(p) > 0 && p[0] == '!' {
			p = p[1:]
		}
		if !doublestar.ValidatePattern(p) {
			return Errorf(key, "invalid glob pattern %q", p)
		}
	}
	return nil
}
