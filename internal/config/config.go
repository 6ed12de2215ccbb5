// Package config loads the taskforge project configuration.
//
// Configuration is read from taskforge.toml or taskforge.yaml in the
// workspace root. A missing file is not an error: Default reproduces the
// stock client/server build (lint, concat, annotate, minify, serve, watch).
// Values can be overridden from the environment (TASKFORGE_*), after any
// configured .env files have been loaded.
package config

import (
	"fmt"
	"time"
)

// Deployment modes selected by the mode variable.
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
	ModeTest        = "test"
)

// Duration is a time.Duration that decodes from Go duration strings ("500ms").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration {
	return time.Duration(d)
}

// Config is the complete project configuration.
type Config struct {
	Project    ProjectConfig    `toml:"project" yaml:"project"`
	Env        EnvConfig        `toml:"env" yaml:"env"`
	Runner     RunnerConfig     `toml:"runner" yaml:"runner"`
	Output     OutputConfig     `toml:"output" yaml:"output"`
	Lint       LintConfig       `toml:"lint" yaml:"lint"`
	Concat     ConcatConfig     `toml:"concat" yaml:"concat"`
	Annotate   AnnotateConfig   `toml:"annotate" yaml:"annotate"`
	Minify     MinifyConfig     `toml:"minify" yaml:"minify"`
	Server     ServerConfig     `toml:"server" yaml:"server"`
	Watch      WatchConfig      `toml:"watch" yaml:"watch"`
	Concurrent ConcurrentConfig `toml:"concurrent" yaml:"concurrent"`
	LiveReload LiveReloadConfig `toml:"livereload" yaml:"livereload"`
	Test       TestConfig       `toml:"test" yaml:"test"`
	Tasks      []TaskConfig     `toml:"tasks" yaml:"tasks"`
	Aliases    map[string]Alias `toml:"aliases" yaml:"aliases"`
	Logging    LoggingConfig    `toml:"logging" yaml:"logging"`
}

// ProjectConfig locates the project on disk.
type ProjectConfig struct {
	// Root is the workspace root; relative paths resolve against it.
	Root string `toml:"root" yaml:"root"`

	// Manifest is the environment-keyed asset manifest.
	Manifest string `toml:"manifest" yaml:"manifest"`
}

// EnvConfig controls deployment mode selection.
type EnvConfig struct {
	// Variable names the environment variable holding the mode.
	Variable string `toml:"variable" yaml:"variable"`

	// Default is the mode used when Variable is unset.
	Default string `toml:"default" yaml:"default"`

	// Dotenv lists .env files loaded before the environment is read.
	Dotenv []string `toml:"dotenv" yaml:"dotenv"`
}

// RunnerConfig sets the task runner failure policy.
type RunnerConfig struct {
	// Force continues past failed tasks and reports them at the end.
	Force bool `toml:"force" yaml:"force"`
}

// OutputConfig holds fixed artifact paths.
type OutputConfig struct {
	JS    string `toml:"js" yaml:"js"`
	JSMin string `toml:"js_min" yaml:"js_min"`
	CSS   string `toml:"css" yaml:"css"`
}

// CommandConfig describes an external tool invocation.
type CommandConfig struct {
	Command string            `toml:"command" yaml:"command"`
	Args    []string          `toml:"args" yaml:"args"`
	Files   []string          `toml:"files" yaml:"files"`
	Dir     string            `toml:"dir" yaml:"dir"`
	Env     map[string]string `toml:"env" yaml:"env"`
	Matcher string            `toml:"matcher" yaml:"matcher"`
}

// LintConfig configures the JavaScript and CSS linters.
type LintConfig struct {
	JS  CommandConfig `toml:"js" yaml:"js"`
	CSS CommandConfig `toml:"css" yaml:"css"`
}

// ConcatConfig configures bundle concatenation.
type ConcatConfig struct {
	// Separator is written between concatenated files.
	Separator string `toml:"separator" yaml:"separator"`
}

// AnnotateConfig selects the dependency-injection annotator.
// An empty Command uses the builtin syntax-checking annotator.
type AnnotateConfig struct {
	Command string   `toml:"command" yaml:"command"`
	Args    []string `toml:"args" yaml:"args"`
	Matcher string   `toml:"matcher" yaml:"matcher"`
}

// MinifyConfig selects the minifier.
type MinifyConfig struct {
	// Kind is "builtin" or "none".
	Kind string `toml:"kind" yaml:"kind"`
}

// ServerConfig describes the supervised application server.
type ServerConfig struct {
	Command     string            `toml:"command" yaml:"command"`
	Script      string            `toml:"script" yaml:"script"`
	DevArgs     []string          `toml:"dev_args" yaml:"dev_args"`
	ProdArgs    []string          `toml:"prod_args" yaml:"prod_args"`
	Env         map[string]string `toml:"env" yaml:"env"`
	RestartOn   []string          `toml:"restart_on" yaml:"restart_on"`
	Ignore      []string          `toml:"ignore" yaml:"ignore"`
	Backoff     Duration          `toml:"backoff" yaml:"backoff"`
	MaxBackoff  Duration          `toml:"max_backoff" yaml:"max_backoff"`
	MaxRestarts int               `toml:"max_restarts" yaml:"max_restarts"`
	StableAfter Duration          `toml:"stable_after" yaml:"stable_after"`
	Grace       Duration          `toml:"grace" yaml:"grace"`
	Debounce    Duration          `toml:"debounce" yaml:"debounce"`
}

// WatchGroupConfig binds a set of globs to a task list.
type WatchGroupConfig struct {
	Name       string    `toml:"name" yaml:"name"`
	Files      []string  `toml:"files" yaml:"files"`
	Tasks      []string  `toml:"tasks" yaml:"tasks"`
	LiveReload bool      `toml:"livereload" yaml:"livereload"`
	Debounce   *Duration `toml:"debounce" yaml:"debounce"`
}

// WatchConfig configures the file watcher.
type WatchConfig struct {
	Debounce Duration           `toml:"debounce" yaml:"debounce"`
	Force    bool               `toml:"force" yaml:"force"`
	Ignore   []string           `toml:"ignore" yaml:"ignore"`
	Groups   []WatchGroupConfig `toml:"groups" yaml:"groups"`
}

// ConcurrentConfig bounds concurrent group start-up.
type ConcurrentConfig struct {
	Limit int `toml:"limit" yaml:"limit"`
}

// LiveReloadConfig configures the live-reload endpoint.
type LiveReloadConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Addr    string `toml:"addr" yaml:"addr"`
}

// TestConfig configures the test task.
type TestConfig struct {
	Env    map[string]string `toml:"env" yaml:"env"`
	Runner CommandConfig     `toml:"runner" yaml:"runner"`
}

// TaskConfig declares an extra command task.
type TaskConfig struct {
	Name          string `toml:"name" yaml:"name"`
	Description   string `toml:"description" yaml:"description"`
	CommandConfig `yaml:",inline"`
}

// Alias declares an extra alias task.
type Alias struct {
	Description string   `toml:"description" yaml:"description"`
	Tasks       []string `toml:"tasks" yaml:"tasks"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string `toml:"level" yaml:"level"`
	File       string `toml:"file" yaml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days"`
}

// Mode returns the deployment mode read through lookup, falling back to
// Env.Default and then to ModeDevelopment.
func (c *Config) Mode(lookup func(string) (string, bool)) string {
	if lookup != nil && c.Env.Variable != "" {
		if v, ok := lookup(c.Env.Variable); ok && v != "" {
			return v
		}
	}
	if c.Env.Default != "" {
		return c.Env.Default
	}
	return ModeDevelopment
}

// GroupDebounce returns the effective debounce window of a watch group.
func (c *Config) GroupDebounce(g WatchGroupConfig) time.Duration {
	if g.Debounce != nil {
		return g.Debounce.D()
	}
	return c.Watch.Debounce.D()
}
