package task

import (
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/dshills/taskforge/internal/logging"
)

// Run is the state of one invocation of Runner.Run. It is handed to every
// atomic action of the run and discarded afterwards.
type Run struct {
	// ID uniquely identifies the run.
	ID string
	// Task is the requested task name.
	Task string
	// Force reports whether the run continues past failures.
	Force bool

	out    io.Writer
	logger *logging.Logger

	mu     sync.RWMutex
	env    map[string]string
	values map[string]any
}

func newRun(id, name string, opts Options, logger *logging.Logger) *Run {
	out := opts.Output
	if out == nil {
		out = io.Discard
	}
	env := make(map[string]string, len(opts.Env))
	for k, v := range opts.Env {
		env[k] = v
	}
	return &Run{
		ID:     id,
		Task:   name,
		Force:  opts.Force,
		out:    out,
		logger: logger,
		env:    env,
		values: make(map[string]any),
	}
}

// Output returns the writer for user-facing task output.
func (r *Run) Output() io.Writer { return r.out }

// Logger returns the run logger.
func (r *Run) Logger() *logging.Logger { return r.logger }

// Setenv sets a variable in the run environment overlay. Later tasks of the
// same run see it; the process environment is not modified.
func (r *Run) Setenv(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.env[key] = value
}

// LookupEnv returns a variable from the overlay, falling back to the
// process environment, and reports whether it is set.
func (r *Run) LookupEnv(key string) (string, bool) {
	r.mu.RLock()
	v, ok := r.env[key]
	r.mu.RUnlock()
	if ok {
		return v, true
	}
	return os.LookupEnv(key)
}

// Env returns a copy of the overlay.
func (r *Run) Env() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	env := make(map[string]string, len(r.env))
	for k, v := range r.env {
		env[k] = v
	}
	return env
}

// Environ returns the process environment with the overlay applied, sorted
// by key, in the form expected by os/exec.
func (r *Run) Environ() []string {
	return MergeEnv(os.Environ(), r.Env())
}

// SetValue stores run-scoped state under key.
func (r *Run) SetValue(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = value
}

// Value returns run-scoped state stored under key.
func (r *Run) Value(key string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[key]
	return v, ok
}

// MergeEnv applies overrides to a KEY=VALUE environment. The result is
// sorted by key so child processes see a deterministic environment.
func MergeEnv(base []string, overrides ...map[string]string) []string {
	envMap := make(map[string]string, len(base))
	for _, kv := range base {
		if idx := strings.Index(kv, "="); idx > 0 {
			envMap[kv[:idx]] = kv[idx+1:]
		}
	}
	for _, o := range overrides {
		for k, v := range o {
			envMap[k] = v
		}
	}

	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+envMap[k])
	}
	return env
}
