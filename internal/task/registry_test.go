package task

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, *Run) error { return nil }

func newTestRegistry(t *testing.T, atomics []string, aliases map[string][]string) *Registry {
	t.Helper()
	reg := NewRegistry()
	for _, name := range atomics {
		require.NoError(t, reg.Register(name, Atomic("", noop)))
	}
	for name, deps := range aliases {
		require.NoError(t, reg.Register(name, Alias("", deps...)))
	}
	return reg
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("jshint", Atomic("lint js", noop)))

	err := reg.Register("jshint", Alias("", "csslint"))
	assert.True(t, errors.Is(err, ErrDuplicateTask))

	var rerr *RegistryError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "jshint", rerr.Task)

	assert.True(t, errors.Is(reg.Register("", Atomic("", noop)), ErrInvalidTask))
	assert.True(t, errors.Is(reg.Register("nil-action", Atomic("", nil)), ErrInvalidTask))
	assert.True(t, errors.Is(reg.Register("zero", Definition{}), ErrInvalidTask))
}

func TestRegistry_LookupAndNames(t *testing.T) {
	reg := newTestRegistry(t, []string{"b", "a"}, map[string][]string{"c": {"a"}})

	def, ok := reg.Lookup("c")
	require.True(t, ok)
	assert.Equal(t, KindAlias, def.Kind())
	assert.Equal(t, []string{"a"}, def.Deps())

	_, ok = reg.Lookup("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"a", "b", "c"}, reg.Names())
}

func TestRegistry_Resolve(t *testing.T) {
	reg := newTestRegistry(t,
		[]string{"jshint", "csslint", "loadConfig", "concat", "annotate", "uglify", "cssmin", "serve"},
		map[string][]string{
			"lint":        {"jshint", "csslint"},
			"build:dev":   {"loadConfig", "concat", "annotate", "cssmin"},
			"build:prod":  {"loadConfig", "concat", "annotate", "uglify", "cssmin"},
			"development": {"lint", "build:dev", "serve"},
			"default":     {"development"},
			"twice":       {"lint", "jshint", "lint", "cssmin"},
			"empty":       {},
		})

	tests := []struct {
		name string
		want []string
	}{
		{"jshint", []string{"jshint"}},
		{"lint", []string{"jshint", "csslint"}},
		{"default", []string{"jshint", "csslint", "loadConfig", "concat", "annotate", "cssmin", "serve"}},
		{"twice", []string{"jshint", "csslint", "cssmin"}},
		{"empty", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := reg.Resolve(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	reg := newTestRegistry(t, []string{"a"}, map[string][]string{"top": {"a", "mid"}, "mid": {"ghost"}})

	_, err := reg.Resolve("top")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownTask))

	var rerr *RegistryError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "ghost", rerr.Task)
	assert.Equal(t, []string{"top", "mid", "ghost"}, rerr.Path)

	_, err = reg.Resolve("nothing")
	assert.True(t, errors.Is(err, ErrUnknownTask))
}

func TestRegistry_ResolveCycle(t *testing.T) {
	reg := newTestRegistry(t, nil, map[string][]string{
		"A": {"B"},
		"B": {"A"},
	})

	_, err := reg.Resolve("A")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCyclicDependency))

	var rerr *RegistryError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, []string{"A", "B", "A"}, rerr.Path)
	assert.Contains(t, err.Error(), "A -> B -> A")
}

func TestRegistry_ResolveSelfCycle(t *testing.T) {
	reg := newTestRegistry(t, []string{"x"}, map[string][]string{"loop": {"x", "loop"}})

	_, err := reg.Resolve("loop")
	assert.True(t, errors.Is(err, ErrCyclicDependency))
}

func TestRegistry_DiamondIsNotACycle(t *testing.T) {
	reg := newTestRegistry(t, []string{"d"}, map[string][]string{
		"a": {"b", "c"},
		"b": {"d"},
		"c": {"d"},
	})

	got, err := reg.Resolve("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, got)
}

func TestRegistry_Validate(t *testing.T) {
	reg := newTestRegistry(t, []string{"a"}, map[string][]string{"ok": {"a"}})
	require.NoError(t, reg.Validate())

	require.NoError(t, reg.Register("broken", Alias("", "missing")))
	assert.True(t, errors.Is(reg.Validate(), ErrUnknownTask))
}

// Random acyclic registries: resolution terminates, contains only atomic
// tasks, each once, in first-occurrence order of a naive expansion.
func TestRegistry_ResolveRandomAcyclic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for iter := 0; iter < 50; iter++ {
		reg := NewRegistry()
		graph := make(map[string][]string)
		atomic := make(map[string]bool)

		const n = 30
		names := make([]string, n)
		for i := range names {
			names[i] = fmt.Sprintf("t%d", i)
		}
		// Aliases only reference higher-numbered tasks, so there are no cycles.
		for i := n - 1; i >= 0; i-- {
			if i > n-8 || rng.Intn(3) == 0 {
				atomic[names[i]] = true
				require.NoError(t, reg.Register(names[i], Atomic("", noop)))
				continue
			}
			var deps []string
			for j := 0; j < 1+rng.Intn(4); j++ {
				deps = append(deps, names[i+1+rng.Intn(n-i-1)])
			}
			graph[names[i]] = deps
			require.NoError(t, reg.Register(names[i], Alias("", deps...)))
		}

		var naive func(string) []string
		naive = func(name string) []string {
			if atomic[name] {
				return []string{name}
			}
			var out []string
			for _, d := range graph[name] {
				out = append(out, naive(d)...)
			}
			return out
		}

		for _, name := range names {
			got, err := reg.Resolve(name)
			require.NoError(t, err)

			var want []string
			seen := map[string]bool{}
			for _, a := range naive(name) {
				if !seen[a] {
					seen[a] = true
					want = append(want, a)
				}
			}
			assert.Equal(t, want, got, "resolve %s", name)

			again, err := reg.Resolve(name)
			require.NoError(t, err)
			assert.Equal(t, got, again)
		}
	}
}
