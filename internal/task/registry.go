package task

import (
	"context"
	"sort"
	"sync"
)

// Kind distinguishes atomic tasks from aliases.
type Kind string

const (
	// KindAtomic is a task with an action.
	KindAtomic Kind = "atomic"
	// KindAlias is a named, ordered list of other tasks.
	KindAlias Kind = "alias"
)

// Action is the body of an atomic task.
type Action func(ctx context.Context, run *Run) error

// Definition describes a registered task. Build one with Atomic or Alias.
type Definition struct {
	kind        Kind
	description string
	action      Action
	deps        []string
}

// Atomic defines a task performing action.
func Atomic(description string, action Action) Definition {
	return Definition{kind: KindAtomic, description: description, action: action}
}

// Alias defines a task expanding to names, in order.
func Alias(description string, names ...string) Definition {
	return Definition{kind: KindAlias, description: description, deps: append([]string(nil), names...)}
}

// Kind returns the definition kind.
func (d Definition) Kind() Kind { return d.kind }

// Description returns the human-readable description.
func (d Definition) Description() string { return d.description }

// Deps returns a copy of an alias expansion list.
func (d Definition) Deps() []string { return append([]string(nil), d.deps...) }

// Registry holds task definitions by name.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds a definition under name.
func (r *Registry) Register(name string, def Definition) error {
	if name == "" {
		return &RegistryError{Kind: ErrInvalidTask, Task: name}
	}
	switch def.kind {
	case KindAtomic:
		if def.action == nil {
			return &RegistryError{Kind: ErrInvalidTask, Task: name}
		}
	case KindAlias:
	default:
		return &RegistryError{Kind: ErrInvalidTask, Task: name}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[name]; exists {
		return &RegistryError{Kind: ErrDuplicateTask, Task: name}
	}
	r.defs[name] = def
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(name string, def Definition) {
	if err := r.Register(name, def); err != nil {
		panic(err)
	}
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// Names returns all registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve expands name into the ordered list of atomic tasks to run.
//
// Expansion is depth-first in declaration order. An atomic task reached more
// than once keeps its first position. Resolve does not modify the registry
// and always returns the same list for the same registry contents.
func (r *Registry) Resolve(name string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := resolver{
		defs:    r.defs,
		onStack: make(map[string]bool),
		seen:    make(map[string]bool),
	}
	if err := res.visit(name); err != nil {
		return nil, err
	}
	return res.out, nil
}

// Validate resolves every registered alias, proving the registry is complete
// and acyclic. The first error found, in name order, is returned.
func (r *Registry) Validate() error {
	for _, name := range r.Names() {
		def, _ := r.Lookup(name)
		if def.kind != KindAlias {
			continue
		}
		if _, err := r.Resolve(name); err != nil {
			return err
		}
	}
	return nil
}

type resolver struct {
	defs    map[string]Definition
	stack   []string
	onStack map[string]bool
	seen    map[string]bool
	out     []string
}

func (res *resolver) visit(name string) error {
	if res.onStack[name] {
		path := append([]string(nil), res.stack[res.indexOf(name):]...)
		return &RegistryError{Kind: ErrCyclicDependency, Task: name, Path: append(path, name)}
	}

	def, ok := res.defs[name]
	if !ok {
		path := append(append([]string(nil), res.stack...), name)
		return &RegistryError{Kind: ErrUnknownTask, Task: name, Path: path}
	}

	if def.kind == KindAtomic {
		if !res.seen[name] {
			res.seen[name] = true
			res.out = append(res.out, name)
		}
		return nil
	}

	res.stack = append(res.stack, name)
	res.onStack[name] = true
	for _, dep := range def.deps {
		if err := res.visit(dep); err != nil {
			return err
		}
	}
	res.onStack[name] = false
	res.stack = res.stack[:len(res.stack)-1]
	return nil
}

func (res *resolver) indexOf(name string) int {
	for i, n := range res.stack {
		if n == name {
			return i
		}
	}
	return 0
}
