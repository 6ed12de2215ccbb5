package watcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dshills/taskforge/internal/logging"
)

// DefaultDebounce is the quiet period used when neither the group nor the
// dispatcher configures one.
const DefaultDebounce = 300 * time.Millisecond

// GroupState is the lifecycle state of a watch group.
type GroupState int

const (
	// StateIdle means no change is waiting.
	StateIdle GroupState = iota
	// StatePending means a change arrived and the debounce timer is armed.
	StatePending
	// StateRunning means the group's tasks are executing.
	StateRunning
)

// String returns the state name.
func (s GroupState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Trigger runs a group's task list for the changed paths.
type Trigger func(ctx context.Context, g GlobGroup, changed []string) error

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// Root is the directory group patterns are relative to.
	Root string
	// Groups are the watch groups; names must be unique.
	Groups []GlobGroup
	// Debounce applies to groups that do not set their own.
	Debounce time.Duration
	// Trigger runs groups that have no Action.
	Trigger Trigger
	// Reload is called with the changed paths after a successful run of a
	// live-reload group.
	Reload func(paths []string)
	Logger *logging.Logger
}

type group struct {
	GlobGroup
	debounce time.Duration

	state   GroupState
	seq     uint64
	timer   *time.Timer
	dirty   bool
	changed map[string]struct{}
	runs    int
}

type fire struct {
	idx int
	seq uint64
}

type completion struct {
	idx     int
	changed []string
	err     error
}

// Dispatcher routes file events to watch groups and runs each group once per
// burst of changes. All group state is owned by the Run loop.
type Dispatcher struct {
	root    string
	trigger Trigger
	reload  func(paths []string)
	logger  *logging.Logger

	// mu guards reads of group state from outside the loop.
	mu     sync.Mutex
	groups []*group

	fired chan fire
	done  chan completion
	stop  chan struct{}
}

// NewDispatcher validates the groups and creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	d := &Dispatcher{
		root:    cfg.Root,
		trigger: cfg.Trigger,
		reload:  cfg.Reload,
		logger:  logger.WithComponent("watcher"),
		fired:   make(chan fire),
		done:    make(chan completion),
		stop:    make(chan struct{}),
	}

	seen := make(map[string]bool)
	for _, g := range cfg.Groups {
		if err := g.Validate(); err != nil {
			return nil, err
		}
		if seen[g.Name] {
			return nil, fmt.Errorf("watch group %q: duplicate name", g.Name)
		}
		seen[g.Name] = true
		if g.Action == nil && cfg.Trigger == nil && len(g.Tasks) > 0 {
			return nil, fmt.Errorf("watch group %q: no trigger for tasks", g.Name)
		}
		gd := g.Debounce
		if gd <= 0 {
			gd = debounce
		}
		d.groups = append(d.groups, &group{
			GlobGroup: g,
			debounce:  gd,
			changed:   make(map[string]struct{}),
		})
	}
	return d, nil
}

// State returns the current state of the named group.
func (d *Dispatcher) State(name string) (GroupState, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, g := range d.groups {
		if g.Name == name {
			return g.state, true
		}
	}
	return StateIdle, false
}

// Runs returns how many times the named group has started a run.
func (d *Dispatcher) Runs(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, g := range d.groups {
		if g.Name == name {
			return g.runs
		}
	}
	return 0
}

// Run processes events from src until ctx is cancelled or src closes. On
// return every pending timer is stopped and every in-flight run has been
// cancelled and has finished. ready is called once the loop is accepting
// events. Run must be called at most once.
func (d *Dispatcher) Run(ctx context.Context, src Source, ready func()) error {
	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	defer func() {
		d.mu.Lock()
		for _, g := range d.groups {
			if g.timer != nil {
				g.timer.Stop()
			}
		}
		d.mu.Unlock()
		close(d.stop)
		cancel()
		wg.Wait()
	}()

	events, errs := src.Events(), src.Errors()
	if ready != nil {
		ready()
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				return ErrWatcherClosed
			}
			d.handleEvent(ev)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			d.logger.Warn("watch error: %v", err)

		case f := <-d.fired:
			d.handleFire(runCtx, &wg, f)

		case c := <-d.done:
			d.handleDone(c)
		}
	}
}

func (d *Dispatcher) handleEvent(ev Event) {
	if ev.Op == OpChmod {
		return
	}
	rel := ev.Path
	if d.root != "" {
		if r, err := filepath.Rel(d.root, ev.Path); err == nil {
			rel = r
		}
	}
	rel = filepath.ToSlash(rel)

	d.mu.Lock()
	defer d.mu.Unlock()
	for idx, g := range d.groups {
		if !g.Matches(rel) {
			continue
		}
		g.changed[rel] = struct{}{}
		switch g.state {
		case StateIdle:
			g.state = StatePending
			d.arm(idx, g)
			d.logger.Debug("%s changed, scheduling %s", rel, g.Name)
		case StatePending:
			d.arm(idx, g)
			d.logger.Debug("%s changed, coalesced into pending %s run", rel, g.Name)
		case StateRunning:
			g.dirty = true
			d.logger.Debug("%s changed while %s runs, will run again", rel, g.Name)
		}
	}
}

// arm (re)starts the group's debounce timer. A fire from an earlier timer
// carries an old sequence number and is dropped by handleFire.
func (d *Dispatcher) arm(idx int, g *group) {
	g.seq++
	seq := g.seq
	if g.timer != nil {
		g.timer.Stop()
	}
	g.timer = time.AfterFunc(g.debounce, func() {
		select {
		case d.fired <- fire{idx: idx, seq: seq}:
		case <-d.stop:
		}
	})
}

func (d *Dispatcher) handleFire(ctx context.Context, wg *sync.WaitGroup, f fire) {
	d.mu.Lock()
	g := d.groups[f.idx]
	if f.seq != g.seq || g.state != StatePending {
		d.mu.Unlock()
		d.logger.Debug("stale debounce timer for %s ignored", g.Name)
		return
	}
	changed := make([]string, 0, len(g.changed))
	for p := range g.changed {
		changed = append(changed, p)
	}
	sort.Strings(changed)
	clear(g.changed)
	g.state = StateRunning
	g.dirty = false
	g.timer = nil
	g.runs++
	spec := g.GlobGroup
	d.mu.Unlock()

	d.logger.Info("%s: running %v for %d changed file(s)", spec.Name, spec.Tasks, len(changed))

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := d.execute(ctx, spec, changed)
		select {
		case d.done <- completion{idx: f.idx, changed: changed, err: err}:
		case <-d.stop:
		}
	}()
}

func (d *Dispatcher) execute(ctx context.Context, g GlobGroup, changed []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("watch group %s panicked: %v", g.Name, r)
		}
	}()
	switch {
	case g.Action != nil:
		return g.Action(ctx, changed)
	case len(g.Tasks) > 0:
		return d.trigger(ctx, g, changed)
	}
	return nil
}

func (d *Dispatcher) handleDone(c completion) {
	d.mu.Lock()
	g := d.groups[c.idx]
	g.state = StateIdle
	reload := c.err == nil && g.LiveReload && d.reload != nil
	if g.dirty {
		g.dirty = false
		g.state = StatePending
		d.arm(c.idx, g)
	}
	name := g.Name
	d.mu.Unlock()

	switch {
	case errors.Is(c.err, context.Canceled):
		d.logger.Debug("%s run cancelled", name)
	case c.err != nil:
		d.logger.Warn("%s run failed: %v", name, c.err)
	}
	if reload {
		d.reload(c.changed)
	}
}
