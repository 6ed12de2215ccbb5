package workflow

import (
	"context"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/taskforge/internal/group"
	"github.com/dshills/taskforge/internal/livereload"
	"github.com/dshills/taskforge/internal/process"
	"github.com/dshills/taskforge/internal/task"
	"github.com/dshills/taskforge/internal/watcher"
)

// restartGroup is the watch group restarting the server.
const restartGroup = "server:restart"

func (w *Workflow) concurrentDev(ctx context.Context, run *task.Run) error {
	server := w.newServer(run, w.cfg.Server.DevArgs)
	members := []group.Member{server, w.watchMember(run, server.proc)}
	return group.RunAll(ctx, members, group.Options{
		Policy: group.KeepAlive,
		Limit:  w.cfg.Concurrent.Limit,
		Output: run.Output(),
		Logger: run.Logger(),
		OnFailure: func(member string, err error) {
			fmt.Fprintf(run.Output(), "%s stopped: %v\n", member, err)
		},
	})
}

func (w *Workflow) concurrentProd(ctx context.Context, run *task.Run) error {
	server := w.newServer(run, w.cfg.Server.ProdArgs)
	return group.RunAll(ctx, []group.Member{server}, group.Options{
		Policy: group.FailFast,
		Limit:  w.cfg.Concurrent.Limit,
		Output: run.Output(),
		Logger: run.Logger(),
	})
}

// serverMember runs the supervised application server inside a group.
type serverMember struct {
	proc *process.Supervised

	mu  sync.Mutex
	out io.Writer
}

func (w *Workflow) newServer(run *task.Run, args []string) *serverMember {
	sc := w.cfg.Server
	argv := append([]string(nil), args...)
	if sc.Script != "" {
		argv = append(argv, sc.Script)
	}

	m := &serverMember{}
	m.proc = process.NewSupervised(w.supervisor, process.Spec{
		Name:    "server",
		Command: sc.Command,
		Args:    argv,
		Dir:     w.cfg.Project.Root,
		Env:     task.MergeEnv(run.Environ(), sc.Env),
	}, process.Options{
		Backoff:     sc.Backoff.D(),
		MaxBackoff:  sc.MaxBackoff.D(),
		MaxRestarts: sc.MaxRestarts,
		StableAfter: sc.StableAfter.D(),
		Grace:       sc.Grace.D(),
		OnOutput:    m.write,
		OnRestart: func(generation int) {
			if w.cfg.LiveReload.Enabled {
				w.hub.Reload(nil)
			}
		},
		Logger: run.Logger(),
	})
	return m
}

func (m *serverMember) Name() string { return "server" }

func (m *serverMember) Run(ctx context.Context, out io.Writer, ready func()) error {
	m.mu.Lock()
	m.out = out
	m.mu.Unlock()
	return m.proc.Run(ctx, ready)
}

func (m *serverMember) write(ln process.Line) {
	m.mu.Lock()
	out := m.out
	m.mu.Unlock()
	if out != nil {
		fmt.Fprintln(out, ln.Text)
	}
}

// watchMember watches the project root, dispatching changes to the watch
// groups and serving live-reload notifications. Changes matching the server
// restart globs restart server.
func (w *Workflow) watchMember(run *task.Run, server *process.Supervised) group.Member {
	return group.Func("watch", func(ctx context.Context, out io.Writer, ready func()) error {
		root := w.cfg.Project.Root
		tree, err := watcher.NewTree(root, watcher.WithIgnorePatterns(w.cfg.Watch.Ignore))
		if err != nil {
			return err
		}
		defer tree.Close()

		var reload func([]string)
		if w.cfg.LiveReload.Enabled {
			reload = func(paths []string) { w.hub.Reload(paths) }
		}
		d, err := watcher.NewDispatcher(watcher.DispatcherConfig{
			Root:     tree.Root(),
			Groups:   w.watchGroups(server),
			Debounce: w.cfg.Watch.Debounce.D(),
			Trigger:  w.trigger(run, out),
			Reload:   reload,
			Logger:   run.Logger(),
		})
		if err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		lrReady := make(chan struct{})
		if w.cfg.LiveReload.Enabled {
			lr := livereload.NewServer(w.cfg.LiveReload.Addr, w.hub, run.Logger())
			g.Go(func() error {
				return lr.Run(gctx, out, func() { close(lrReady) })
			})
		} else {
			close(lrReady)
		}
		g.Go(func() error {
			select {
			case <-lrReady:
			case <-gctx.Done():
				return nil
			}
			fmt.Fprintf(out, "Watching %s (%d directories)\n", root, len(tree.Dirs()))
			return d.Run(gctx, tree, ready)
		})
		return g.Wait()
	})
}

// watchGroups converts the configured groups, adding the server restart
// group when restart globs are set.
func (w *Workflow) watchGroups(server *process.Supervised) []watcher.GlobGroup {
	groups := make([]watcher.GlobGroup, 0, len(w.cfg.Watch.Groups)+1)
	for _, g := range w.cfg.Watch.Groups {
		groups = append(groups, watcher.GlobGroup{
			Name:       g.Name,
			Patterns:   g.Files,
			Tasks:      g.Tasks,
			LiveReload: g.LiveReload,
			Debounce:   w.cfg.GroupDebounce(g),
		})
	}

	sc := w.cfg.Server
	if server != nil && len(sc.RestartOn) > 0 {
		patterns := append([]string(nil), sc.RestartOn...)
		for _, ig := range sc.Ignore {
			patterns = append(patterns, "!"+ig)
		}
		groups = append(groups, watcher.GlobGroup{
			Name:     restartGroup,
			Patterns: patterns,
			Debounce: sc.Debounce.D(),
			Action: func(ctx context.Context, changed []string) error {
				server.Restart()
				return nil
			},
		})
	}
	return groups
}

// trigger runs a watch group's task list as one fresh run. The run inherits
// the environment overlay of the run that started watching.
func (w *Workflow) trigger(parent *task.Run, out io.Writer) watcher.Trigger {
	return func(ctx context.Context, g watcher.GlobGroup, changed []string) error {
		sequence, err := w.resolveAll(g.Tasks)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, ">> %s changed: %v\n", g.Name, changed)
		_, err = w.runner.RunSequence(ctx, "watch:"+g.Name, sequence, task.Options{
			Force:  w.cfg.Watch.Force,
			Env:    parent.Env(),
			Output: out,
		})
		return err
	}
}

// resolveAll resolves names in order into one sequence in which every
// atomic task appears once.
func (w *Workflow) resolveAll(names []string) ([]string, error) {
	var sequence []string
	seen := make(map[string]bool)
	for _, name := range names {
		resolved, err := w.registry.Resolve(name)
		if err != nil {
			return nil, err
		}
		for _, t := range resolved {
			if !seen[t] {
				seen[t] = true
				sequence = append(sequence, t)
			}
		}
	}
	return sequence, nil
}
