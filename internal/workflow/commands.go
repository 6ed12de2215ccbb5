package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dshills/taskforge/internal/config"
	"github.com/dshills/taskforge/internal/manifest"
	"github.com/dshills/taskforge/internal/task"
)

// command returns an action running an external tool. Configured file
// patterns are expanded against the project root and appended to the
// arguments; a tool whose patterns match nothing is not run.
func (w *Workflow) command(name string, cc config.CommandConfig) task.Action {
	return func(ctx context.Context, run *task.Run) error {
		if cc.Command == "" {
			return fmt.Errorf("no command configured")
		}

		args := append([]string(nil), cc.Args...)
		if len(cc.Files) > 0 {
			files, err := manifest.Expand(os.DirFS(w.cfg.Project.Root), cc.Files)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				fmt.Fprintf(run.Output(), "No files matched, %s not run\n", name)
				return nil
			}
			args = append(args, files...)
		}

		env := run.Env()
		for k, v := range cc.Env {
			env[k] = v
		}

		ex, err := w.executor.Run(ctx, task.Command{
			Name:    name,
			Path:    cc.Command,
			Args:    args,
			Dir:     w.dir(cc.Dir),
			Env:     env,
			Matcher: cc.Matcher,
		}, run.Output())
		if ex != nil {
			run.Logger().Debug("%s exited %d after %s", name, ex.ExitCode, ex.Duration())
			for _, p := range ex.Problems {
				run.Logger().Info("%s", p)
			}
		}
		return err
	}
}

// dir resolves a configured directory against the project root.
func (w *Workflow) dir(d string) string {
	switch {
	case d == "":
		return w.cfg.Project.Root
	case filepath.IsAbs(d):
		return d
	default:
		return filepath.Join(w.cfg.Project.Root, d)
	}
}
