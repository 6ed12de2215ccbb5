package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/dshills/taskforge/internal/config"
	"github.com/dshills/taskforge/internal/logging"
	"github.com/dshills/taskforge/internal/task"
	"github.com/dshills/taskforge/internal/workflow"
)

// Options configures the application.
type Options struct {
	// ConfigPath is the configuration file; empty searches the workspace.
	ConfigPath string

	// WorkspacePath is the project directory; empty uses the current one.
	WorkspacePath string

	// LogLevel and LogFile override the configured logging.
	LogLevel string
	LogFile  string

	// Force overrides runner.force when set.
	Force *bool

	// Env overrides the deployment mode variable.
	Env string

	// Output receives task output. Defaults to os.Stdout.
	Output io.Writer

	// LogOutput receives log lines when no log file is set. Defaults to
	// os.Stderr.
	LogOutput io.Writer
}

// Application is a loaded project ready to run tasks.
type Application struct {
	opts     Options
	cfg      *config.Config
	logger   *logging.Logger
	workflow *workflow.Workflow
	out      io.Writer

	running      atomic.Bool
	shutdown     atomic.Bool
	shutdownOnce sync.Once
}

// New loads the project configuration and builds the task registry. The
// registry is validated, so unknown task references and alias cycles are
// reported before anything runs.
func New(opts Options) (*Application, error) {
	workspace := opts.WorkspacePath
	if workspace == "" {
		workspace = "."
	}
	workspace, err := filepath.Abs(workspace)
	if err != nil {
		return nil, &ComponentError{Component: "workspace", Err: err}
	}

	cfg, err := config.Load(workspace, opts.ConfigPath)
	if err != nil {
		return nil, &ComponentError{Component: "config", Err: err}
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if opts.LogFile != "" {
		cfg.Logging.File = opts.LogFile
	}

	logOut := opts.LogOutput
	if logOut == nil {
		logOut = os.Stderr
	}
	logger := logging.New(logging.Config{
		Level:      logging.ParseLevel(cfg.Logging.Level),
		Output:     logOut,
		File:       cfg.Resolve(cfg.Logging.File),
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Name:       "taskforge",
		Color:      true,
	})

	wf, err := workflow.New(workflow.Options{
		Config:    cfg,
		Logger:    logger,
		LookupEnv: envLookup(cfg, opts.Env),
	})
	if err != nil {
		return nil, &ComponentError{Component: "workflow", Err: err}
	}
	if err := wf.Registry().Validate(); err != nil {
		return nil, &ComponentError{Component: "registry", Err: err}
	}
	wf.Runner().AddListener(newProgress(logger))

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	logger.Debug("workspace %s, mode %s", cfg.Project.Root, wf.Mode())
	return &Application{
		opts:     opts,
		cfg:      cfg,
		logger:   logger,
		workflow: wf,
		out:      out,
	}, nil
}

// envLookup reads the process environment, answering the mode variable
// with override when one is given.
func envLookup(cfg *config.Config, override string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if override != "" && key == cfg.Env.Variable {
			return override, true
		}
		return os.LookupEnv(key)
	}
}

// Config returns the loaded configuration.
func (a *Application) Config() *config.Config { return a.cfg }

// Logger returns the application logger.
func (a *Application) Logger() *logging.Logger { return a.logger }

// Workflow returns the task workflow.
func (a *Application) Workflow() *workflow.Workflow { return a.workflow }

// Run executes the named tasks one after another; no names runs "default".
//
// Without force the first failing or incomplete task ends the run. With
// force every task runs and the errors are returned together. A run whose
// tasks were skipped returns an error matching task.ErrSkipped. Cancelling
// ctx is only a clean exit when it ends a long-running task (Ctrl-C while
// serving) and nothing was skipped.
func (a *Application) Run(ctx context.Context, names ...string) error {
	if a.shutdown.Load() {
		return ErrShutdown
	}
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer a.running.Store(false)

	if len(names) == 0 {
		names = []string{"default"}
	}

	opts := task.Options{
		Force:  a.force(),
		Output: a.out,
	}
	if a.opts.Env != "" {
		opts.Env = map[string]string{a.cfg.Env.Variable: a.opts.Env}
	}

	var errs []error
	for _, name := range names {
		res, err := a.workflow.Runner().Run(ctx, name, opts)
		if res != nil {
			a.report(res)
			err = a.runErr(ctx, res)
		}
		if err == nil {
			if ctx.Err() != nil {
				a.logger.Info("%s interrupted", name)
				return nil
			}
			continue
		}
		if ctx.Err() != nil || !opts.Force {
			return err
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		fmt.Fprintln(a.out, "\nDone, without errors.")
	}
	return errors.Join(errs...)
}

// runErr is the error of one completed run: its failures, else the tasks it
// skipped, else nil.
func (a *Application) runErr(ctx context.Context, res *task.Result) error {
	if res.Succeeded() {
		return nil
	}
	if err := res.Err(); err != nil {
		return err
	}
	return res.Incomplete(ctx.Err())
}

func (a *Application) force() bool {
	if a.opts.Force != nil {
		return *a.opts.Force
	}
	return a.cfg.Runner.Force
}

// Shutdown stops supervised processes and flushes the log. It is safe to
// call more than once.
func (a *Application) Shutdown() {
	a.shutdownOnce.Do(func() {
		a.shutdown.Store(true)
		a.workflow.Supervisor().Shutdown(a.cfg.Server.Grace.D())
		_ = a.logger.Sync()
	})
}
