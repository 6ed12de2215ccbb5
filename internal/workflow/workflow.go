// Package workflow registers the stock build tasks (lint, build, serve,
// watch, test) against the task registry, wiring each atomic task to the
// pipeline, the command executor or the process supervisor.
package workflow

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/dshills/taskforge/internal/config"
	"github.com/dshills/taskforge/internal/livereload"
	"github.com/dshills/taskforge/internal/logging"
	"github.com/dshills/taskforge/internal/manifest"
	"github.com/dshills/taskforge/internal/pipeline"
	"github.com/dshills/taskforge/internal/process"
	"github.com/dshills/taskforge/internal/task"
)

// ManifestKey is the task.Run value key holding the loaded
// *manifest.AssetManifest.
const ManifestKey = "workflow.manifest"

// Options configure a Workflow.
type Options struct {
	Config *config.Config
	Logger *logging.Logger
	// LookupEnv reads the process environment; nil uses os.LookupEnv.
	LookupEnv func(string) (string, bool)
	// Supervisor tracks the application server; nil creates one.
	Supervisor *process.Supervisor
}

// Workflow owns the registry of a project and the services its tasks use.
type Workflow struct {
	cfg       *config.Config
	logger    *logging.Logger
	lookupEnv func(string) (string, bool)

	registry   *task.Registry
	runner     *task.Runner
	executor   *task.Executor
	manifests  *manifest.Loader
	supervisor *process.Supervisor
	hub        *livereload.Hub
}

// New builds the registry for cfg. It fails when a configured task or alias
// collides with a builtin or another entry.
func New(opts Options) (*Workflow, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("workflow: nil config")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	sup := opts.Supervisor
	if sup == nil {
		sup = process.NewSupervisor()
	}

	cfg := opts.Config
	execCfg := task.DefaultExecutorConfig()
	execCfg.WorkingDir = cfg.Project.Root
	execCfg.GracePeriod = cfg.Server.Grace.D()

	w := &Workflow{
		cfg:        cfg,
		logger:     logger.WithComponent("workflow"),
		lookupEnv:  lookup,
		registry:   task.NewRegistry(),
		executor:   task.NewExecutor(execCfg, logger),
		manifests:  manifest.NewLoader(cfg.Project.Root, cfg.Project.Manifest),
		supervisor: sup,
		hub:        livereload.NewHub(logger),
	}
	w.runner = task.NewRunner(w.registry, logger)

	if err := w.register(); err != nil {
		return nil, err
	}
	return w, nil
}

// Registry returns the task registry.
func (w *Workflow) Registry() *task.Registry { return w.registry }

// Runner returns the runner executing registry tasks.
func (w *Workflow) Runner() *task.Runner { return w.runner }

// Hub returns the live-reload hub.
func (w *Workflow) Hub() *livereload.Hub { return w.hub }

// Supervisor returns the process supervisor.
func (w *Workflow) Supervisor() *process.Supervisor { return w.supervisor }

// Mode returns the deployment mode the default task expands to.
func (w *Workflow) Mode() string {
	return w.cfg.Mode(w.lookupEnv)
}

func (w *Workflow) register() error {
	builtins := []struct {
		name string
		def  task.Definition
	}{
		{"development", task.Alias("Lints, builds and serves with file watching", "lint", "build:dev", "concurrent:dev")},
		{"production", task.Alias("Lints, builds minified assets and serves", "lint", "build:prod", "concurrent:prod")},
		{"test", task.Alias("Runs the unit tests", "env:test", "karma:unit")},
		{"lint", task.Alias("Lints JavaScript and CSS", "jshint", "csslint")},
		{"build:dev", task.Alias("Builds the development bundle", "loadConfig", "concat:dev", "ngAnnotate:dev", "cssmin")},
		{"build:prod", task.Alias("Builds the production bundle", "loadConfig", "concat:prod", "ngAnnotate:prod", "uglify", "cssmin")},

		{"jshint", task.Atomic("Lints JavaScript sources", w.command("jshint", w.cfg.Lint.JS))},
		{"csslint", task.Atomic("Lints stylesheets", w.command("csslint", w.cfg.Lint.CSS))},
		{"loadConfig", task.Atomic("Loads the asset manifest for the deployment mode", w.loadConfig)},
		{"concat:dev", task.Atomic("Concatenates scripts with an inline source map", w.concat(pipeline.ModeDev))},
		{"concat:prod", task.Atomic("Concatenates scripts", w.concat(pipeline.ModeProd))},
		{"ngAnnotate:dev", task.Atomic("Annotates the development bundle", w.annotate)},
		{"ngAnnotate:prod", task.Atomic("Annotates the production bundle", w.annotate)},
		{"uglify", task.Atomic("Minifies the annotated bundle", w.minify)},
		{"cssmin", task.Atomic("Combines and minifies stylesheets", w.cssmin)},
		{"concurrent:dev", task.Atomic("Serves the application and watches for changes", w.concurrentDev)},
		{"concurrent:prod", task.Atomic("Serves the application", w.concurrentProd)},
		{"env:test", task.Atomic("Switches the rest of the run to the test environment", w.envTest)},
		{"karma:unit", task.Atomic("Runs the unit test runner", w.command("karma:unit", w.cfg.Test.Runner))},
	}
	for _, b := range builtins {
		if err := w.registry.Register(b.name, b.def); err != nil {
			return err
		}
	}

	for _, t := range w.cfg.Tasks {
		desc := t.Description
		if desc == "" {
			desc = "Runs " + t.Command
		}
		if err := w.registry.Register(t.Name, task.Atomic(desc, w.command(t.Name, t.CommandConfig))); err != nil {
			return err
		}
	}

	names := make([]string, 0, len(w.cfg.Aliases))
	for name := range w.cfg.Aliases {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		a := w.cfg.Aliases[name]
		if err := w.registry.Register(name, task.Alias(a.Description, a.Tasks...)); err != nil {
			return err
		}
	}

	mode := w.Mode()
	if _, ok := w.registry.Lookup(mode); !ok {
		w.logger.Warn("no task named after mode %q, default runs %s", mode, config.ModeDevelopment)
		mode = config.ModeDevelopment
	}
	return w.registry.Register("default", task.Alias("Runs the task named by the deployment mode", mode))
}

// runMode is the deployment mode as seen by run, whose environment overlay
// takes precedence over the process environment.
func (w *Workflow) runMode(run *task.Run) string {
	overlay := run.Env()
	return w.cfg.Mode(func(key string) (string, bool) {
		if v, ok := overlay[key]; ok {
			return v, true
		}
		return w.lookupEnv(key)
	})
}

func (w *Workflow) loadConfig(ctx context.Context, run *task.Run) error {
	env := w.runMode(run)
	m, err := w.manifests.Load(env)
	if err != nil {
		return err
	}
	run.SetValue(ManifestKey, m)
	fmt.Fprintf(run.Output(), "Loaded %s assets: %d js, %d css\n", env, len(m.JS()), len(m.CSS()))
	return nil
}

// manifestFor returns the manifest loaded earlier in run.
func manifestFor(run *task.Run) (*manifest.AssetManifest, error) {
	if v, ok := run.Value(ManifestKey); ok {
		if m, ok := v.(*manifest.AssetManifest); ok {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: asset manifest not loaded", task.ErrSkipped)
}

// pipelineFor builds a pipeline whose tool output goes to the run.
func (w *Workflow) pipelineFor(run *task.Run) *pipeline.Pipeline {
	var annotator pipeline.Annotator
	if a := w.cfg.Annotate; a.Command != "" {
		annotator = &pipeline.CommandAnnotator{
			Executor: w.executor,
			Command:  a.Command,
			Args:     a.Args,
			Dir:      w.cfg.Project.Root,
			Matcher:  a.Matcher,
			Output:   run.Output(),
		}
	}
	return pipeline.New(pipeline.Config{
		Root:      w.cfg.Project.Root,
		JS:        w.cfg.Output.JS,
		JSMin:     w.cfg.Output.JSMin,
		CSS:       w.cfg.Output.CSS,
		Separator: w.cfg.Concat.Separator,
	}, annotator, pipeline.NewMinifier(w.cfg.Minify.Kind), run.Logger())
}

func (w *Workflow) concat(mode pipeline.Mode) task.Action {
	return func(ctx context.Context, run *task.Run) error {
		m, err := manifestFor(run)
		if err != nil {
			return err
		}
		return w.pipelineFor(run).Concat(ctx, pipeline.SessionFor(run), m, mode)
	}
}

func (w *Workflow) annotate(ctx context.Context, run *task.Run) error {
	return w.pipelineFor(run).Annotate(ctx, pipeline.SessionFor(run))
}

func (w *Workflow) minify(ctx context.Context, run *task.Run) error {
	s := pipeline.SessionFor(run)
	if err := w.pipelineFor(run).Minify(ctx, s); err != nil {
		return err
	}
	fmt.Fprintf(run.Output(), "File %s created: %d -> %d bytes\n", w.cfg.Output.JSMin, len(s.Annotated()), len(s.Minified()))
	return nil
}

func (w *Workflow) cssmin(ctx context.Context, run *task.Run) error {
	m, err := manifestFor(run)
	if err != nil {
		return err
	}
	return w.pipelineFor(run).CSS(ctx, pipeline.SessionFor(run), m)
}

func (w *Workflow) envTest(ctx context.Context, run *task.Run) error {
	keys := make([]string, 0, len(w.cfg.Test.Env))
	for k := range w.cfg.Test.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		run.Setenv(k, w.cfg.Test.Env[k])
		run.Logger().Debug("env %s=%s", k, w.cfg.Test.Env[k])
	}
	return nil
}
