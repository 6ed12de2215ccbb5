package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/taskforge/internal/app"
)

type globalFlags struct {
	configPath string
	workspace  string
	logLevel   string
	logFile    string
	env        string
	force      bool
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "taskforge [tasks...]",
		Short: "Builds, lints, serves and watches a web project",
		Long: `taskforge runs named build tasks in order. Without arguments it runs
"default", which expands to the task named by the deployment mode
($NODE_ENV, falling back to development).`,
		Example: `  taskforge                 Lint, build and serve with file watching
  taskforge build:prod      Build minified assets
  taskforge --force lint    Run every linter even if one fails
  taskforge -e test test    Run the unit tests`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasks(cmd, flags, args)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Path to configuration file")
	pf.StringVarP(&flags.workspace, "workspace", "w", "", "Project directory")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&flags.logFile, "log-file", "", "Write logs to a rotated file")
	pf.StringVarP(&flags.env, "env", "e", "", "Deployment mode (overrides $NODE_ENV)")
	root.Flags().BoolVarP(&flags.force, "force", "f", false, "Continue past failing tasks")

	root.AddCommand(
		newListCommand(flags),
		newResolveCommand(flags),
		newVersionCommand(),
	)
	return root
}

func (f *globalFlags) options(cmd *cobra.Command) (app.Options, error) {
	switch strings.ToLower(f.logLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return app.Options{}, fmt.Errorf("invalid log level %q", f.logLevel)
	}

	opts := app.Options{
		ConfigPath:    f.configPath,
		WorkspacePath: f.workspace,
		LogLevel:      f.logLevel,
		LogFile:       f.logFile,
		Env:           f.env,
		Output:        cmd.OutOrStdout(),
		LogOutput:     cmd.ErrOrStderr(),
	}
	if fl := cmd.Flags().Lookup("force"); fl != nil && fl.Changed {
		force := f.force
		opts.Force = &force
	}
	return opts, nil
}

func newApplication(cmd *cobra.Command, flags *globalFlags) (*app.Application, error) {
	opts, err := flags.options(cmd)
	if err != nil {
		return nil, err
	}
	return app.New(opts)
}

func runTasks(cmd *cobra.Command, flags *globalFlags, tasks []string) error {
	application, err := newApplication(cmd, flags)
	if err != nil {
		return err
	}
	defer application.Shutdown()
	return application.Run(cmd.Context(), tasks...)
}

func newListCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApplication(cmd, flags)
			if err != nil {
				return err
			}
			defer application.Shutdown()
			application.PrintTasks()
			return nil
		},
	}
}

func newResolveCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <task>",
		Short: "Print the atomic tasks a task expands to, in run order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApplication(cmd, flags)
			if err != nil {
				return err
			}
			defer application.Shutdown()
			seq, err := application.Resolve(args[0])
			if err != nil {
				return err
			}
			for _, name := range seq {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "taskforge %s\nCommit: %s\nBuilt: %s\n", version, commit, date)
		},
	}
}
