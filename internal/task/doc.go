// Package task provides the named-task model of taskforge: a registry of
// atomic and alias tasks, a sequential runner, and an executor for the
// external tools that atomic tasks delegate to.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────────┐
//	│                         Registry                                 │
//	│  - Maps names to Atomic actions or Alias expansions             │
//	│  - Resolves a name into an ordered list of atomic tasks         │
//	│  - Detects unknown names and dependency cycles                  │
//	└─────────────────────────────────────────────────────────────────┘
//	                              │
//	                              ▼
//	┌─────────────────────────────────────────────────────────────────┐
//	│                          Runner                                  │
//	│  - Runs the resolved sequence strictly in order                 │
//	│  - Aborts on first failure, or continues in force mode          │
//	│  - Records an outcome per atomic task                           │
//	└─────────────────────────────────────────────────────────────────┘
//	                              │
//	                              ▼
//	┌─────────────────────────────────────────────────────────────────┐
//	│                         Executor                                 │
//	│  - Runs linters, test runners and scripts as child processes    │
//	│  - Streams output line by line                                  │
//	│  - Applies problem matchers to extract file/line/column         │
//	└─────────────────────────────────────────────────────────────────┘
//
// # Resolution
//
// Resolution is a depth-first expansion of aliases. Each atomic task appears
// once, at its first occurrence:
//
//	reg.Register("lint", task.Alias("", "jshint", "csslint"))
//	reg.Register("build", task.Alias("", "lint", "concat", "jshint"))
//	reg.Resolve("build") // [jshint csslint concat]
//
// Expanding a name that is still on the expansion stack is a cycle and
// fails with ErrCyclicDependency.
//
// # Running
//
//	runner := task.NewRunner(reg, logger)
//	result, err := runner.Run(ctx, "build", task.Options{Force: false})
//
// Atomic actions receive a *Run carrying the run identity, an environment
// overlay and a value store for run-scoped state such as the loaded asset
// manifest. Nothing is shared between runs.
package task
