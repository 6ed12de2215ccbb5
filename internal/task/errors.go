package task

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds.
var (
	// ErrUnknownTask indicates a referenced task name is not registered.
	ErrUnknownTask = errors.New("unknown task")

	// ErrCyclicDependency indicates alias expansion revisited a task that
	// is still being expanded.
	ErrCyclicDependency = errors.New("cyclic task dependency")

	// ErrDuplicateTask indicates a name was registered twice.
	ErrDuplicateTask = errors.New("duplicate task")

	// ErrInvalidTask indicates a malformed definition.
	ErrInvalidTask = errors.New("invalid task definition")

	// ErrTaskFailed indicates an atomic task failed.
	ErrTaskFailed = errors.New("task failed")

	// ErrSkipped is returned by an atomic action that declined to run
	// because a stage it depends on did not succeed in this run.
	ErrSkipped = errors.New("task skipped")
)

// RegistryError describes a registration or resolution failure.
type RegistryError struct {
	// Kind is one of ErrUnknownTask, ErrCyclicDependency, ErrDuplicateTask
	// or ErrInvalidTask.
	Kind error
	// Task is the offending task name.
	Task string
	// Path is the expansion path leading to the failure. For cycles it
	// starts and ends with the repeated name.
	Path []string
}

func (e *RegistryError) Error() string {
	switch {
	case errors.Is(e.Kind, ErrCyclicDependency):
		return fmt.Sprintf("%s: %s", e.Kind, strings.Join(e.Path, " -> "))
	case len(e.Path) > 1:
		return fmt.Sprintf("%s %q (via %s)", e.Kind, e.Task, strings.Join(e.Path[:len(e.Path)-1], " -> "))
	default:
		return fmt.Sprintf("%s %q", e.Kind, e.Task)
	}
}

func (e *RegistryError) Unwrap() error { return e.Kind }

// Failure describes a failed atomic task.
type Failure struct {
	Task     string
	Err      error
	Problems []Problem
}

func (e *Failure) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Task, ErrTaskFailed)
	}
	return fmt.Sprintf("%s: %v", e.Task, e.Err)
}

// Is reports ErrTaskFailed as the error kind.
func (e *Failure) Is(target error) bool { return target == ErrTaskFailed }

func (e *Failure) Unwrap() error { return e.Err }

// Fail wraps err as a Failure of name, keeping any problems already
// attached to a nested Failure.
func Fail(name string, err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return &Failure{Task: name, Err: f.Err, Problems: f.Problems}
	}
	return &Failure{Task: name, Err: err}
}

// RunError aggregates the failures of a run.
type RunError struct {
	Task     string
	Failures []*Failure
}

func (e *RunError) Error() string {
	if len(e.Failures) == 1 {
		return fmt.Sprintf("task %q failed: %v", e.Task, e.Failures[0])
	}
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f.Task
	}
	return fmt.Sprintf("task %q: %d tasks failed: %s", e.Task, len(e.Failures), strings.Join(names, ", "))
}

// Is reports ErrTaskFailed as the error kind.
func (e *RunError) Is(target error) bool { return target == ErrTaskFailed }

// Unwrap returns the individual failures.
func (e *RunError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// IncompleteError reports a run in which nothing failed but some tasks
// were skipped.
type IncompleteError struct {
	Task    string
	Skipped []string
	// Err is why the run stopped early, if it did.
	Err error
}

func (e *IncompleteError) Error() string {
	msg := fmt.Sprintf("task %q incomplete: skipped %s", e.Task, strings.Join(e.Skipped, ", "))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports ErrSkipped as the error kind.
func (e *IncompleteError) Is(target error) bool { return target == ErrSkipped }

func (e *IncompleteError) Unwrap() error { return e.Err }
