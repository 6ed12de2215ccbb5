package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/taskforge/internal/logging"
)

// Options configures a run.
type Options struct {
	// Force continues past failing tasks and reports all failures at the end.
	Force bool
	// Env seeds the run environment overlay.
	Env map[string]string
	// Output receives user-facing task output. Nil discards it.
	Output io.Writer
}

// Listener observes task execution. Implementations must be fast; they are
// called on the runner goroutine.
type Listener interface {
	OnTaskStarted(run *Run, name string)
	OnTaskFinished(run *Run, outcome Outcome)
}

// Runner executes resolved task sequences.
type Runner struct {
	registry  *Registry
	logger    *logging.Logger
	listeners []Listener
	now       func() time.Time
}

// NewRunner creates a runner over registry.
func NewRunner(registry *Registry, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Runner{
		registry: registry,
		logger:   logger.WithComponent("runner"),
		now:      time.Now,
	}
}

// AddListener registers a listener for subsequent runs.
func (r *Runner) AddListener(l Listener) {
	r.listeners = append(r.listeners, l)
}

// Registry returns the registry the runner resolves against.
func (r *Runner) Registry() *Registry { return r.registry }

// Run resolves name and executes its atomic tasks in order on the calling
// goroutine.
//
// Registry errors are returned before any task runs, with a nil Result.
// Otherwise the Result holds one outcome per atomic task and the returned
// error is Result.Err(), or the context error when the run was cancelled.
// Without Force the first failure marks every remaining task skipped.
func (r *Runner) Run(ctx context.Context, name string, opts Options) (*Result, error) {
	sequence, err := r.registry.Resolve(name)
	if err != nil {
		return nil, err
	}

	run := newRun(uuid.NewString(), name, opts, r.logger.WithField("run", name))
	return r.execute(ctx, run, sequence)
}

// RunSequence executes an already resolved sequence within a fresh run.
// Names that are not atomic tasks fail with ErrUnknownTask.
func (r *Runner) RunSequence(ctx context.Context, label string, sequence []string, opts Options) (*Result, error) {
	for _, name := range sequence {
		def, ok := r.registry.Lookup(name)
		if !ok || def.kind != KindAtomic {
			return nil, &RegistryError{Kind: ErrUnknownTask, Task: name}
		}
	}
	run := newRun(uuid.NewString(), label, opts, r.logger.WithField("run", label))
	return r.execute(ctx, run, sequence)
}

func (r *Runner) execute(ctx context.Context, run *Run, sequence []string) (*Result, error) {
	start := r.now()
	result := &Result{
		RunID:    run.ID,
		Task:     run.Task,
		Outcomes: make([]Outcome, 0, len(sequence)),
	}

	r.logger.Debug("run %s: %s -> %v", run.ID, run.Task, sequence)

	aborted := false
	for _, name := range sequence {
		if aborted || ctx.Err() != nil {
			result.Outcomes = append(result.Outcomes, Outcome{Task: name, Status: StatusSkipped})
			continue
		}

		outcome := r.runOne(ctx, run, name)
		result.Outcomes = append(result.Outcomes, outcome)

		if outcome.Status == StatusFailed && !run.Force {
			aborted = true
		}
	}
	result.Duration = r.now().Sub(start)

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, result.Err()
}

func (r *Runner) runOne(ctx context.Context, run *Run, name string) (outcome Outcome) {
	def, _ := r.registry.Lookup(name)
	outcome.Task = name

	for _, l := range r.listeners {
		l.OnTaskStarted(run, name)
	}
	fmt.Fprintf(run.Output(), "Running %q task\n", name)

	start := r.now()
	err := r.invoke(ctx, run, name, def.action)
	outcome.Duration = r.now().Sub(start)

	switch {
	case err == nil:
		outcome.Status = StatusSucceeded
	case errors.Is(err, ErrSkipped):
		outcome.Status = StatusSkipped
		outcome.Err = err
		r.logger.Info("%s skipped: %v", name, err)
	default:
		outcome.Status = StatusFailed
		outcome.Err = err
		r.logger.Error("%s failed: %v", name, err)
	}

	for _, l := range r.listeners {
		l.OnTaskFinished(run, outcome)
	}
	return outcome
}

// invoke calls action, converting a panic into a failure.
func (r *Runner) invoke(ctx context.Context, run *Run, name string, action Action) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = Fail(name, fmt.Errorf("panic: %v", p))
		}
	}()
	if err := action(ctx, run); err != nil {
		if errors.Is(err, ErrSkipped) {
			return err
		}
		return Fail(name, err)
	}
	return nil
}
