package task

import (
	"time"
)

// Status is the outcome of one atomic task in a run.
type Status string

const (
	// StatusSucceeded indicates the action returned nil.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the action returned an error.
	StatusFailed Status = "failed"
	// StatusSkipped indicates the action did not run or declined to run.
	StatusSkipped Status = "skipped"
)

// Outcome records one atomic task of a run.
type Outcome struct {
	Task     string
	Status   Status
	Err      error
	Duration time.Duration
}

// Result is the report of a run.
type Result struct {
	// RunID identifies the run.
	RunID string
	// Task is the requested task name.
	Task string
	// Outcomes has one entry per resolved atomic task, in execution order.
	Outcomes []Outcome
	// Duration is the wall time of the whole run.
	Duration time.Duration
}

// Succeeded reports whether every atomic task succeeded.
func (r *Result) Succeeded() bool {
	if r == nil {
		return false
	}
	for _, o := range r.Outcomes {
		if o.Status != StatusSucceeded {
			return false
		}
	}
	return true
}

// Failures returns the failures in execution order.
func (r *Result) Failures() []*Failure {
	if r == nil {
		return nil
	}
	var failures []*Failure
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			failures = append(failures, Fail(o.Task, o.Err))
		}
	}
	return failures
}

// Skipped returns the names of the skipped tasks in execution order.
func (r *Result) Skipped() []string {
	if r == nil {
		return nil
	}
	var names []string
	for _, o := range r.Outcomes {
		if o.Status == StatusSkipped {
			names = append(names, o.Task)
		}
	}
	return names
}

// Outcome returns the outcome recorded for name.
func (r *Result) Outcome(name string) (Outcome, bool) {
	if r == nil {
		return Outcome{}, false
	}
	for _, o := range r.Outcomes {
		if o.Task == name {
			return o, true
		}
	}
	return Outcome{}, false
}

// Count returns the number of outcomes with status s.
func (r *Result) Count(s Status) int {
	if r == nil {
		return 0
	}
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Err returns a *RunError when any task failed, otherwise nil. Skipped
// tasks are not failures; see Incomplete.
func (r *Result) Err() error {
	failures := r.Failures()
	if len(failures) == 0 {
		return nil
	}
	return &RunError{Task: r.Task, Failures: failures}
}

// Incomplete returns an *IncompleteError naming the skipped tasks when the
// run had skips but no failures, otherwise nil. cause is recorded as the
// reason, typically the context error of a cancelled run.
func (r *Result) Incomplete(cause error) error {
	if r.Err() != nil {
		return nil
	}
	skipped := r.Skipped()
	if len(skipped) == 0 {
		return nil
	}
	return &IncompleteError{Task: r.Task, Skipped: skipped, Err: cause}
}
