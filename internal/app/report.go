package app

import (
	"fmt"
	"text/tabwriter"

	"github.com/dshills/taskforge/internal/task"
)

// report prints the failures and skips of res, with any problems the tools
// reported.
func (a *Application) report(res *task.Result) {
	failures := res.Failures()
	skipped := res.Count(task.StatusSkipped)
	if len(failures) == 0 && skipped == 0 {
		return
	}
	fmt.Fprintln(a.out)
	for _, f := range failures {
		fmt.Fprintf(a.out, "Warning: %v\n", f)
		for _, p := range f.Problems {
			fmt.Fprintf(a.out, "  %s\n", p)
		}
	}
	for _, o := range res.Outcomes {
		if o.Status != task.StatusSkipped {
			continue
		}
		if o.Err != nil {
			fmt.Fprintf(a.out, "Skipped: %s (%v)\n", o.Task, o.Err)
		} else {
			fmt.Fprintf(a.out, "Skipped: %s\n", o.Task)
		}
	}
	fmt.Fprintf(a.out, "%d of %d tasks failed, %d skipped", len(failures), len(res.Outcomes), skipped)
	if len(failures) > 0 && skipped > 0 && !a.force() {
		fmt.Fprint(a.out, " (use --force to continue past failures)")
	}
	fmt.Fprintln(a.out)
}

// TaskInfo describes a registered task.
type TaskInfo struct {
	Name        string
	Kind        task.Kind
	Description string
	Deps        []string
}

// Tasks lists the registered tasks by name.
func (a *Application) Tasks() []TaskInfo {
	reg := a.workflow.Registry()
	names := reg.Names()
	infos := make([]TaskInfo, 0, len(names))
	for _, name := range names {
		def, _ := reg.Lookup(name)
		infos = append(infos, TaskInfo{
			Name:        name,
			Kind:        def.Kind(),
			Description: def.Description(),
			Deps:        def.Deps(),
		})
	}
	return infos
}

// PrintTasks writes the task list as a table.
func (a *Application) PrintTasks() {
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	for _, t := range a.Tasks() {
		desc := t.Description
		if t.Kind == task.KindAlias {
			desc = fmt.Sprintf("%s %v", desc, t.Deps)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Name, t.Kind, desc)
	}
	_ = tw.Flush()
}

// Resolve returns the atomic tasks name runs, in order.
func (a *Application) Resolve(name string) ([]string, error) {
	return a.workflow.Registry().Resolve(name)
}
