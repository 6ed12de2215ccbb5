package app

import (
	"time"

	"github.com/dshills/taskforge/internal/logging"
	"github.com/dshills/taskforge/internal/task"
)

// progress logs each atomic task as the runner starts and finishes it.
type progress struct {
	logger *logging.Logger
}

func newProgress(logger *logging.Logger) *progress {
	return &progress{logger: logger.WithComponent("progress")}
}

func (p *progress) OnTaskStarted(run *task.Run, name string) {
	p.logger.Debug("%s: %s started", run.Task, name)
}

func (p *progress) OnTaskFinished(run *task.Run, outcome task.Outcome) {
	if outcome.Status == task.StatusSucceeded {
		p.logger.Info("%s: %s %s in %s", run.Task, outcome.Task, outcome.Status, outcome.Duration.Round(time.Millisecond))
		return
	}
	p.logger.Debug("%s: %s %s after %s", run.Task, outcome.Task, outcome.Status, outcome.Duration.Round(time.Millisecond))
}
