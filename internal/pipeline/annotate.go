package pipeline

import (
	"context"
	"errors"
	"io"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/js"

	"github.com/dshills/taskforge/internal/task"
)

// Annotator rewrites an application bundle so dependency injection survives
// minification. Failures should be a *task.Failure whose problems carry
// positions in src; the pipeline maps them back to source files.
type Annotator interface {
	Annotate(ctx context.Context, src []byte) ([]byte, error)
}

// SyntaxAnnotator validates the bundle with a JavaScript parser and passes
// it through unchanged. It is used when no annotate command is configured.
type SyntaxAnnotator struct{}

// Annotate implements Annotator.
func (SyntaxAnnotator) Annotate(ctx context.Context, src []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The parser may write a terminator past the end of its input.
	in := parse.NewInputBytes(append([]byte(nil), src...))
	if _, err := js.Parse(in, js.Options{}); err != nil {
		var perr *parse.Error
		if errors.As(err, &perr) {
			return nil, &task.Failure{
				Task: "annotate",
				Err:  errors.New(perr.Message),
				Problems: []task.Problem{{
					Line:     perr.Line,
					Column:   perr.Column,
					Severity: task.SeverityError,
					Message:  perr.Message,
					Source:   "syntax",
				}},
			}
		}
		return nil, err
	}
	return src, nil
}

// CommandAnnotator pipes the bundle through an external tool that reads
// stdin and writes the annotated bundle to stdout, such as
// "ng-annotate -a -".
type CommandAnnotator struct {
	Executor *task.Executor
	Command  string
	Args     []string
	Dir      string
	Matcher  string
	// Output receives the tool's diagnostics.
	Output io.Writer
}

// Annotate implements Annotator.
func (a *CommandAnnotator) Annotate(ctx context.Context, src []byte) ([]byte, error) {
	ex, err := a.Executor.Run(ctx, task.Command{
		Name:          "annotate",
		Path:          a.Command,
		Args:          a.Args,
		Dir:           a.Dir,
		Stdin:         src,
		Matcher:       a.Matcher,
		CaptureStdout: true,
	}, a.Output)
	if err != nil {
		return nil, err
	}
	return ex.Stdout, nil
}
