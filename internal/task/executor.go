package task

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	osexec "os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/dshills/taskforge/internal/logging"
)

// ExecutorConfig configures the command executor.
type ExecutorConfig struct {
	// WorkingDir is the default working directory.
	WorkingDir string

	// DefaultEnv are environment variables added to every command.
	DefaultEnv map[string]string

	// OutputBufferSize is the longest output line accepted, in bytes.
	OutputBufferSize int

	// KeepLines is how many output lines an Execution retains.
	KeepLines int

	// MaxConcurrent is the maximum number of commands running at once.
	MaxConcurrent int

	// GracePeriod is how long a cancelled command may take to exit after
	// SIGTERM before it is killed.
	GracePeriod time.Duration
}

// DefaultExecutorConfig returns sensible defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		OutputBufferSize: 64 * 1024, // 64KB
		KeepLines:        200,
		MaxConcurrent:    4,
		GracePeriod:      5 * time.Second,
	}
}

// Command is an external tool invocation.
type Command struct {
	// Name labels the command in errors and logs.
	Name string
	// Path is the program to run, resolved through PATH.
	Path string
	// Args are the program arguments.
	Args []string
	// Dir overrides the executor working directory.
	Dir string
	// Env overrides the environment. It takes precedence over the
	// executor defaults and the process environment.
	Env map[string]string
	// Stdin is written to the command's standard input.
	Stdin []byte
	// Matcher names the problem matcher applied to every output line.
	Matcher string
	// CaptureStdout keeps stdout verbatim in Execution.Stdout instead of
	// streaming it line by line.
	CaptureStdout bool
}

// String returns the command line.
func (c Command) String() string {
	s := c.Path
	for _, a := range c.Args {
		s += " " + shellEscape(a)
	}
	return s
}

// Execution is a completed command.
type Execution struct {
	// ID is a unique identifier for this execution.
	ID string

	// Command is the command that ran.
	Command Command

	// StartTime is when the process started.
	StartTime time.Time

	// EndTime is when the process exited.
	EndTime time.Time

	// ExitCode is the process exit code (-1 if it never ran or was signaled).
	ExitCode int

	// Stdout holds standard output when Command.CaptureStdout was set.
	Stdout []byte

	// Problems are the problems matched in the output.
	Problems []Problem

	output *Transcript
}

// Duration returns the execution duration.
func (ex *Execution) Duration() time.Duration {
	if ex.StartTime.IsZero() || ex.EndTime.IsZero() {
		return 0
	}
	return ex.EndTime.Sub(ex.StartTime)
}

// Executor runs external commands for atomic tasks.
type Executor struct {
	config ExecutorConfig
	logger *logging.Logger

	// sem limits concurrent executions.
	sem chan struct{}
}

// NewExecutor creates a new command executor.
func NewExecutor(config ExecutorConfig, logger *logging.Logger) *Executor {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	if config.GracePeriod <= 0 {
		config.GracePeriod = 5 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Executor{
		config: config,
		logger: logger.WithComponent("executor"),
		sem:    make(chan struct{}, config.MaxConcurrent),
	}
}

// Run executes cmd and waits for it to exit, streaming output lines to out.
//
// A non-zero exit, a failure to start, or cancellation returns a *Failure
// carrying the matched problems. The Execution is returned in every case
// where the command was attempted.
func (e *Executor) Run(ctx context.Context, cmd Command, out io.Writer) (*Execution, error) {
	if cmd.Path == "" {
		return nil, &Failure{Task: cmd.Name, Err: errors.New("empty command")}
	}
	var matcher *Matcher
	if cmd.Matcher != "" {
		if matcher = LookupMatcher(cmd.Matcher); matcher == nil {
			return nil, &Failure{Task: cmd.Name, Err: fmt.Errorf("unknown problem matcher %q", cmd.Matcher)}
		}
	}
	if out == nil {
		out = io.Discard
	}

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return nil, &Failure{Task: cmd.Name, Err: ctx.Err()}
	}

	exec := &Execution{
		ID:       uuid.NewString(),
		Command:  cmd,
		ExitCode: -1,
		output:   NewTranscript(e.config.OutputBufferSize, e.config.KeepLines),
	}

	c := e.buildCommand(ctx, cmd)
	stdout, err := c.StdoutPipe()
	if err != nil {
		return exec, &Failure{Task: cmd.Name, Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	stderr, err := c.StderrPipe()
	if err != nil {
		return exec, &Failure{Task: cmd.Name, Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	var (
		outMu    sync.Mutex
		problems []Problem
	)
	emit := func(line OutputLine) {
		outMu.Lock()
		defer outMu.Unlock()
		fmt.Fprintln(out, line.Text)
		if matcher != nil {
			if p, ok := matcher.Match(line.Text); ok {
				problems = append(problems, p)
			}
		}
	}

	e.logger.Debug("exec %s: %s", exec.ID, cmd)
	exec.StartTime = time.Now()
	if err := c.Start(); err != nil {
		exec.EndTime = time.Now()
		return exec, &Failure{Task: cmd.Name, Err: fmt.Errorf("start %s: %w", cmd.Path, err)}
	}

	var captured bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if cmd.CaptureStdout {
			_, _ = io.Copy(&captured, stdout)
			return
		}
		e.drain(exec, stdout, Stdout, emit)
	}()
	go func() {
		defer wg.Done()
		e.drain(exec, stderr, Stderr, emit)
	}()

	// Pipes must be drained before Wait closes them.
	wg.Wait()
	err = c.Wait()
	exec.EndTime = time.Now()
	exec.Problems = problems
	if cmd.CaptureStdout {
		exec.Stdout = captured.Bytes()
	}

	if c.ProcessState != nil {
		exec.ExitCode = c.ProcessState.ExitCode()
	}

	switch {
	case ctx.Err() != nil:
		return exec, &Failure{Task: cmd.Name, Err: ctx.Err(), Problems: problems}
	case err != nil:
		var exitErr *osexec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
			err = fmt.Errorf("%s exited with code %d", cmd.Path, exitErr.ExitCode())
			if last := lastLine(exec.output.Text(Stderr)); last != "" && len(problems) == 0 {
				err = fmt.Errorf("%w: %s", err, last)
			}
		}
		return exec, &Failure{Task: cmd.Name, Err: err, Problems: problems}
	}
	return exec, nil
}

func (e *Executor) drain(exec *Execution, r io.Reader, stream Stream, emit func(OutputLine)) {
	if err := exec.output.Scan(r, stream, emit); err != nil {
		e.logger.Warn("exec %s: %s: %v", exec.ID, stream, err)
		// Keep the pipe flowing so the child does not block.
		_, _ = io.Copy(io.Discard, r)
	}
}

func lastLine(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.LastIndexByte(text, '\n'); i >= 0 {
		return text[i+1:]
	}
	return text
}

// buildCommand creates the osexec.Cmd for cmd.
func (e *Executor) buildCommand(ctx context.Context, cmd Command) *osexec.Cmd {
	c := osexec.CommandContext(ctx, cmd.Path, cmd.Args...)

	dir := cmd.Dir
	if dir == "" {
		dir = e.config.WorkingDir
	}
	c.Dir = dir

	// Precedence (highest to lowest): cmd.Env > DefaultEnv > os.Environ()
	c.Env = MergeEnv(os.Environ(), e.config.DefaultEnv, cmd.Env)

	if cmd.Stdin != nil {
		c.Stdin = bytes.NewReader(cmd.Stdin)
	}

	// Own process group so the whole tree is signalled on cancel.
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		return unix.Kill(-c.Process.Pid, unix.SIGTERM)
	}
	c.WaitDelay = e.config.GracePeriod

	return c
}

// shellEscape quotes s for display in a command line.
func shellEscape(s string) string {
	if s == "" {
		return "''"
	}

	needsEscape := false
	for _, c := range s {
		if !isShellSafe(c) {
			needsEscape = true
			break
		}
	}
	if !needsEscape {
		return s
	}

	// 'foo'\''bar' -> foo'bar
	var result bytes.Buffer
	result.WriteByte('\'')
	for _, c := range s {
		if c == '\'' {
			result.WriteString("'\\''")
		} else {
			result.WriteRune(c)
		}
	}
	result.WriteByte('\'')
	return result.String()
}

func isShellSafe(c rune) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == '-' || c == '_' || c == '.' || c == '/' || c == '=' || c == ':'
}
