package process

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// ProcState is the OS-level state of one child process.
type ProcState int

const (
	// ProcCreated indicates the process has been created but not started.
	ProcCreated ProcState = iota
	// ProcRunning indicates the process is currently running.
	ProcRunning
	// ProcExited indicates the process has exited on its own.
	ProcExited
	// ProcKilled indicates the process was terminated by a signal.
	ProcKilled
)

// String returns a human-readable state name.
func (s ProcState) String() string {
	switch s {
	case ProcCreated:
		return "created"
	case ProcRunning:
		return "running"
	case ProcExited:
		return "exited"
	case ProcKilled:
		return "killed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Process is one launched child. The child runs in its own process group
// so signals reach everything it spawned.
//
// Process is safe for concurrent use.
type Process struct {
	// ID is the unique identifier for this process.
	ID string

	// Name is a human-readable name for the process.
	Name string

	// Cmd is the underlying exec.Cmd.
	Cmd *exec.Cmd

	// Stdout and Stderr are set when the supervisor piped the streams.
	Stdout io.ReadCloser
	Stderr io.ReadCloser

	// Started is the time the process was started.
	Started time.Time

	done     chan struct{}
	state    atomic.Int32
	exitCode atomic.Int32

	mu      sync.RWMutex
	exitErr error
	ended   time.Time
}

// NewProcess wraps cmd, which must not have been started.
func NewProcess(id, name string, cmd *exec.Cmd) *Process {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true

	p := &Process{
		ID:   id,
		Name: name,
		Cmd:  cmd,
		done: make(chan struct{}),
	}
	p.state.Store(int32(ProcCreated))
	p.exitCode.Store(-1)
	return p
}

// State returns the current process state.
func (p *Process) State() ProcState {
	return ProcState(p.state.Load())
}

// ExitCode returns the exit code, or -1 while running or when the process
// was killed.
func (p *Process) ExitCode() int {
	return int(p.exitCode.Load())
}

// ExitError returns the error from waiting on the process.
func (p *Process) ExitError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}

// Done returns a channel that is closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// IsRunning returns true if the process is currently running.
func (p *Process) IsRunning() bool {
	return p.State() == ProcRunning
}

// PID returns the process ID, or -1 if not started.
func (p *Process) PID() int {
	if p.Cmd.Process == nil {
		return -1
	}
	return p.Cmd.Process.Pid
}

// Signal sends sig to the process group.
func (p *Process) Signal(sig syscall.Signal) error {
	if !p.IsRunning() {
		return ErrProcessNotRunning
	}
	pid := p.PID()
	if pid <= 0 {
		return ErrProcessNotRunning
	}
	if err := unix.Kill(-pid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return ErrProcessNotRunning
		}
		return fmt.Errorf("signal %s: %w", p.Name, err)
	}
	return nil
}

// Kill sends SIGKILL.
func (p *Process) Kill() error {
	return p.Signal(unix.SIGKILL)
}

// Terminate sends SIGTERM.
func (p *Process) Terminate() error {
	return p.Signal(unix.SIGTERM)
}

// Stop sends SIGTERM and waits up to grace for the process to exit, then
// sends SIGKILL and waits for it to go. It reports whether the kill was
// needed.
func (p *Process) Stop(grace time.Duration) (killed bool) {
	if p.State() == ProcCreated {
		return false
	}
	if !p.IsRunning() {
		<-p.done
		return false
	}
	_ = p.Terminate()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
		return false
	case <-timer.C:
		_ = p.Kill()
		<-p.done
		return true
	}
}

func (p *Process) start() error {
	if p.State() != ProcCreated {
		return ErrProcessAlreadyStarted
	}
	if err := p.Cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.Name, err)
	}

	p.Started = time.Now()
	p.state.Store(int32(ProcRunning))

	go p.wait()
	return nil
}

func (p *Process) wait() {
	err := p.Cmd.Wait()

	exitCode, state := 0, ProcExited
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		exitCode = exitErr.ExitCode()
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			state = ProcKilled
		}
	case err != nil:
		exitCode = -1
	}

	p.mu.Lock()
	p.exitErr = err
	p.ended = time.Now()
	p.mu.Unlock()

	p.exitCode.Store(int32(exitCode))
	p.state.Store(int32(state))
	close(p.done)
}

// Uptime returns how long the process ran, or has been running.
func (p *Process) Uptime() time.Duration {
	if p.Started.IsZero() {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.ended.IsZero() {
		return p.ended.Sub(p.Started)
	}
	return time.Since(p.Started)
}

// ExitCause describes how the process ended.
func (p *Process) ExitCause() string {
	switch p.State() {
	case ProcKilled:
		var exitErr *exec.ExitError
		if errors.As(p.ExitError(), &exitErr) {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				return "killed by " + status.Signal().String()
			}
		}
		return "killed"
	case ProcExited:
		if err := p.ExitError(); err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return err.Error()
			}
		}
		return fmt.Sprintf("exit code %d", p.ExitCode())
	default:
		return p.State().String()
	}
}

// Sentinel errors for the process package.
var (
	ErrProcessNotRunning     = errors.New("process not running")
	ErrProcessAlreadyStarted = errors.New("process already started")
	ErrSupervisorShutdown    = errors.New("supervisor is shutting down")

	// ErrProcessCrash means a supervised process crashed more often than
	// its restart budget allows.
	ErrProcessCrash = errors.New("process crashed")
)
