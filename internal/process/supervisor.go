package process

import (
	"fmt"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Supervisor tracks every child process taskforge launched so they can all
// be stopped on exit. It is safe for concurrent use.
type Supervisor struct {
	mu       sync.Mutex
	running  map[string]*Process
	draining bool
	exited   sync.WaitGroup
}

// NewSupervisor creates an empty supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{running: make(map[string]*Process)}
}

// Start launches cmd and tracks it until it exits. Streams the command
// leaves nil are piped and exposed on the Process. After Shutdown it
// returns ErrSupervisorShutdown.
func (s *Supervisor) Start(name string, cmd *exec.Cmd) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return nil, ErrSupervisorShutdown
	}

	proc := NewProcess(uuid.NewString(), name, cmd)
	if err := attachPipes(proc); err != nil {
		return nil, err
	}
	if err := proc.start(); err != nil {
		closePipes(proc)
		return nil, err
	}

	s.running[proc.ID] = proc
	s.exited.Add(1)
	go func() {
		defer s.exited.Done()
		<-proc.Done()
		s.mu.Lock()
		delete(s.running, proc.ID)
		s.mu.Unlock()
	}()
	return proc, nil
}

func attachPipes(proc *Process) error {
	cmd := proc.Cmd
	if cmd.Stdout == nil {
		r, err := cmd.StdoutPipe()
		if err != nil {
			return fmt.Errorf("%s stdout: %w", proc.Name, err)
		}
		proc.Stdout = r
	}
	if cmd.Stderr == nil {
		r, err := cmd.StderrPipe()
		if err != nil {
			closePipes(proc)
			return fmt.Errorf("%s stderr: %w", proc.Name, err)
		}
		proc.Stderr = r
	}
	return nil
}

func closePipes(proc *Process) {
	if proc.Stdout != nil {
		_ = proc.Stdout.Close()
	}
	if proc.Stderr != nil {
		_ = proc.Stderr.Close()
	}
}

// live returns the running processes, oldest first.
func (s *Supervisor) live() []*Process {
	s.mu.Lock()
	procs := make([]*Process, 0, len(s.running))
	for _, p := range s.running {
		procs = append(procs, p)
	}
	s.mu.Unlock()

	sort.Slice(procs, func(i, j int) bool {
		return procs[i].Started.Before(procs[j].Started)
	})
	return procs
}

// Shutdown refuses new processes, sends SIGTERM to every running one and
// SIGKILL to those still alive after grace. It returns once all of them
// have exited. Later calls only wait.
func (s *Supervisor) Shutdown(grace time.Duration) {
	s.mu.Lock()
	first := !s.draining
	s.draining = true
	s.mu.Unlock()

	if first {
		var wg sync.WaitGroup
		for _, p := range s.live() {
			wg.Add(1)
			go func(p *Process) {
				defer wg.Done()
				p.Stop(grace)
			}(p)
		}
		wg.Wait()
	}
	s.exited.Wait()
}

