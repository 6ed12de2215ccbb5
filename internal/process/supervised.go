package process

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dshills/taskforge/internal/logging"
)

// State is the lifecycle state of a supervised process.
type State int

const (
	// StateStopped is both the initial and the terminal state.
	StateStopped State = iota
	// StateStarting means a generation is being launched.
	StateStarting
	// StateRunning means the current generation is alive.
	StateRunning
	// StateCrashed means the current generation exited unexpectedly and a
	// relaunch is scheduled.
	StateCrashed
	// StateRestarting means a requested restart is terminating the current
	// generation.
	StateRestarting
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateCrashed:
		return "crashed"
	case StateRestarting:
		return "restarting"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Spec describes the command a Supervised process runs.
type Spec struct {
	Name    string
	Command string
	Args    []string
	Dir     string
	// Env is the complete environment; nil inherits taskforge's.
	Env []string
}

// Line is one line of output from a supervised process.
type Line struct {
	Generation int
	Stderr     bool
	Text       string
}

// Options tune supervision.
type Options struct {
	// Backoff is the first relaunch delay after a crash; it doubles up to
	// MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
	// MaxRestarts is the number of consecutive crash relaunches allowed
	// before the supervisor gives up with ErrProcessCrash (0 = unlimited).
	MaxRestarts int
	// StableAfter is the uptime after which a generation's crash no longer
	// counts toward MaxRestarts.
	StableAfter time.Duration
	// Grace is the time between SIGTERM and SIGKILL.
	Grace time.Duration

	// Output receives every current-generation output line.
	Output io.Writer
	// OnOutput is called with every current-generation output line.
	OnOutput func(Line)
	// OnRestart is called after every successful relaunch.
	OnRestart func(generation int)

	Logger *logging.Logger
}

// DefaultOptions returns the options used when fields are left zero.
func DefaultOptions() Options {
	return Options{
		Backoff:     500 * time.Millisecond,
		MaxBackoff:  10 * time.Second,
		MaxRestarts: 5,
		StableAfter: 30 * time.Second,
		Grace:       5 * time.Second,
	}
}

type requestKind int

const (
	requestRestart requestKind = iota
	requestStop
)

type request struct {
	kind requestKind
	// handled is closed once the loop has acted on the request.
	handled chan struct{}
}

type exitEvent struct {
	generation int
	proc       *Process
}

// Supervised keeps one long-running command alive: it relaunches the command
// after crashes with exponential backoff and restarts it on request. Each
// launch is a new generation; exit and output events of older generations
// are discarded.
//
// Every event is handled by a single control loop, so state transitions
// never race.
type Supervised struct {
	spec   Spec
	opts   Options
	sup    *Supervisor
	logger *logging.Logger

	requests chan request
	exits    chan exitEvent
	lines    chan Line
	done     chan struct{}

	mu         sync.Mutex
	started    bool
	state      State
	generation int
	restarts   int
	proc       *Process
	err        error
}

// NewSupervised creates a supervised process that launches through sup.
func NewSupervised(sup *Supervisor, spec Spec, opts Options) *Supervised {
	def := DefaultOptions()
	if opts.Backoff <= 0 {
		opts.Backoff = def.Backoff
	}
	if opts.MaxBackoff < opts.Backoff {
		opts.MaxBackoff = max(def.MaxBackoff, opts.Backoff)
	}
	if opts.Grace <= 0 {
		opts.Grace = def.Grace
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if spec.Name == "" {
		spec.Name = spec.Command
	}
	return &Supervised{
		spec:     spec,
		opts:     opts,
		sup:      sup,
		logger:   opts.Logger.WithComponent("supervisor").WithField("process", spec.Name),
		requests: make(chan request),
		exits:    make(chan exitEvent),
		lines:    make(chan Line, 64),
		done:     make(chan struct{}),
	}
}

// Name returns the process name.
func (s *Supervised) Name() string {
	return s.spec.Name
}

// State returns the current state.
func (s *Supervised) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Generation returns the generation of the latest launch.
func (s *Supervised) Generation() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Restarts returns the number of crash relaunches counted toward
// MaxRestarts.
func (s *Supervised) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// PID returns the PID of the current generation, or -1.
func (s *Supervised) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil || !s.proc.IsRunning() {
		return -1
	}
	return s.proc.PID()
}

// Start launches generation 1 and starts supervising it. It returns the
// launch error, in which case the supervised process stays stopped.
// Cancelling ctx stops the process like Stop.
func (s *Supervised) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("%s: already started", s.spec.Name)
	}
	s.started = true
	s.mu.Unlock()

	if err := s.launch(); err != nil {
		s.finish(err)
		close(s.done)
		return err
	}
	go s.loop(ctx)
	return nil
}

// Run starts the process, calls ready once generation 1 runs and blocks
// until the process is stopped or gives up. Stopping through ctx is not an
// error.
func (s *Supervised) Run(ctx context.Context, ready func()) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	if ready != nil {
		ready()
	}
	return s.Wait()
}

// Wait blocks until supervision ends and returns ErrProcessCrash when the
// restart budget was exhausted.
func (s *Supervised) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when supervision ends.
func (s *Supervised) Done() <-chan struct{} {
	return s.done
}

// Restart terminates the current generation and launches the next one. It
// returns once the new generation has been launched, or its launch failed
// and a relaunch is scheduled. It does nothing before Start or once the
// process is stopped.
func (s *Supervised) Restart() {
	s.request(requestRestart)
}

// Stop terminates the process and ends supervision. No restart happens
// afterwards. Stop blocks until the process has exited.
func (s *Supervised) Stop() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}
	s.request(requestStop)
	<-s.done
}

func (s *Supervised) request(kind requestKind) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}
	req := request{kind: kind, handled: make(chan struct{})}
	select {
	case s.requests <- req:
	case <-s.done:
		return
	}
	select {
	case <-req.handled:
	case <-s.done:
	}
}

func (s *Supervised) loop(ctx context.Context) {
	defer close(s.done)

	bo := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(s.opts.Backoff),
		backoff.WithMaxInterval(s.opts.MaxBackoff),
		backoff.WithMaxElapsedTime(0),
	)

	var relaunch *time.Timer
	var relaunchC <-chan time.Time
	stopRelaunch := func() {
		if relaunch != nil {
			relaunch.Stop()
			relaunch, relaunchC = nil, nil
		}
	}
	defer stopRelaunch()

	// crashed handles the unexpected end of the current generation, or a
	// failed relaunch. It reports false when supervision must end.
	crashed := func(cause string, uptime time.Duration) bool {
		s.mu.Lock()
		if s.opts.StableAfter > 0 && uptime >= s.opts.StableAfter {
			s.restarts = 0
			bo.Reset()
		}
		s.restarts++
		restarts := s.restarts
		s.state = StateCrashed
		s.mu.Unlock()

		if s.opts.MaxRestarts > 0 && restarts > s.opts.MaxRestarts {
			s.logger.Error("%s crashed (%s), giving up after %d restarts", s.spec.Name, cause, s.opts.MaxRestarts)
			s.finish(fmt.Errorf("%w: %s: %s after %d restarts", ErrProcessCrash, s.spec.Name, cause, s.opts.MaxRestarts))
			return false
		}

		delay := bo.NextBackOff()
		s.logger.Warn("%s crashed (%s), restarting in %s", s.spec.Name, cause, delay.Round(time.Millisecond))
		relaunch = time.NewTimer(delay)
		relaunchC = relaunch.C
		return true
	}

	relaunchNow := func() bool {
		stopRelaunch()
		if err := s.launch(); err != nil {
			return crashed(err.Error(), 0)
		}
		s.restarted()
		return true
	}

	for {
		select {
		case <-ctx.Done():
			s.terminate()
			s.finish(nil)
			return

		case req := <-s.requests:
			switch req.kind {
			case requestStop:
				s.terminate()
				s.finish(nil)
				return
			case requestRestart:
				s.setState(StateRestarting)
				s.logger.Info("restarting %s", s.spec.Name)
				s.terminate()
				if !relaunchNow() {
					return
				}
			}
			close(req.handled)

		case ev := <-s.exits:
			if !s.current(ev.generation) || s.State() != StateRunning {
				s.logger.Debug("ignoring exit of generation %d", ev.generation)
				continue
			}
			if !crashed(ev.proc.ExitCause(), ev.proc.Uptime()) {
				return
			}

		case <-relaunchC:
			relaunch, relaunchC = nil, nil
			if !relaunchNow() {
				return
			}

		case ln := <-s.lines:
			s.forward(ln)
		}
	}
}

// launch starts the next generation.
func (s *Supervised) launch() error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.state = StateStarting
	s.mu.Unlock()

	cmd := exec.Command(s.spec.Command, s.spec.Args...)
	cmd.Dir = s.spec.Dir
	cmd.Env = s.spec.Env
	cmd.WaitDelay = s.opts.Grace
	stdout := &lineWriter{s: s, generation: gen}
	stderr := &lineWriter{s: s, generation: gen, stderr: true}
	cmd.Stdout, cmd.Stderr = stdout, stderr

	proc, err := s.sup.Start(fmt.Sprintf("%s#%d", s.spec.Name, gen), cmd)
	if err != nil {
		s.logger.Error("launch %s: %v", s.spec.Name, err)
		return err
	}

	s.mu.Lock()
	s.proc = proc
	s.state = StateRunning
	s.mu.Unlock()
	s.logger.Info("%s started (generation %d, pid %d)", s.spec.Name, gen, proc.PID())

	go func() {
		<-proc.Done()
		stdout.flush()
		stderr.flush()
		s.deliverExit(exitEvent{generation: gen, proc: proc})
	}()
	return nil
}

func (s *Supervised) restarted() {
	gen := s.Generation()
	if s.opts.OnRestart != nil {
		s.opts.OnRestart(gen)
	}
}

// terminate stops the current generation, forwarding its output until it
// is gone.
func (s *Supervised) terminate() {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	if proc == nil || proc.State() == ProcCreated {
		return
	}

	_ = proc.Terminate()
	grace := time.NewTimer(s.opts.Grace)
	defer grace.Stop()
	for {
		select {
		case <-proc.Done():
			return
		case ln := <-s.lines:
			s.forward(ln)
		case <-grace.C:
			s.logger.Warn("%s did not exit within %s, killing", s.spec.Name, s.opts.Grace)
			_ = proc.Kill()
		}
	}
}

func (s *Supervised) forward(ln Line) {
	if !s.current(ln.Generation) {
		return
	}
	if s.opts.Output != nil {
		fmt.Fprintln(s.opts.Output, ln.Text)
	}
	if s.opts.OnOutput != nil {
		s.opts.OnOutput(ln)
	}
}

func (s *Supervised) current(generation int) bool {
	return generation == s.Generation()
}

func (s *Supervised) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Supervised) finish(err error) {
	s.mu.Lock()
	s.state = StateStopped
	s.err = err
	s.mu.Unlock()
}

func (s *Supervised) deliverExit(ev exitEvent) {
	select {
	case s.exits <- ev:
	case <-s.done:
	}
}

func (s *Supervised) deliverLine(ln Line) {
	select {
	case s.lines <- ln:
	case <-s.done:
	}
}

// lineWriter splits process output into lines tagged with the generation
// that wrote them.
type lineWriter struct {
	s          *Supervised
	generation int
	stderr     bool

	mu  sync.Mutex
	buf []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
}

func (w *lineWriter) emit(line []byte) {
	text := string(bytes.TrimSuffix(line, []byte("\r")))
	w.s.deliverLine(Line{Generation: w.generation, Stderr: w.stderr, Text: text})
}
