package process

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/gomega"
)

type lineSink struct {
	mu    sync.Mutex
	lines []Line
}

func (l *lineSink) add(ln Line) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, ln)
}

func (l *lineSink) Texts() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.lines))
	for i, ln := range l.lines {
		out[i] = ln.Text
	}
	return out
}

func (l *lineSink) Generations() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]int, len(l.lines))
	for i, ln := range l.lines {
		out[i] = ln.Generation
	}
	return out
}

func newSupervised(t *testing.T, script string, opts Options) (*Supervised, *lineSink) {
	t.Helper()
	sup := NewSupervisor()
	t.Cleanup(func() { sup.Shutdown(time.Second) })

	sink := &lineSink{}
	opts.OnOutput = sink.add
	if opts.Grace == 0 {
		opts.Grace = 500 * time.Millisecond
	}
	s := NewSupervised(sup, Spec{Name: "server", Command: "sh", Args: []string{"-c", script}}, opts)
	t.Cleanup(s.Stop)
	return s, sink
}

func TestState_String(t *testing.T) {
	g := NewWithT(t)
	g.Expect(StateStopped.String()).To(Equal("stopped"))
	g.Expect(StateStarting.String()).To(Equal("starting"))
	g.Expect(StateRunning.String()).To(Equal("running"))
	g.Expect(StateCrashed.String()).To(Equal("crashed"))
	g.Expect(StateRestarting.String()).To(Equal("restarting"))
}

func TestSupervised_StartAndStop(t *testing.T) {
	g := NewWithT(t)
	s, sink := newSupervised(t, "echo listening; exec sleep 10", Options{})

	g.Expect(s.State()).To(Equal(StateStopped))
	g.Expect(s.Start(context.Background())).To(Succeed())
	g.Expect(s.State()).To(Equal(StateRunning))
	g.Expect(s.Generation()).To(Equal(1))
	g.Expect(s.PID()).To(BeNumerically(">", 0))
	g.Eventually(sink.Texts).Should(Equal([]string{"listening"}))

	s.Stop()
	g.Expect(s.State()).To(Equal(StateStopped))
	g.Expect(s.Wait()).To(Succeed())
	g.Expect(s.PID()).To(Equal(-1))

	// Restart after Stop does nothing.
	s.Restart()
	g.Expect(s.Generation()).To(Equal(1))
	g.Expect(s.Start(context.Background())).To(HaveOccurred())
}

func TestSupervised_StartFailure(t *testing.T) {
	g := NewWithT(t)
	sup := NewSupervisor()
	defer sup.Shutdown(time.Second)

	s := NewSupervised(sup, Spec{Command: "/nonexistent/taskforge-server"}, Options{})
	g.Expect(s.Start(context.Background())).To(HaveOccurred())
	g.Expect(s.State()).To(Equal(StateStopped))
	g.Eventually(s.Done()).Should(BeClosed())
}

func TestSupervised_RestartIncrementsGeneration(t *testing.T) {
	g := NewWithT(t)
	var restarted []int
	var mu sync.Mutex
	s, sink := newSupervised(t, "echo up; exec sleep 10", Options{
		OnRestart: func(gen int) {
			mu.Lock()
			restarted = append(restarted, gen)
			mu.Unlock()
		},
	})
	g.Expect(s.Start(context.Background())).To(Succeed())
	g.Eventually(sink.Texts).Should(HaveLen(1))
	firstPID := s.PID()

	s.Restart()
	g.Expect(s.Generation()).To(Equal(2))
	g.Expect(s.State()).To(Equal(StateRunning))
	g.Expect(s.PID()).NotTo(Equal(firstPID))
	g.Eventually(sink.Generations).Should(Equal([]int{1, 2}))
	g.Eventually(func() []int {
		mu.Lock()
		defer mu.Unlock()
		return append([]int(nil), restarted...)
	}).Should(Equal([]int{2}))

	// The terminated generation 1 is not counted as a crash.
	g.Consistently(s.State, 200*time.Millisecond).Should(Equal(StateRunning))
	g.Expect(s.Restarts()).To(Equal(0))
}

func TestSupervised_CrashRelaunchesWithBackoff(t *testing.T) {
	g := NewWithT(t)
	s, sink := newSupervised(t, "echo boot; sleep 0.1; exit 1", Options{
		Backoff:     50 * time.Millisecond,
		MaxBackoff:  50 * time.Millisecond,
		MaxRestarts: 10,
	})
	g.Expect(s.Start(context.Background())).To(Succeed())

	g.Eventually(s.Generation, 3*time.Second).Should(BeNumerically(">=", 3))
	g.Expect(s.Restarts()).To(BeNumerically(">=", 2))
	g.Eventually(sink.Texts).Should(ContainElement("boot"))
}

func TestSupervised_GivesUpAfterMaxRestarts(t *testing.T) {
	g := NewWithT(t)
	s, _ := newSupervised(t, "exit 2", Options{
		Backoff:     10 * time.Millisecond,
		MaxBackoff:  20 * time.Millisecond,
		MaxRestarts: 2,
	})
	g.Expect(s.Start(context.Background())).To(Succeed())

	g.Eventually(s.Done(), 3*time.Second).Should(BeClosed())
	err := s.Wait()
	g.Expect(errors.Is(err, ErrProcessCrash)).To(BeTrue())
	g.Expect(err.Error()).To(ContainSubstring("exit code 2"))
	g.Expect(s.Generation()).To(Equal(3))
	g.Expect(s.State()).To(Equal(StateStopped))
}

func TestSupervised_StableRunResetsBudget(t *testing.T) {
	g := NewWithT(t)
	s, _ := newSupervised(t, "sleep 0.15; exit 1", Options{
		Backoff:     10 * time.Millisecond,
		MaxBackoff:  10 * time.Millisecond,
		MaxRestarts: 1,
		StableAfter: 100 * time.Millisecond,
	})
	g.Expect(s.Start(context.Background())).To(Succeed())

	// Every generation outlives StableAfter, so the budget of one restart
	// is never exhausted.
	g.Eventually(s.Generation, 3*time.Second).Should(BeNumerically(">=", 4))
	g.Expect(s.Done()).NotTo(BeClosed())
}

func TestSupervised_IgnoresStaleGenerations(t *testing.T) {
	g := NewWithT(t)
	marker := filepath.Join(t.TempDir(), "crashed")
	// Generation 1 crashes; every later generation stays up.
	script := fmt.Sprintf(`if [ -f %[1]q ]; then echo up; exec sleep 10; fi; touch %[1]q; echo crash; exit 1`, marker)
	s, sink := newSupervised(t, script, Options{
		Backoff:     20 * time.Millisecond,
		MaxBackoff:  20 * time.Millisecond,
		MaxRestarts: 3,
	})
	g.Expect(s.Start(context.Background())).To(Succeed())

	g.Eventually(s.Generation, 3*time.Second).Should(Equal(2))
	g.Eventually(sink.Texts).Should(Equal([]string{"crash", "up"}))
	g.Expect(s.State()).To(Equal(StateRunning))
	g.Expect(s.Restarts()).To(Equal(1))

	// Late events from generation 1 must change nothing.
	old := NewProcess("old", "server#1", exec.Command("true"))
	s.deliverExit(exitEvent{generation: 1, proc: old})
	s.deliverLine(Line{Generation: 1, Text: "stale"})

	g.Consistently(s.State, 200*time.Millisecond).Should(Equal(StateRunning))
	g.Expect(s.Generation()).To(Equal(2))
	g.Expect(s.Restarts()).To(Equal(1))
	g.Expect(sink.Texts()).NotTo(ContainElement("stale"))
}

func TestSupervised_ContextCancelStops(t *testing.T) {
	g := NewWithT(t)
	s, _ := newSupervised(t, "exec sleep 10", Options{})

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	result := make(chan error, 1)
	go func() { result <- s.Run(ctx, func() { close(ready) }) }()

	g.Eventually(ready).Should(BeClosed())
	cancel()
	g.Eventually(result, 3*time.Second).Should(Receive(BeNil()))
	g.Expect(s.State()).To(Equal(StateStopped))
}

func TestSupervised_TerminateKillsAfterGrace(t *testing.T) {
	g := NewWithT(t)
	s, _ := newSupervised(t, "trap '' TERM; echo up; sleep 10", Options{Grace: 100 * time.Millisecond})
	g.Expect(s.Start(context.Background())).To(Succeed())
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	s.Restart()
	g.Expect(time.Since(start)).To(BeNumerically("<", 2*time.Second))
	g.Expect(s.Generation()).To(Equal(2))
}
