package pipeline

import (
	"fmt"
	"sync"

	"github.com/dshills/taskforge/internal/task"
)

// Stage names a pipeline step.
type Stage string

// Pipeline stages.
const (
	StageConcat   Stage = "concat"
	StageAnnotate Stage = "annotate"
	StageMinify   Stage = "minify"
	StageCSS      Stage = "cssmin"
)

// SessionKey is the task.Run value key holding the run's *Session.
const SessionKey = "pipeline.session"

// Session holds the intermediate results of one build so stages can run as
// separate atomic tasks. A session belongs to a single run.
type Session struct {
	mu sync.Mutex

	mode      Mode
	bundle    *Bundle
	annotated []byte
	minified  []byte
	css       []byte

	// ran records every stage that ran, with its error.
	ran map[Stage]error
}

// NewSession creates an empty session.
func NewSession() *Session {
	return &Session{ran: make(map[Stage]error)}
}

// SessionFor returns the session stored on run, creating it on first use.
func SessionFor(run *task.Run) *Session {
	if v, ok := run.Value(SessionKey); ok {
		if s, ok := v.(*Session); ok {
			return s
		}
	}
	s := NewSession()
	run.SetValue(SessionKey, s)
	return s
}

// Status reports whether stage ran and its error.
func (s *Session) Status(stage Stage) (ran bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err, ran = s.ran[stage]
	return ran, err
}

// Mode returns the mode of the last concat stage.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Bundle returns the concatenated bundle, or nil.
func (s *Session) Bundle() *Bundle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bundle
}

// Annotated returns the annotated bundle, or nil.
func (s *Session) Annotated() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.annotated
}

// Minified returns the minified bundle, or nil.
func (s *Session) Minified() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minified
}

// CSS returns the minified stylesheet, or nil.
func (s *Session) CSS() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.css
}

// require returns task.ErrSkipped unless stage ran successfully.
func (s *Session) require(stage, by Stage) error {
	ran, err := s.Status(stage)
	switch {
	case !ran:
		return fmt.Errorf("%w: %s requires %s, which has not run", task.ErrSkipped, by, stage)
	case err != nil:
		return fmt.Errorf("%w: %s requires %s, which failed", task.ErrSkipped, by, stage)
	}
	return nil
}

func (s *Session) record(stage Stage, err error, update func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ran[stage] = err
	if err == nil && update != nil {
		update()
	}
}

// reset forgets stage and everything downstream of it.
func (s *Session) reset(stage Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch stage {
	case StageConcat:
		delete(s.ran, StageConcat)
		s.bundle = nil
		fallthrough
	case StageAnnotate:
		delete(s.ran, StageAnnotate)
		s.annotated = nil
		fallthrough
	case StageMinify:
		delete(s.ran, StageMinify)
		s.minified = nil
	case StageCSS:
		delete(s.ran, StageCSS)
		s.css = nil
	}
}
