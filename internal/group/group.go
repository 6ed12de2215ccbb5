// Package group runs long-lived members (the application server, the file
// watcher) side by side under one of two failure policies.
package group

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/taskforge/internal/logging"
)

// ErrMemberFailure is matched by every *MemberError.
var ErrMemberFailure = errors.New("group member failed")

// MemberError reports the failure of one member.
type MemberError struct {
	Member string
	Err    error
}

func (e *MemberError) Error() string {
	return fmt.Sprintf("%s: %v", e.Member, e.Err)
}

func (e *MemberError) Unwrap() error { return e.Err }

// Is reports whether target is ErrMemberFailure.
func (e *MemberError) Is(target error) bool { return target == ErrMemberFailure }

// Policy decides what a member failure does to the rest of the group.
type Policy int

const (
	// FailFast cancels every other member on the first failure.
	FailFast Policy = iota
	// KeepAlive reports the failure and lets the others keep running.
	KeepAlive
)

func (p Policy) String() string {
	if p == KeepAlive {
		return "keep-alive"
	}
	return "fail-fast"
}

// Member is one concurrently running unit. Run must return when ctx is
// cancelled and should call ready once it is up; until then it holds one of
// the group's start slots.
type Member interface {
	Name() string
	Run(ctx context.Context, out io.Writer, ready func()) error
}

// Func adapts a function to a Member.
func Func(name string, fn func(ctx context.Context, out io.Writer, ready func()) error) Member {
	return funcMember{name: name, fn: fn}
}

type funcMember struct {
	name string
	fn   func(ctx context.Context, out io.Writer, ready func()) error
}

func (m funcMember) Name() string { return m.name }

func (m funcMember) Run(ctx context.Context, out io.Writer, ready func()) error {
	return m.fn(ctx, out, ready)
}

// Options configure RunAll.
type Options struct {
	Policy Policy
	// Limit is the number of members that may be starting at once
	// (0 = unlimited).
	Limit int
	// Output receives every member's output, one "[name] " prefixed line
	// at a time.
	Output io.Writer
	// OnFailure is called for each failed member under KeepAlive.
	OnFailure func(member string, err error)
	Logger    *logging.Logger
}

// RunAll runs members concurrently until they have all returned.
//
// Under FailFast the first member error cancels the others and is returned
// as a *MemberError. Under KeepAlive failures are logged and passed to
// OnFailure, and the joined member errors are returned once every member
// has ended. Errors a member returns after its context was cancelled are
// not failures.
func RunAll(ctx context.Context, members []Member, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.WithComponent("group")

	output := opts.Output
	if output == nil {
		output = io.Discard
	}
	mux := &sync.Mutex{}

	var slots chan struct{}
	if opts.Limit > 0 {
		slots = make(chan struct{}, opts.Limit)
	}

	g, gctx := errgroup.WithContext(ctx)
	if opts.Policy == KeepAlive {
		// Members share the caller's context; one failure must not cancel
		// the others.
		gctx = ctx
	}

	var mu sync.Mutex
	var failures []error

	for _, m := range members {
		g.Go(func() error {
			err := runMember(gctx, m, slots, newPrefixWriter(output, mux, m.Name()))
			if err == nil {
				logger.Debug("%s finished", m.Name())
				return nil
			}
			if gctx.Err() != nil {
				logger.Debug("%s stopped: %v", m.Name(), err)
				return nil
			}

			merr := &MemberError{Member: m.Name(), Err: err}
			if opts.Policy == FailFast {
				logger.Error("%s failed, stopping group: %v", m.Name(), err)
				return merr
			}

			logger.Error("%s failed: %v", m.Name(), err)
			if opts.OnFailure != nil {
				opts.OnFailure(m.Name(), err)
			}
			mu.Lock()
			failures = append(failures, merr)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return errors.Join(failures...)
}

func runMember(ctx context.Context, m Member, slots chan struct{}, out *prefixWriter) (err error) {
	defer out.Flush()

	release := func() {}
	if slots != nil {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		var once sync.Once
		release = func() { once.Do(func() { <-slots }) }
	}
	defer release()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return m.Run(ctx, out, release)
}
