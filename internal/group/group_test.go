package group

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func failing(name string, after time.Duration) Member {
	return Func(name, func(ctx context.Context, out io.Writer, ready func()) error {
		ready()
		time.Sleep(after)
		return errors.New("boom")
	})
}

// longRunning blocks until its context ends and records that it stopped.
func longRunning(name string, stopped *atomic.Bool) Member {
	return Func(name, func(ctx context.Context, out io.Writer, ready func()) error {
		ready()
		<-ctx.Done()
		stopped.Store(true)
		return ctx.Err()
	})
}

func TestRunAll_FailFastCancelsOthers(t *testing.T) {
	g := NewWithT(t)
	var stopped atomic.Bool

	done := make(chan error, 1)
	go func() {
		done <- RunAll(context.Background(), []Member{
			failing("lint", 20*time.Millisecond),
			longRunning("server", &stopped),
		}, Options{Policy: FailFast})
	}()

	var err error
	g.Eventually(done, 2*time.Second).Should(Receive(&err))
	g.Expect(stopped.Load()).To(BeTrue())

	var merr *MemberError
	g.Expect(errors.As(err, &merr)).To(BeTrue())
	g.Expect(merr.Member).To(Equal("lint"))
	g.Expect(errors.Is(err, ErrMemberFailure)).To(BeTrue())
	g.Expect(err.Error()).To(Equal("lint: boom"))
}

func TestRunAll_KeepAliveLeavesOthersRunning(t *testing.T) {
	g := NewWithT(t)
	var stopped atomic.Bool
	var failed atomic.Value

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- RunAll(ctx, []Member{
			failing("lint", 10*time.Millisecond),
			longRunning("server", &stopped),
		}, Options{
			Policy:    KeepAlive,
			OnFailure: func(member string, err error) { failed.Store(member) },
		})
	}()

	g.Eventually(failed.Load).Should(Equal("lint"))
	g.Consistently(stopped.Load, 150*time.Millisecond).Should(BeFalse())
	g.Expect(done).NotTo(Receive())

	cancel()
	var err error
	g.Eventually(done, 2*time.Second).Should(Receive(&err))
	g.Expect(stopped.Load()).To(BeTrue())
	g.Expect(errors.Is(err, ErrMemberFailure)).To(BeTrue())
	g.Expect(err.Error()).To(ContainSubstring("lint: boom"))
}

func TestRunAll_CancelIsNotFailure(t *testing.T) {
	var a, b atomic.Bool
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	for _, policy := range []Policy{FailFast, KeepAlive} {
		t.Run(policy.String(), func(t *testing.T) {
			err := RunAll(ctx, []Member{longRunning("a", &a), longRunning("b", &b)}, Options{Policy: policy})
			require.NoError(t, err)
		})
	}
}

func TestRunAll_AllSucceed(t *testing.T) {
	var ran atomic.Int32
	members := make([]Member, 5)
	for i := range members {
		members[i] = Func(fmt.Sprintf("m%d", i), func(ctx context.Context, out io.Writer, ready func()) error {
			ran.Add(1)
			return nil
		})
	}
	require.NoError(t, RunAll(context.Background(), members, Options{}))
	assert.EqualValues(t, 5, ran.Load())
}

func TestRunAll_PrefixesOutputLines(t *testing.T) {
	out := &safeBuffer{}
	members := []Member{
		Func("server", func(ctx context.Context, w io.Writer, ready func()) error {
			fmt.Fprint(w, "listening on ")
			fmt.Fprint(w, ":3000\nready\n")
			return nil
		}),
		Func("watch", func(ctx context.Context, w io.Writer, ready func()) error {
			fmt.Fprint(w, "waiting")
			return nil
		}),
	}
	require.NoError(t, RunAll(context.Background(), members, Options{Output: out}))

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	assert.ElementsMatch(t, []string{
		"[server] listening on :3000",
		"[server] ready",
		"[watch] waiting",
	}, lines)
}

func TestRunAll_LimitHoldsSlotUntilReady(t *testing.T) {
	g := NewWithT(t)
	var starting, maxStarting atomic.Int32
	release := make(chan struct{})

	member := func(name string) Member {
		return Func(name, func(ctx context.Context, out io.Writer, ready func()) error {
			n := starting.Add(1)
			for {
				m := maxStarting.Load()
				if n <= m || maxStarting.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			starting.Add(-1)
			ready()
			<-release
			return nil
		})
	}

	done := make(chan error, 1)
	go func() {
		done <- RunAll(context.Background(), []Member{member("a"), member("b"), member("c")}, Options{Limit: 1})
	}()

	// All three get past ready even though only one may start at a time.
	g.Eventually(func() int32 { return starting.Load() }, time.Second).Should(BeZero())
	time.Sleep(100 * time.Millisecond)
	close(release)
	g.Eventually(done, time.Second).Should(Receive(BeNil()))
	g.Expect(maxStarting.Load()).To(BeEquivalentTo(1))
}

func TestRunAll_PanicIsFailure(t *testing.T) {
	err := RunAll(context.Background(), []Member{
		Func("bad", func(ctx context.Context, out io.Writer, ready func()) error { panic("oops") }),
	}, Options{Policy: FailFast})
	require.ErrorIs(t, err, ErrMemberFailure)
	assert.Contains(t, err.Error(), "panic: oops")
}
