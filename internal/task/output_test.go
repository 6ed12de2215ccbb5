package task

import (
	"bufio"
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestStream_String(t *testing.T) {
	for s, want := range map[Stream]string{Stdout: "stdout", Stderr: "stderr", Stream(9): "unknown"} {
		if got := s.String(); got != want {
			t.Errorf("Stream(%d).String() = %q, want %q", s, got, want)
		}
	}
}

func TestTranscript_Scan(t *testing.T) {
	tr := NewTranscript(0, 0)

	var got []string
	err := tr.Scan(strings.NewReader("one\r\ntwo\nthree"), Stdout, func(line OutputLine) {
		got = append(got, line.Text)
	})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if want := []string{"one", "two", "three"}; !slices.Equal(got, want) {
		t.Errorf("lines = %v, want %v", got, want)
	}
	if tr.Total() != 3 {
		t.Errorf("Total() = %d, want 3", tr.Total())
	}
	if last := tr.Tail()[2]; last.Seq != 3 || last.Time.IsZero() {
		t.Errorf("last line = %+v", last)
	}
}

func TestTranscript_KeepsTail(t *testing.T) {
	tr := NewTranscript(0, 2)
	_ = tr.Scan(strings.NewReader("a\nb\nc\n"), Stderr, nil)

	tail := tr.Tail()
	if len(tail) != 2 || tail[0].Text != "b" || tail[1].Text != "c" {
		t.Errorf("Tail() = %v", tail)
	}
	if tr.Total() != 3 {
		t.Errorf("Total() = %d, want 3", tr.Total())
	}
}

func TestTranscript_TextByStream(t *testing.T) {
	tr := NewTranscript(0, 0)
	_ = tr.Scan(strings.NewReader("out1\nout2\n"), Stdout, nil)
	_ = tr.Scan(strings.NewReader("err1\n"), Stderr, nil)

	if got := tr.Text(Stdout); got != "out1\nout2" {
		t.Errorf("stdout text = %q", got)
	}
	if got := tr.Text(Stderr); got != "err1" {
		t.Errorf("stderr text = %q", got)
	}
}

func TestTranscript_LineTooLong(t *testing.T) {
	tr := NewTranscript(16, 0)
	err := tr.Scan(strings.NewReader(strings.Repeat("x", 64)+"\n"), Stdout, nil)
	if !errors.Is(err, bufio.ErrTooLong) {
		t.Errorf("Scan error = %v, want bufio.ErrTooLong", err)
	}
}
