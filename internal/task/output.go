package task

import (
	"bufio"
	"io"
	"strings"
	"sync"
	"time"
)

// Stream names the pipe a line was read from.
type Stream uint8

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	switch s {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	}
	return "unknown"
}

// OutputLine is one line a command printed, without its line ending.
type OutputLine struct {
	Text   string
	Stream Stream
	Time   time.Time
	Seq    int // 1-based across both streams
}

// Transcript scans a command's streams into lines and keeps the last few
// for failure reports. Both streams may be scanned concurrently.
type Transcript struct {
	maxLine int
	keep    int

	mu    sync.Mutex
	lines []OutputLine
	total int
}

// NewTranscript accepts lines of up to maxLine bytes and keeps the last
// keep of them. Zero values select 64 KiB and 200 lines.
func NewTranscript(maxLine, keep int) *Transcript {
	if maxLine <= 0 {
		maxLine = 64 * 1024
	}
	if keep <= 0 {
		keep = 200
	}
	return &Transcript{maxLine: maxLine, keep: keep}
}

// Scan reads r until EOF, recording each line and passing it to emit.
// A line longer than the limit stops the scan with bufio.ErrTooLong.
func (t *Transcript) Scan(r io.Reader, stream Stream, emit func(OutputLine)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, min(4096, t.maxLine)), t.maxLine)
	for sc.Scan() {
		line := t.record(strings.TrimSuffix(sc.Text(), "\r"), stream)
		if emit != nil {
			emit(line)
		}
	}
	return sc.Err()
}

func (t *Transcript) record(text string, stream Stream) OutputLine {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total++
	line := OutputLine{Text: text, Stream: stream, Time: time.Now(), Seq: t.total}
	if len(t.lines) == t.keep {
		copy(t.lines, t.lines[1:])
		t.lines = t.lines[:t.keep-1]
	}
	t.lines = append(t.lines, line)
	return line
}

// Tail returns the kept lines, oldest first.
func (t *Transcript) Tail() []OutputLine {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]OutputLine(nil), t.lines...)
}

// Total returns how many lines were scanned, kept or not.
func (t *Transcript) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Text joins the kept lines of stream with newlines.
func (t *Transcript) Text(stream Stream) string {
	var parts []string
	for _, l := range t.Tail() {
		if l.Stream == stream {
			parts = append(parts, l.Text)
		}
	}
	return strings.Join(parts, "\n")
}
