package group

import (
	"bytes"
	"io"
	"sync"
)

// prefixWriter writes complete lines to a shared output, each prefixed with
// the member name. mu is shared by all members of a group so lines never
// interleave.
type prefixWriter struct {
	out    io.Writer
	mu     *sync.Mutex
	prefix []byte

	bufMu sync.Mutex
	buf   []byte
}

func newPrefixWriter(out io.Writer, mu *sync.Mutex, name string) *prefixWriter {
	return &prefixWriter{out: out, mu: mu, prefix: []byte("[" + name + "] ")}
}

func (w *prefixWriter) Write(p []byte) (int, error) {
	w.bufMu.Lock()
	defer w.bufMu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		if err := w.emit(w.buf[:i+1]); err != nil {
			return 0, err
		}
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush writes a trailing partial line.
func (w *prefixWriter) Flush() {
	w.bufMu.Lock()
	defer w.bufMu.Unlock()
	if len(w.buf) > 0 {
		_ = w.emit(append(w.buf, '\n'))
		w.buf = nil
	}
}

func (w *prefixWriter) emit(line []byte) error {
	out := make([]byte, 0, len(w.prefix)+len(line))
	out = append(append(out, w.prefix...), line...)

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.out.Write(out)
	return err
}
