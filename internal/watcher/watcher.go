// Package watcher detects file system changes under the project root and
// turns bursts of them into debounced task runs.
//
// A Tree produces raw events for every directory below the root that is
// not ignored. A Dispatcher routes each event to the glob groups whose
// patterns match it; every group debounces independently and runs its
// task list once per quiet period.
package watcher

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrWatcherClosed is returned once the event source has shut down.
	ErrWatcherClosed = errors.New("watcher closed")

	// ErrPathNotExist is returned when the watch root is missing.
	ErrPathNotExist = errors.New("path does not exist")
)

// Op is a set of file system operations.
type Op uint32

const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
	OpChmod
)

var opNames = []struct {
	op   Op
	name string
}{
	{OpCreate, "CREATE"},
	{OpWrite, "WRITE"},
	{OpRemove, "REMOVE"},
	{OpRename, "RENAME"},
	{OpChmod, "CHMOD"},
}

// String joins the names of the operations in op with "|".
func (op Op) String() string {
	var names []string
	for _, n := range opNames {
		if op.Has(n.op) {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "NONE"
	}
	return strings.Join(names, "|")
}

// Has reports whether op includes every operation in o.
func (op Op) Has(o Op) bool {
	return op&o == o
}

// Event is one change to a path.
type Event struct {
	Path string // absolute
	Op   Op
	Time time.Time
}

// Source delivers file system events to a Dispatcher.
type Source interface {
	Events() <-chan Event
	Errors() <-chan error
}
