package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultTreeBuffer = 256

// TreeOption configures a Tree.
type TreeOption func(*treeOptions)

type treeOptions struct {
	ignore []string
	buffer int
}

// WithIgnorePatterns skips directories and files matching the gitignore
// style patterns, relative to the tree root.
func WithIgnorePatterns(patterns []string) TreeOption {
	return func(o *treeOptions) { o.ignore = patterns }
}

// WithBufferSize sets the event channel capacity. Events arriving while
// the channel is full are dropped and counted.
func WithBufferSize(n int) TreeOption {
	return func(o *treeOptions) { o.buffer = n }
}

// Tree watches every directory below a root that is not ignored.
// Directories created later are added as they appear; removed ones are
// forgotten.
type Tree struct {
	root   string
	ignore *Ignore
	fsw    *fsnotify.Watcher

	mu     sync.Mutex
	dirs   map[string]struct{}
	closed bool

	events  chan Event
	errs    chan error
	dropped atomic.Int64

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewTree starts watching root recursively.
func NewTree(root string, opts ...TreeOption) (*Tree, error) {
	o := treeOptions{buffer: defaultTreeBuffer}
	for _, opt := range opts {
		opt(&o)
	}
	if o.buffer <= 0 {
		o.buffer = defaultTreeBuffer
	}

	ignore, err := CompileIgnore(o.ignore)
	if err != nil {
		return nil, err
	}

	root, err = filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("watch %s: %w", root, ErrPathNotExist)
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch %s: not a directory", root)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	t := &Tree{
		root:   root,
		ignore: ignore,
		fsw:    fsw,
		dirs:   make(map[string]struct{}),
		events: make(chan Event, o.buffer),
		errs:   make(chan error, o.buffer),
		stop:   make(chan struct{}),
	}
	if err := t.addTree(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	t.wg.Add(1)
	go t.loop()
	return t, nil
}

// Root returns the absolute root directory.
func (t *Tree) Root() string { return t.root }

// Events returns the change events. The channel closes with Close.
func (t *Tree) Events() <-chan Event { return t.events }

// Errors returns watch errors. The channel closes with Close.
func (t *Tree) Errors() <-chan error { return t.errs }

// Dropped returns the number of events lost to a full channel.
func (t *Tree) Dropped() int64 { return t.dropped.Load() }

// Dirs returns the watched directories relative to the root, sorted, with
// the root itself as ".".
func (t *Tree) Dirs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	dirs := make([]string, 0, len(t.dirs))
	for d := range t.dirs {
		rel, err := filepath.Rel(t.root, d)
		if err != nil {
			continue
		}
		dirs = append(dirs, filepath.ToSlash(rel))
	}
	sort.Strings(dirs)
	return dirs
}

// Close stops watching and closes both channels. It is safe to call more
// than once.
func (t *Tree) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.stop)
	t.mu.Unlock()

	err := t.fsw.Close()
	t.wg.Wait()
	close(t.events)
	close(t.errs)
	return err
}

// addTree registers dir and every directory below it that is not ignored.
func (t *Tree) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Vanished between the event and the walk.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != t.root && t.ignore.MatchUnder(t.root, p, true) {
			return filepath.SkipDir
		}
		return t.add(p)
	})
}

func (t *Tree) add(dir string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrWatcherClosed
	}
	if _, ok := t.dirs[dir]; ok {
		return nil
	}
	if err := t.fsw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	t.dirs[dir] = struct{}{}
	return nil
}

// forget drops dir and everything below it. fsnotify removes its own
// watches for deleted directories.
func (t *Tree) forget(dir string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prefix := dir + string(filepath.Separator)
	for d := range t.dirs {
		if d == dir || (len(d) > len(prefix) && d[:len(prefix)] == prefix) {
			delete(t.dirs, d)
		}
	}
}

func (t *Tree) loop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.stop:
			return
		case ev, ok := <-t.fsw.Events:
			if !ok {
				return
			}
			t.handle(ev)
		case err, ok := <-t.fsw.Errors:
			if !ok {
				return
			}
			t.sendErr(err)
		}
	}
}

func (t *Tree) handle(ev fsnotify.Event) {
	op := convertOp(ev.Op)
	if op == 0 {
		return
	}

	isDir := false
	if op.Has(OpCreate) {
		if info, err := os.Lstat(ev.Name); err == nil {
			isDir = info.IsDir()
		}
	}
	if t.ignore.MatchUnder(t.root, ev.Name, isDir) {
		return
	}

	switch {
	case isDir:
		if err := t.addTree(ev.Name); err != nil && !errors.Is(err, ErrWatcherClosed) {
			t.sendErr(err)
		}
	case op.Has(OpRemove) || op.Has(OpRename):
		t.forget(ev.Name)
	}

	select {
	case t.events <- Event{Path: ev.Name, Op: op, Time: time.Now()}:
	default:
		t.dropped.Add(1)
	}
}

func (t *Tree) sendErr(err error) {
	select {
	case t.errs <- err:
	default:
	}
}

func convertOp(in fsnotify.Op) Op {
	var op Op
	for _, m := range []struct {
		from fsnotify.Op
		to   Op
	}{
		{fsnotify.Create, OpCreate},
		{fsnotify.Write, OpWrite},
		{fsnotify.Remove, OpRemove},
		{fsnotify.Rename, OpRename},
		{fsnotify.Chmod, OpChmod},
	} {
		if in.Has(m.from) {
			op |= m.to
		}
	}
	return op
}

var _ Source = (*Tree)(nil)
