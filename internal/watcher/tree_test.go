package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func newTestTree(t *testing.T, root string, opts ...TreeOption) *Tree {
	t.Helper()
	tr, err := NewTree(root, opts...)
	if err != nil {
		t.Fatalf("NewTree error = %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func mkdirs(t *testing.T, root string, dirs ...string) {
	t.Helper()
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
}

// collect drains events for d and returns the paths seen.
func collect(tr *Tree, d time.Duration) map[string]bool {
	seen := make(map[string]bool)
	timeout := time.After(d)
	for {
		select {
		case ev, ok := <-tr.Events():
			if !ok {
				return seen
			}
			seen[ev.Path] = true
		case <-timeout:
			return seen
		}
	}
}

func TestNewTree_SkipsIgnoredDirectories(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "public/modules/core", "public/dist", "node_modules/angular")

	tr := newTestTree(t, root, WithIgnorePatterns([]string{"node_modules/**", "/public/dist/"}))

	want := []string{".", "public", "public/modules", "public/modules/core"}
	if got := tr.Dirs(); !slices.Equal(got, want) {
		t.Errorf("Dirs() = %v, want %v", got, want)
	}
}

func TestNewTree_Errors(t *testing.T) {
	if _, err := NewTree(filepath.Join(t.TempDir(), "missing")); !errors.Is(err, ErrPathNotExist) {
		t.Errorf("missing root error = %v, want ErrPathNotExist", err)
	}

	file := filepath.Join(t.TempDir(), "server.js")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewTree(file); err == nil {
		t.Error("a file root should fail")
	}

	if _, err := NewTree(t.TempDir(), WithIgnorePatterns([]string{"[a-"})); err == nil {
		t.Error("a bad ignore pattern should fail")
	}
}

func TestTree_Close(t *testing.T) {
	tr, err := NewTree(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("Close error = %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("Close again error = %v", err)
	}
	if _, ok := <-tr.Events(); ok {
		t.Error("events channel should be closed")
	}
	if _, ok := <-tr.Errors(); ok {
		t.Error("errors channel should be closed")
	}
}

func TestTree_FileEvents(t *testing.T) {
	root := t.TempDir()
	tr := newTestTree(t, root)

	file := filepath.Join(root, "server.js")
	if err := os.WriteFile(file, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-tr.Events():
			if ev.Path == file && (ev.Op.Has(OpCreate) || ev.Op.Has(OpWrite)) {
				if ev.Time.IsZero() {
					t.Error("event should carry a time")
				}
				return
			}
		case <-timeout:
			t.Fatal("timeout waiting for create event")
		}
	}
}

func TestTree_IgnoredFilesProduceNoEvents(t *testing.T) {
	root := t.TempDir()
	tr := newTestTree(t, root, WithIgnorePatterns([]string{"*.log"}))

	logFile := filepath.Join(root, "debug.log")
	jsFile := filepath.Join(root, "app.js")
	for _, f := range []string{logFile, jsFile} {
		if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	seen := collect(tr, time.Second)
	if !seen[jsFile] {
		t.Error("should have received event for app.js")
	}
	if seen[logFile] {
		t.Error("should not have received event for debug.log")
	}
}

func TestTree_FollowsNewAndRemovedDirectories(t *testing.T) {
	root := t.TempDir()
	tr := newTestTree(t, root)

	mkdirs(t, root, "public/modules")
	waitDirs(t, tr, func(dirs []string) bool { return slices.Contains(dirs, "public/modules") })

	file := filepath.Join(root, "public", "modules", "core.js")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !collect(tr, time.Second)[file] {
		t.Error("should have received event for a file in the new directory")
	}

	if err := os.RemoveAll(filepath.Join(root, "public")); err != nil {
		t.Fatal(err)
	}
	waitDirs(t, tr, func(dirs []string) bool { return slices.Equal(dirs, []string{"."}) })
}

func waitDirs(t *testing.T, tr *Tree, ok func([]string) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !ok(tr.Dirs()) {
		if time.Now().After(deadline) {
			t.Fatalf("watched directories = %v", tr.Dirs())
		}
		select {
		case <-tr.Events():
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestTree_DropsWhenFull(t *testing.T) {
	root := t.TempDir()
	tr := newTestTree(t, root, WithBufferSize(1))

	for i := 0; i < 5; i++ {
		name := filepath.Join(root, string(rune('a'+i))+".js")
		if err := os.WriteFile(name, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for tr.Dropped() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected dropped events with a one-slot buffer")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestOp_String(t *testing.T) {
	tests := []struct {
		op   Op
		want string
	}{
		{OpCreate, "CREATE"},
		{OpWrite | OpChmod, "WRITE|CHMOD"},
		{0, "NONE"},
	}
	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.op, got, tt.want)
		}
	}
}

func TestConvertOp(t *testing.T) {
	tests := []struct {
		in   fsnotify.Op
		want Op
	}{
		{fsnotify.Create, OpCreate},
		{fsnotify.Write | fsnotify.Chmod, OpWrite | OpChmod},
		{fsnotify.Remove, OpRemove},
		{fsnotify.Rename, OpRename},
		{0, 0},
	}
	for _, tt := range tests {
		if got := convertOp(tt.in); got != tt.want {
			t.Errorf("convertOp(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
