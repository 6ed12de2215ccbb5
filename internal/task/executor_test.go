package task

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDefaultExecutorConfig(t *testing.T) {
	config := DefaultExecutorConfig()

	if config.OutputBufferSize != 64*1024 {
		t.Errorf("OutputBufferSize = %d, want %d", config.OutputBufferSize, 64*1024)
	}
	if config.MaxConcurrent != 4 {
		t.Errorf("MaxConcurrent = %d, want 4", config.MaxConcurrent)
	}
	if config.GracePeriod <= 0 {
		t.Error("GracePeriod should be positive")
	}
}

func TestNewExecutor_ZeroMaxConcurrent(t *testing.T) {
	e := NewExecutor(ExecutorConfig{MaxConcurrent: 0}, nil)

	if cap(e.sem) != 4 {
		t.Errorf("semaphore capacity = %d, want 4 (default)", cap(e.sem))
	}
}

func TestExecutor_RunSuccess(t *testing.T) {
	e := NewExecutor(DefaultExecutorConfig(), nil)

	var out bytes.Buffer
	exec, err := e.Run(context.Background(), Command{
		Name: "echo",
		Path: "sh",
		Args: []string{"-c", "echo hello; echo oops >&2"},
	}, &out)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if exec.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", exec.ExitCode)
	}
	if !strings.Contains(out.String(), "hello") || !strings.Contains(out.String(), "oops") {
		t.Errorf("output = %q, want both streams", out.String())
	}
	if exec.ID == "" {
		t.Error("execution ID is empty")
	}
	if exec.Duration() <= 0 {
		t.Error("Duration should be positive")
	}
}

func TestExecutor_RunFailureCarriesProblems(t *testing.T) {
	e := NewExecutor(DefaultExecutorConfig(), nil)

	script := `echo "public/app.js: line 3, col 7, Missing semicolon."; exit 2`
	exec, err := e.Run(context.Background(), Command{
		Name:    "jshint",
		Path:    "sh",
		Args:    []string{"-c", script},
		Matcher: "jshint",
	}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrTaskFailed) {
		t.Errorf("error %v is not ErrTaskFailed", err)
	}
	if exec.ExitCode != 2 {
		t.Errorf("ExitCode = %d, want 2", exec.ExitCode)
	}

	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("error %T is not *Failure", err)
	}
	if len(f.Problems) != 1 {
		t.Fatalf("len(Problems) = %d, want 1", len(f.Problems))
	}
	p := f.Problems[0]
	if p.File != "public/app.js" || p.Line != 3 || p.Column != 7 {
		t.Errorf("problem = %+v", p)
	}
	if got := p.String(); got != "public/app.js:3:7: Missing semicolon." {
		t.Errorf("String() = %q", got)
	}
}

func TestExecutor_RunFailureQuotesStderr(t *testing.T) {
	e := NewExecutor(DefaultExecutorConfig(), nil)

	_, err := e.Run(context.Background(), Command{
		Name: "uglify",
		Path: "sh",
		Args: []string{"-c", "echo working; echo 'first' >&2; echo 'Unexpected token' >&2; exit 1"},
	}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if got, want := err.Error(), "uglify: sh exited with code 1: Unexpected token"; got != want {
		t.Errorf("error = %q, want %q", got, want)
	}
}

func TestExecutor_StdinAndCapture(t *testing.T) {
	e := NewExecutor(DefaultExecutorConfig(), nil)

	input := []byte("line one\nno trailing newline")
	exec, err := e.Run(context.Background(), Command{
		Name:          "cat",
		Path:          "cat",
		Stdin:         input,
		CaptureStdout: true,
	}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !bytes.Equal(exec.Stdout, input) {
		t.Errorf("Stdout = %q, want %q", exec.Stdout, input)
	}
}

func TestExecutor_Env(t *testing.T) {
	e := NewExecutor(ExecutorConfig{DefaultEnv: map[string]string{"A": "default", "B": "default"}}, nil)

	exec, err := e.Run(context.Background(), Command{
		Name:          "env",
		Path:          "sh",
		Args:          []string{"-c", `printf "%s %s" "$A" "$B"`},
		Env:           map[string]string{"B": "cmd"},
		CaptureStdout: true,
	}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if string(exec.Stdout) != "default cmd" {
		t.Errorf("Stdout = %q, want %q", exec.Stdout, "default cmd")
	}
}

func TestExecutor_Cancel(t *testing.T) {
	e := NewExecutor(ExecutorConfig{GracePeriod: 100 * time.Millisecond}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := e.Run(ctx, Command{Name: "sleep", Path: "sleep", Args: []string{"10"}}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancellation did not stop the command")
	}
}

func TestExecutor_Errors(t *testing.T) {
	e := NewExecutor(DefaultExecutorConfig(), nil)

	if _, err := e.Run(context.Background(), Command{Name: "empty"}, nil); err == nil {
		t.Error("expected error for empty command")
	}
	if _, err := e.Run(context.Background(), Command{Name: "m", Path: "true", Matcher: "nope"}, nil); err == nil {
		t.Error("expected error for unknown matcher")
	}
	if _, err := e.Run(context.Background(), Command{Name: "missing", Path: "/definitely/not/here"}, nil); err == nil {
		t.Error("expected error for missing program")
	}
}

func TestCommand_String(t *testing.T) {
	cmd := Command{Path: "karma", Args: []string{"start", "karma.conf.js", "--single-run", "it's"}}
	want := `karma start karma.conf.js --single-run 'it'\''s'`
	if got := cmd.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestShellEscape(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", "''"},
		{"simple", "simple"},
		{"with space", "'with space'"},
		{"--format=compact", "--format=compact"},
		{"$HOME", "'$HOME'"},
	}

	for _, tt := range tests {
		if got := shellEscape(tt.input); got != tt.want {
			t.Errorf("shellEscape(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
