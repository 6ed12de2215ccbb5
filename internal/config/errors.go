package config

import (
	"errors"
	"fmt"
)

// ErrConfiguration is the kind of every configuration failure: a missing or
// invalid config file, asset manifest, or setting.
var ErrConfiguration = errors.New("configuration error")

// Error describes a configuration failure.
type Error struct {
	// Path is the file or setting path involved.
	Path string
	// Line is the line number where a parse error occurred (if available).
	Line int
	// Column is the column number where a parse error occurred (if available).
	Column int
	// Msg describes the failure.
	Msg string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	loc := e.Path
	switch {
	case e.Line > 0 && e.Column > 0:
		loc = fmt.Sprintf("%s:%d:%d", e.Path, e.Line, e.Column)
	case e.Line > 0:
		loc = fmt.Sprintf("%s:%d", e.Path, e.Line)
	}
	if loc == "" {
		return fmt.Sprintf("%s: %s", ErrConfiguration, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", ErrConfiguration, loc, e.Msg)
}

// Is reports ErrConfiguration as the error kind.
func (e *Error) Is(target error) bool {
	return target == ErrConfiguration
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a configuration error for path.
func Errorf(path, format string, args ...any) error {
	return &Error{Path: path, Msg: fmt.Sprintf(format, args...)}
}
