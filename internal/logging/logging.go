// Package logging provides structured logging for taskforge.
//
// Logger keeps a small printf-style API (Debug/Info/Warn/Error plus
// WithField/WithComponent) on top of zap. When a log file is configured,
// output is rotated with lumberjack.
package logging

import (
	"io"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level represents the severity level of a log message.
type Level int8

const (
	// LevelDebug is for detailed debugging information.
	LevelDebug Level = iota
	// LevelInfo is for general informational messages.
	LevelInfo
	// LevelWarn is for warning messages.
	LevelWarn
	// LevelError is for error messages.
	LevelError
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zap() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel parses a string into a Level.
// Unknown values fall back to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Config configures the logger.
type Config struct {
	// Level is the minimum log level to output.
	Level Level

	// Output is where logs are written when File is empty. Defaults to os.Stderr.
	Output io.Writer

	// File, when set, sends output to a rotated log file instead of Output.
	File string

	// MaxSizeMB is the size at which the log file is rotated.
	MaxSizeMB int

	// MaxBackups is the number of rotated files to keep.
	MaxBackups int

	// MaxAgeDays is the number of days rotated files are kept.
	MaxAgeDays int

	// Name is the root logger name.
	Name string

	// Color colours level names. It is ignored for log files and for
	// outputs that are not terminals.
	Color bool
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:      LevelInfo,
		Output:     os.Stderr,
		MaxSizeMB:  10,
		MaxBackups: 5,
		MaxAgeDays: 7,
		Name:       "taskforge",
	}
}

// Logger provides structured logging.
//
// Logger is safe for concurrent use. Derived loggers (WithField, WithComponent)
// share the level of their parent.
type Logger struct {
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
	base  *zap.Logger
}

// New creates a new logger with the given configuration.
func New(cfg Config) *Logger {
	level := zap.NewAtomicLevelAt(cfg.Level.zap())

	var sink zapcore.WriteSyncer
	color := false
	if cfg.File != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			LocalTime:  true,
		})
	} else {
		out := cfg.Output
		if out == nil {
			out = os.Stderr
		}
		sink = zapcore.AddSync(out)
		color = cfg.Color && isTerminal(out)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		CallerKey:      "C",
		MessageKey:     "M",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if color {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), sink, level)
	base := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	if cfg.Name != "" {
		base = base.Named(cfg.Name)
	}

	return &Logger{
		sugar: base.Sugar(),
		level: level,
		base:  base,
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(f.Fd()))
}

// Nop returns a logger that discards all output.
func Nop() *Logger {
	base := zap.NewNop()
	return &Logger{
		sugar: base.Sugar(),
		level: zap.NewAtomicLevelAt(zapcore.ErrorLevel),
		base:  base,
	}
}

// WithField returns a new logger with the given field added.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{
		sugar: l.sugar.With(key, value),
		level: l.level,
		base:  l.base,
	}
}

// WithFields returns a new logger with the given fields added.
// Fields are attached in key order so output is stable.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, len(fields)*2)
	for _, k := range keys {
		args = append(args, k, fields[k])
	}

	return &Logger{
		sugar: l.sugar.With(args...),
		level: l.level,
		base:  l.base,
	}
}

// WithComponent returns a new logger with the component field set.
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithField("component", component)
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(level.zap())
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return l.level.Enabled(level.zap())
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) {
	if len(args) > 0 {
		l.sugar.Debugf(msg, args...)
		return
	}
	l.sugar.Debug(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string, args ...any) {
	if len(args) > 0 {
		l.sugar.Infof(msg, args...)
		return
	}
	l.sugar.Info(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...any) {
	if len(args) > 0 {
		l.sugar.Warnf(msg, args...)
		return
	}
	l.sugar.Warn(msg)
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...any) {
	if len(args) > 0 {
		l.sugar.Errorf(msg, args...)
		return
	}
	l.sugar.Error(msg)
}

// Zap returns the underlying zap logger.
func (l *Logger) Zap() *zap.Logger {
	return l.base
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}
