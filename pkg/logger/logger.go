package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level represents log level
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
	LevelDebug Level = "DEBUG"
)

// Options controls where and how entries are written.
type Options struct {
	Level  string
	Pretty bool
	Output io.Writer
}

// Logger provides structured logging backed by zerolog
type Logger struct {
	zl zerolog.Logger
}

// New creates a new logger writing JSON to stdout at info level
func New() *Logger {
	return NewWithOptions(Options{})
}

// NewWithOptions creates a logger from options. Unknown levels fall back to info.
func NewWithOptions(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	lvl, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		lvl = zerolog.InfoLevel
	}

	return &Logger{
		zl: zerolog.New(out).Level(lvl).With().Timestamp().Logger(),
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger that always carries the given fields
func (l *Logger) With(fields ...Field) *Logger {
	ctx := l.zl.With()
	for _, field := range fields {
		ctx = ctx.Str(field.Key, field.Value)
	}
	return &Logger{zl: ctx.Logger()}
}

// Log writes a structured log entry
func (l *Logger) Log(level Level, message string, fields ...Field) {
	var event *zerolog.Event
	switch level {
	case LevelError:
		event = l.zl.Error()
	case LevelWarn:
		event = l.zl.Warn()
	case LevelDebug:
		event = l.zl.Debug()
	default:
		event = l.zl.Info()
	}
	for _, field := range fields {
		event = event.Str(field.Key, field.Value)
	}
	event.Msg(message)
}

// Info logs an info message
func (l *Logger) Info(message string, fields ...Field) {
	l.Log(LevelInfo, message, fields...)
}

// Warn logs a warning
func (l *Logger) Warn(message string, fields ...Field) {
	l.Log(LevelWarn, message, fields...)
}

// Error logs an error message
func (l *Logger) Error(message string, fields ...Field) {
	l.Log(LevelError, message, fields...)
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...Field) {
	l.Log(LevelDebug, message, fields...)
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value string
}

// F creates a Field
func F(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Err creates an "error" Field, tolerating nil
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: ""}
	}
	return Field{Key: "error", Value: err.Error()}
}
