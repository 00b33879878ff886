package logging

import (
	"fmt"
	"io"
	"log"
	"strings"
)

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps config strings to a Level; unknown values mean info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) tag() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger gates a standard *log.Logger by level. The zero value and a nil
// *Logger discard everything.
type Logger struct {
	base  *log.Logger
	level Level
}

// New wraps base. A nil base discards output.
func New(base *log.Logger, level Level) *Logger {
	return &Logger{base: base, level: level}
}

// NewWriter builds a Logger with the relay's standard flags and prefix.
func NewWriter(w io.Writer, prefix string, level Level) *Logger {
	return New(log.New(w, prefix, log.LstdFlags|log.Lmicroseconds), level)
}

// Discard returns a Logger that drops everything.
func Discard() *Logger { return &Logger{} }

// With returns a Logger that shares output but uses a different prefix.
func (l *Logger) With(prefix string) *Logger {
	if l == nil || l.base == nil {
		return l
	}
	return New(log.New(l.base.Writer(), prefix, l.base.Flags()), l.level)
}

// Enabled reports whether messages at level are written.
func (l *Logger) Enabled(level Level) bool {
	return l != nil && l.base != nil && level >= l.level
}

func (l *Logger) logf(level Level, format string, args ...any) {
	if !l.Enabled(level) {
		return
	}
	_ = l.base.Output(3, "["+level.tag()+"] "+fmt.Sprintf(format, args...))
}

func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, format, args...) }

// Std exposes the underlying logger for libraries that want a *log.Logger.
func (l *Logger) Std() *log.Logger {
	if l == nil || l.base == nil {
		return log.New(io.Discard, "", 0)
	}
	return l.base
}
