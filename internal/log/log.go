// ABOUTME: Leveled logging for the host and engine processes, always on stderr
// ABOUTME: Global level via SetLevel; Named loggers prefix lines with a component or engine id

package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Level constants matching slog levels.
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

var (
	level atomic.Int64

	outMu sync.Mutex
	out   io.Writer = os.Stderr
)

func init() {
	level.Store(int64(LevelInfo))
}

// SetLevel sets the global log level.
func SetLevel(l slog.Level) {
	level.Store(int64(l))
}

// GetLevel returns the current log level.
func GetLevel() slog.Level {
	return slog.Level(level.Load())
}

// ParseLevel maps "debug", "info", "warn"/"warning" and "error" to a level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "warning":
		return LevelWarn, nil
	case "trace":
		return LevelDebug, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// SetOutput redirects all log output and returns the previous writer.
// Engines must never pass os.Stdout: it carries the protocol.
func SetOutput(w io.Writer) io.Writer {
	outMu.Lock()
	defer outMu.Unlock()
	prev := out
	out = w
	return prev
}

func emit(l slog.Level, prefix, format string, args []any) {
	if l < GetLevel() {
		return
	}
	tag := l.String()
	if l == LevelWarn {
		tag = "WARN"
	}
	msg := fmt.Sprintf(format, args...)

	outMu.Lock()
	defer outMu.Unlock()
	if prefix != "" {
		fmt.Fprintf(out, "[%s] %s: %s\n", tag, prefix, msg)
		return
	}
	fmt.Fprintf(out, "[%s] %s\n", tag, msg)
}

// Debug logs a debug message if the level allows it.
func Debug(format string, args ...any) { emit(LevelDebug, "", format, args) }

// Info logs an info message if the level allows it.
func Info(format string, args ...any) { emit(LevelInfo, "", format, args) }

// Warn logs a warning message if the level allows it.
func Warn(format string, args ...any) { emit(LevelWarn, "", format, args) }

// Error logs an error message if the level allows it.
func Error(format string, args ...any) { emit(LevelError, "", format, args) }

// Logger prefixes every line with a name.
type Logger struct {
	name string
}

// Named returns a logger whose lines start with name.
func Named(name string) *Logger {
	return &Logger{name: name}
}

// Name returns the prefix.
func (l *Logger) Name() string { return l.name }

func (l *Logger) Debug(format string, args ...any) { emit(LevelDebug, l.name, format, args) }
func (l *Logger) Info(format string, args ...any)  { emit(LevelInfo, l.name, format, args) }
func (l *Logger) Warn(format string, args ...any)  { emit(LevelWarn, l.name, format, args) }
func (l *Logger) Error(format string, args ...any) { emit(LevelError, l.name, format, args) }

// Log emits at a level named by a string, as engines send it in log
// events. Unknown names log at info.
func (l *Logger) Log(levelName, format string, args ...any) {
	lv, err := ParseLevel(levelName)
	if err != nil {
		lv = LevelInfo
	}
	emit(lv, l.name, format, args)
}
