// Package logger provides the process-wide leveled logger used by jmsession.
//
// Output goes through a decred/slog backend. By default it writes to stderr;
// InitFile adds a rotating log file under the jmsession home directory.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
)

// Level is the verbosity threshold used by the logger.
//
// Lower values are more verbose.
type Level = slog.Level

const (
	// LevelTrace enables extremely verbose logs (push frames, reducer inputs).
	LevelTrace = slog.LevelTrace
	// LevelDebug enables verbose logs intended for debugging.
	LevelDebug = slog.LevelDebug
	// LevelInfo enables informational logs (default).
	LevelInfo = slog.LevelInfo
	// LevelWarn enables only warnings and errors.
	LevelWarn = slog.LevelWarn
	// LevelError enables only error logs.
	LevelError = slog.LevelError
)

const (
	subsystem = "JMSN"

	// rotateThresholdKB is the size at which the log file is rolled.
	rotateThresholdKB = 32 * 1024
	maxLogRolls       = 8
)

var (
	mu    sync.RWMutex
	level = LevelInfo
	log   = newLogger(os.Stderr, LevelInfo)
)

func newLogger(w io.Writer, lvl Level) slog.Logger {
	l := slog.NewBackend(w).Logger(subsystem)
	l.SetLevel(lvl)
	return l
}

// teeWriter writes to the log rotator and optionally mirrors to stderr.
type teeWriter struct {
	*rotator.Rotator
	stderr bool
}

// Write writes p to the rotating file, and to stderr when mirroring.
func (w teeWriter) Write(p []byte) (int, error) {
	if w.stderr {
		_, _ = os.Stderr.Write(p)
	}
	return w.Rotator.Write(p)
}

// ParseLevel parses a log level string into a Level.
func ParseLevel(raw string) (Level, error) {
	lvl, ok := slog.LevelFromString(strings.ToLower(strings.TrimSpace(raw)))
	if !ok {
		return LevelInfo, fmt.Errorf("unknown log level %q", raw)
	}
	return lvl, nil
}

// SetOutput replaces the writer used by the global logger.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	log = newLogger(w, level)
}

// InitFile routes log output to a rotating file at path. When stderr is true
// every line is mirrored to stderr as well. The returned function closes the
// rotator and must be called on shutdown.
func InitFile(path string, stderr bool) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	r, err := rotator.New(path, rotateThresholdKB, false, maxLogRolls)
	if err != nil {
		return nil, fmt.Errorf("failed to create log rotator: %w", err)
	}
	SetOutput(teeWriter{Rotator: r, stderr: stderr})
	return func() {
		SetOutput(os.Stderr)
		_ = r.Close()
	}, nil
}

// SetLevel sets the global log level threshold.
func SetLevel(lvl Level) {
	mu.Lock()
	defer mu.Unlock()
	level = lvl
	log.SetLevel(lvl)
}

// Enabled reports whether a level would be emitted by the current configuration.
func Enabled(lvl Level) bool {
	mu.RLock()
	defer mu.RUnlock()
	return lvl >= level
}

func current() slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Tracef logs at TRACE level.
func Tracef(format string, args ...any) { current().Tracef(format, args...) }

// Debugf logs at DEBUG level.
func Debugf(format string, args ...any) { current().Debugf(format, args...) }

// Infof logs at INFO level.
func Infof(format string, args ...any) { current().Infof(format, args...) }

// Warnf logs at WARN level.
func Warnf(format string, args ...any) { current().Warnf(format, args...) }

// Errorf logs at ERROR level.
func Errorf(format string, args ...any) { current().Errorf(format, args...) }
