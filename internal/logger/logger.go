package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

var (
	mu sync.RWMutex

	base *slog.Logger

	DebugEnabled = false

	logFile *os.File
)

// InitLogging sets up logging based on configuration.
// Nothing is written unless debugMode is set.
func InitLogging(debugMode bool, logPath string) error {
	mu.Lock()
	defer mu.Unlock()

	DebugEnabled = debugMode

	if !DebugEnabled || logPath == "" {
		return nil
	}

	err := os.MkdirAll(filepath.Dir(logPath), 0o755)
	if err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	logFile = f
	base = newLogger(f)

	return nil
}

// SetOutput routes log output to w and enables debug logging.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	DebugEnabled = w != nil
	if w == nil {
		base = nil
		return
	}

	base = newLogger(w)
}

// Close closes the log file if open.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}

	base = nil
}

func newLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func emit(level slog.Level, msg string, kv ...any) {
	mu.RLock()
	l := base
	enabled := DebugEnabled
	mu.RUnlock()

	if !enabled || l == nil {
		return
	}

	l.Log(context.Background(), level, msg, kv...)
}

func Infof(format string, v ...any) {
	emit(slog.LevelInfo, fmt.Sprintf(format, v...))
}

// Errorf logs an error message if debug mode is enabled.
func Errorf(format string, v ...any) {
	emit(slog.LevelError, fmt.Sprintf(format, v...))
}

func Debugf(format string, v ...any) {
	emit(slog.LevelDebug, fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	emit(slog.LevelWarn, fmt.Sprintf(format, v...))
}

// Warnw logs msg with key/value attributes.
func Warnw(msg string, kv ...any) {
	emit(slog.LevelWarn, msg, kv...)
}

// Errorw logs msg with key/value attributes.
func Errorw(msg string, kv ...any) {
	emit(slog.LevelError, msg, kv...)
}
