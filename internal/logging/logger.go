// Package logging is the process-wide structured logger shared by the
// coordinator and worker binaries.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

var (
	mu sync.RWMutex

	// Logger is the global logger instance. It writes to stderr at info
	// level until Init replaces it.
	Logger = newLogger(os.Stderr, log.InfoLevel)
)

func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           level,
	})
}

// ParseLevel maps a LOG_LEVEL style string to a log level. Unknown values
// fall back to info.
func ParseLevel(s string) log.Level {
	level, err := log.ParseLevel(strings.TrimSpace(s))
	if err != nil {
		return log.InfoLevel
	}
	return level
}

// Init replaces the global logger with one writing to w at the given level.
func Init(w io.Writer, level string) {
	mu.Lock()
	defer mu.Unlock()
	Logger = newLogger(w, ParseLevel(level))
}

func current() *log.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return Logger
}

// Info logs an info message
func Info(msg string, keyvals ...interface{}) {
	current().Info(msg, keyvals...)
}

// Debug logs a debug message
func Debug(msg string, keyvals ...interface{}) {
	current().Debug(msg, keyvals...)
}

// Warn logs a warning message
func Warn(msg string, keyvals ...interface{}) {
	current().Warn(msg, keyvals...)
}

// Error logs an error message
func Error(msg string, keyvals ...interface{}) {
	current().Error(msg, keyvals...)
}

// With returns a child logger that prefixes every entry with keyvals.
func With(keyvals ...interface{}) *log.Logger {
	return current().With(keyvals...)
}
