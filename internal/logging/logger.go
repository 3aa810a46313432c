package logging

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/log"
)

// Logger is a wrapper around the charmbracelet log.Logger.
// Buffer is only set for loggers created by NewTestLogger.
type Logger struct {
	*log.Logger
	Buffer *bytes.Buffer
}

var (
	logger *Logger
	once   sync.Once
)

// CreateLogger sets up the process logger. DEBUG=1 switches on debug level,
// caller reporting and timestamps.
func CreateLogger() {
	once.Do(func() {
		logger = New(os.Stderr, os.Getenv("DEBUG") == "1")
	})
}

// New builds a logger writing to w.
func New(w io.Writer, debug bool) *Logger {
	if !debug {
		base := log.New(w)
		base.SetLevel(log.InfoLevel)
		return &Logger{Logger: base}
	}

	base := log.NewWithOptions(w, log.Options{
		ReportCaller:    true,
		ReportTimestamp: true,
		Prefix:          "scormhost",
	})
	base.SetLevel(log.DebugLevel)
	return &Logger{Logger: base}
}

// NewTestLogger returns a debug-level logger that records into a buffer.
func NewTestLogger() *Logger {
	buf := &bytes.Buffer{}
	base := log.NewWithOptions(buf, log.Options{Level: log.DebugLevel})
	return &Logger{Logger: base, Buffer: buf}
}

// GetOutput returns everything written to a test logger.
func (l *Logger) GetOutput() string {
	if l.Buffer == nil {
		return ""
	}
	return l.Buffer.String()
}

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	return &Logger{Logger: l.Logger.With(keyvals...), Buffer: l.Buffer}
}

// GetLogger returns the process logger.
func GetLogger() *Logger {
	ensureInitialized()
	return logger
}

// Info logs informational messages on the process logger.
func Info(msg interface{}, keyvals ...interface{}) {
	ensureInitialized()
	logger.Info(msg, keyvals...)
}

// Error logs error messages on the process logger.
func Error(msg interface{}, keyvals ...interface{}) {
	ensureInitialized()
	logger.Error(msg, keyvals...)
}

// Fatal logs a fatal message and exits the program.
func Fatal(msg interface{}, keyvals ...interface{}) {
	ensureInitialized()
	logger.Fatal(msg, keyvals...)
}

func ensureInitialized() {
	if logger == nil {
		CreateLogger()
	}
}
