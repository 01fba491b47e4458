package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel sets the level shared by every component logger
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	base.SetLevel(lvl)
	return nil
}

// SetOutput redirects every component logger
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

// Logger provides structured logging for pipeline components
type Logger struct {
	prefix string
	entry  *logrus.Entry
}

// NewLogger creates a new logger with a prefix
func NewLogger(prefix string) *Logger {
	return &Logger{
		prefix: prefix,
		entry:  base.WithField("component", prefix),
	}
}

// With returns a child logger that always carries the given key-value pairs
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{
		prefix: l.prefix,
		entry:  l.entry.WithFields(toFields(keysAndValues)),
	}
}

// Info logs an informational message with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(toFields(keysAndValues)).Info(msg)
}

// Warn logs a warning message with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(toFields(keysAndValues)).Warn(msg)
}

// Error logs an error message with key-value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(toFields(keysAndValues)).Error(msg)
}

// Debug logs a debug message with key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(toFields(keysAndValues)).Debug(msg)
}

// Printf satisfies the printf-style logger interfaces of third-party libraries
func (l *Logger) Printf(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

// Odd trailing keys are dropped.
func toFields(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}

// Logrus exposes the underlying entry for libraries that take a leveled
// logger, such as the asynq server.
func (l *Logger) Logrus() *logrus.Entry {
	return l.entry
}
