// Package logging has two outputs: a console Logger for human-facing CLI
// messages, and a zap-backed Sink that receives one structured operation
// record per public service call.
package logging

import (
	"fmt"
	"io"
	"os"
)

// Logger writes short, symbol-prefixed lines to stderr.
type Logger struct {
	debug   bool
	noColor bool
	out     io.Writer
}

// New creates a console logger writing to stderr.
func New(debug, noColor bool) *Logger {
	return NewWithWriter(os.Stderr, debug, noColor)
}

// NewWithWriter creates a console logger writing to w.
func NewWithWriter(w io.Writer, debug, noColor bool) *Logger {
	return &Logger{debug: debug, noColor: noColor, out: w}
}

// DebugEnabled reports whether Debug lines are printed.
func (l *Logger) DebugEnabled() bool { return l.debug }

func (l *Logger) print(color, symbol, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if l.noColor {
		fmt.Fprintf(l.out, "%s %s\n", symbol, msg)
		return
	}
	fmt.Fprintf(l.out, "\033[%sm%s\033[0m %s\n", color, symbol, msg)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.print("32", "✓", format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.print("33", "⚠", format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.print("31", "✗", format, args...)
}

// Debug logs a message only in debug mode
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.debug {
		return
	}
	l.print("36", "[DEBUG]", format, args...)
}
