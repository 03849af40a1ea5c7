package logging

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// writer is an io.Writer that splits its input stream into lines and writes
// those lines to an underlying logger.
type writer struct {
	// callback is the logging callback.
	callback func(string)
	// buffer is any incomplete line fragment left over from a previous write.
	buffer []byte
}

// trimCarriageReturn trims any single trailing carriage return from the end
// of a byte slice.
func trimCarriageReturn(buffer []byte) []byte {
	if len(buffer) > 0 && buffer[len(buffer)-1] == '\r' {
		return buffer[:len(buffer)-1]
	}
	return buffer
}

// Write implements io.Writer.Write.
func (w *writer) Write(buffer []byte) (int, error) {
	w.buffer = append(w.buffer, buffer...)

	var processed int
	remaining := w.buffer
	for {
		index := bytes.IndexByte(remaining, '\n')
		if index == -1 {
			break
		}
		w.callback(string(trimCarriageReturn(remaining[:index])))
		processed += index + 1
		remaining = remaining[index+1:]
	}

	if processed > 0 {
		leftover := len(w.buffer) - processed
		if leftover > 0 {
			copy(w.buffer[:leftover], w.buffer[processed:])
		}
		w.buffer = w.buffer[:leftover]
	}

	return len(buffer), nil
}

// Callback is the signature for an external log sink: invoked once per
// emitted record with its level and fully rendered line.
type Callback func(level Level, line string)

// Logger is the main logger type. It has the property that it still
// functions if nil, but it doesn't log anything. Loggers form a tree via
// Sublogger, each carrying a dotted category name ("csync.reconciler",
// etc). It is safe for concurrent use.
type Logger struct {
	// prefix is the dotted category name for this logger.
	prefix string
	// level is the verbosity threshold for this logger and its subloggers.
	level Level
	// callback, if non-nil, receives every emitted record in addition to
	// the standard log output.
	callback Callback
	// color reports whether ANSI coloring should be applied to stderr
	// output (only used by Warn/Error).
	color bool
}

// NewRoot creates a new root logger at the specified verbosity, optionally
// forwarding every record to callback.
func NewRoot(level Level, callback Callback) *Logger {
	return &Logger{
		level:    level,
		callback: callback,
		color:    isatty.IsTerminal(os.Stderr.Fd()),
	}
}

// RootLogger is an error-level root logger usable as a default when no explicit
// logging configuration is provided.
var RootLogger = &Logger{level: LevelError}

// Sublogger creates a new sublogger with the specified name.
func (l *Logger) Sublogger(name string) *Logger {
	if l == nil {
		return nil
	}
	prefix := name
	if l.prefix != "" {
		prefix = l.prefix + "." + name
	}
	return &Logger{
		prefix:   prefix,
		level:    l.level,
		callback: l.callback,
		color:    l.color,
	}
}

// Level returns the logger's verbosity threshold.
func (l *Logger) Level() Level {
	if l == nil {
		return LevelDisabled
	}
	return l.level
}

// SetLevel adjusts the logger's verbosity threshold.
func (l *Logger) SetLevel(level Level) {
	if l != nil {
		l.level = level
	}
}

// output is the internal logging method shared by all level-specific
// methods.
func (l *Logger) output(level Level, line string) {
	if l.prefix != "" {
		line = fmt.Sprintf("[%s] %s", l.prefix, line)
	}
	log.Output(4, line)
	if l.callback != nil {
		l.callback(level, line)
	}
}

func (l *Logger) logf(level Level, format string, v ...interface{}) {
	if l != nil && l.level >= level {
		l.output(level, fmt.Sprintf(format, v...))
	}
}

// Trace logs low-level execution information.
func (l *Logger) Trace(format string, v ...interface{}) { l.logf(LevelTrace, format, v...) }

// Debug logs advanced execution information.
func (l *Logger) Debug(format string, v ...interface{}) { l.logf(LevelDebug, format, v...) }

// Info logs basic execution information.
func (l *Logger) Info(format string, v ...interface{}) { l.logf(LevelInfo, format, v...) }

// Warn logs non-fatal error information.
func (l *Logger) Warn(format string, v ...interface{}) {
	if l == nil || l.level < LevelWarn {
		return
	}
	line := fmt.Sprintf(format, v...)
	if l.color {
		line = color.YellowString(line)
	}
	l.output(LevelWarn, line)
}

// Error logs fatal error information.
func (l *Logger) Error(format string, v ...interface{}) {
	if l == nil || l.level < LevelError {
		return
	}
	line := fmt.Sprintf(format, v...)
	if l.color {
		line = color.RedString(line)
	}
	l.output(LevelError, line)
}

// Writer returns an io.Writer that writes lines at LevelInfo.
func (l *Logger) Writer() io.Writer {
	if l == nil {
		return ioutil.Discard
	}
	return &writer{callback: func(s string) { l.Info("%s", s) }}
}
