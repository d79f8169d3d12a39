// Package logging defines the minimal interface that all loggers in imgpatch must implement.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/apex/log"
	"golang.org/x/term"

	"github.com/imgpatch/imgpatch/internal/style"
)

// std time format
const timeFmt = "2006/01/02 15:04:05.000000"

// InvalidFileDescriptor based on https://golang.org/src/os/file_unix.go#L56
const InvalidFileDescriptor = ^(uintptr(0))

// Level represents a logging severity for writer selection.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// Logger defines behavior required by a logging package used by imgpatch libraries.
type Logger interface {
	Debug(msg string)
	Debugf(fmt string, v ...interface{})

	Info(msg string)
	Infof(fmt string, v ...interface{})

	Warn(msg string)
	Warnf(fmt string, v ...interface{})

	Error(msg string)
	Errorf(fmt string, v ...interface{})

	Writer() io.Writer

	IsVerbose() bool
}

// LogWithWriters is a logger used with the imgpatch CLI, routing warnings and
// errors to a separate stream so they can be told apart programmatically.
type LogWithWriters struct {
	sync.Mutex
	log.Logger
	wantTime bool
	clock    func() time.Time
	out      io.Writer
	errOut   io.Writer
}

// NewLogWithWriters creates a logger to be used with the imgpatch CLI.
func NewLogWithWriters(stdout, stderr io.Writer, opts ...func(*LogWithWriters)) *LogWithWriters {
	lw := &LogWithWriters{
		out:    stdout,
		errOut: stderr,
		clock:  time.Now,
	}
	lw.Logger.Handler = lw
	lw.Logger.Level = log.InfoLevel

	for _, opt := range opts {
		opt(lw)
	}

	return lw
}

// WithClock is an option used to initialize a LogWithWriters with a given clock function.
func WithClock(clock func() time.Time) func(writers *LogWithWriters) {
	return func(logger *LogWithWriters) {
		logger.clock = clock
	}
}

// WithVerbose is an option used to initialize a LogWithWriters with verbose logging.
func WithVerbose() func(writers *LogWithWriters) {
	return func(logger *LogWithWriters) {
		logger.Level = log.DebugLevel
	}
}

// HandleLog prints entries to the appropriate stream.
func (lw *LogWithWriters) HandleLog(e *log.Entry) error {
	lw.Lock()
	defer lw.Unlock()

	writer := lw.out
	if e.Level >= log.WarnLevel {
		writer = lw.errOut
	}

	if lw.wantTime {
		ts := lw.clock().Format(timeFmt)
		_, err := fmt.Fprintf(writer, "%s %s%s\n", ts, formatLevel(e.Level), e.Message)
		return err
	}

	_, err := fmt.Fprintf(writer, "%s%s\n", formatLevel(e.Level), e.Message)
	return err
}

// WriterForLevel returns a Writer for the given Level. Entries below the
// logger's threshold are discarded.
func (lw *LogWithWriters) WriterForLevel(level Level) io.Writer {
	if !lw.isEnabled(level) {
		return io.Discard
	}

	if level == WarnLevel || level == ErrorLevel {
		return lw.errOut
	}

	return lw.out
}

// Writer returns the base Writer for this logger.
func (lw *LogWithWriters) Writer() io.Writer {
	return lw.out
}

// WantTime turns timestamps on in log entries.
func (lw *LogWithWriters) WantTime(f bool) {
	lw.wantTime = f
}

// WantQuiet reduces the logging level if quiet is true.
func (lw *LogWithWriters) WantQuiet(f bool) {
	if f {
		lw.Logger.Level = log.WarnLevel
	}
}

// WantVerbose increases the logging level if verbose is true.
func (lw *LogWithWriters) WantVerbose(f bool) {
	if f {
		lw.Logger.Level = log.DebugLevel
	}
}

// IsVerbose returns whether verbose logging is on.
func (lw *LogWithWriters) IsVerbose() bool {
	return lw.Logger.Level == log.DebugLevel
}

func (lw *LogWithWriters) isEnabled(level Level) bool {
	var apexLevel log.Level
	switch level {
	case DebugLevel:
		apexLevel = log.DebugLevel
	case InfoLevel:
		apexLevel = log.InfoLevel
	case WarnLevel:
		apexLevel = log.WarnLevel
	default:
		apexLevel = log.ErrorLevel
	}

	return apexLevel >= lw.Logger.Level
}

func formatLevel(level log.Level) string {
	switch level {
	case log.ErrorLevel:
		return style.Error("ERROR: ")
	case log.WarnLevel:
		return style.Warn("Warning: ")
	case log.DebugLevel:
		return style.Waiting("DEBUG: ")
	}
	return ""
}

// GetWriterForLevel retrieves the appropriate Writer for the log level provided.
//
// See LogWithWriters.WriterForLevel.
func GetWriterForLevel(logger Logger, level Level) io.Writer {
	if lw, ok := logger.(interface {
		WriterForLevel(level Level) io.Writer
	}); ok {
		return lw.WriterForLevel(level)
	}

	return logger.Writer()
}

// IsTerminal returns whether a writer is a terminal, along with its file descriptor.
func IsTerminal(w io.Writer) (uintptr, bool) {
	if f, ok := w.(*os.File); ok {
		return f.Fd(), term.IsTerminal(int(f.Fd()))
	}

	return InvalidFileDescriptor, false
}
