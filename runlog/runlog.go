// Package runlog writes the log of a conversion run to a file, the console,
// both or neither. Verbose messages only ever go to the console.
package runlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// FilenameLayout names log files, one per run.
	FilenameLayout = "2006-01-02-150405"
	// DatetimeLayout is used for times within the log.
	DatetimeLayout = "2006-01-02 15:04:05-0700"
)

// Options configure the sinks of a logger.
type Options struct {
	// Dir enables the file sink, <Dir>/<start time>.log.
	Dir string
	// Console enables the console sink.
	Console bool
	// Verbose enables verbose messages, only if the console sink is enabled.
	Verbose   bool
	StartTime time.Time
	// Stdout and Stderr default to os.Stdout and os.Stderr.
	Stdout io.Writer
	Stderr io.Writer
}

// Logger writes run logs. It is not safe for concurrent use.
type Logger struct {
	filename string
	file     *os.File
	console  io.Writer
	stderr   io.Writer
	verbose  *logrus.Logger
	start    time.Time
}

// Open creates the log directory and file, if a file sink is requested.
func Open(opts Options) (*Logger, error) {
	if opts.StartTime.IsZero() {
		opts.StartTime = time.Now()
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	l := &Logger{
		stderr: opts.Stderr,
		start:  opts.StartTime,
	}
	if opts.Console {
		l.console = opts.Stdout
	}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("log directory: %w", err)
		}
		l.filename = filepath.Join(opts.Dir, opts.StartTime.Format(FilenameLayout)+".log")
		f, err := os.OpenFile(l.filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("log file: %w", err)
		}
		l.file = f
	}
	l.verbose = logrus.New()
	l.verbose.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableQuote: true})
	switch {
	case opts.Verbose && opts.Console:
		l.verbose.SetOutput(opts.Stdout)
		l.verbose.SetLevel(logrus.DebugLevel)
	default:
		l.verbose.SetOutput(io.Discard)
		l.verbose.SetLevel(logrus.InfoLevel)
	}
	if opts.Verbose && !opts.Console {
		l.Log("Verbose logging turned off, since logging to stdout is turned off.")
	}
	return l, nil
}

// Filename of the log file, empty if there is no file sink.
func (l *Logger) Filename() string {
	return l.filename
}

// Verbose reports whether verbose messages are shown.
func (l *Logger) Verbose() bool {
	return l.verbose.IsLevelEnabled(logrus.DebugLevel)
}

// Log appends lines to all sinks.
func (l *Logger) Log(lines ...string) {
	for _, line := range lines {
		line = strings.TrimRight(line, "\n") + "\n"
		if l.file != nil {
			if _, err := io.WriteString(l.file, line); err != nil {
				logrus.Warnf("runlog: %v", err)
			}
		}
		if l.console != nil {
			io.WriteString(l.console, line)
		}
	}
}

// Logf formats a single line.
func (l *Logger) Logf(format string, args ...interface{}) {
	l.Log(fmt.Sprintf(format, args...))
}

// Verbosef writes to the console only, if verbose logging is enabled.
func (l *Logger) Verbosef(format string, args ...interface{}) {
	l.verbose.Debugf(format, args...)
}

// Error is logged like any other line, but also shown on the console when the
// console sink is off.
func (l *Logger) Error(msg string) {
	l.Log(msg)
	if l.console == nil {
		io.WriteString(l.stderr, strings.TrimRight(msg, "\n")+"\n")
	}
}

// Start logs the beginning of a run.
func (l *Logger) Start() {
	l.Logf("Start conversion: %s.", l.start.Format(DatetimeLayout))
}

// Summary logs the summary lines for a run.
func (l *Logger) Summary(t Tally) {
	l.Log(Summarize(t)...)
}

// Close closes the log file.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
