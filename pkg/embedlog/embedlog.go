// Package embedlog provides a logger that is embedded into services.
package embedlog

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Logger is a small printf-style logger meant to be embedded into structs,
// so services can call Printf and Errorf directly.
type Logger struct {
	out     *log.Logger
	err     *log.Logger
	verbose bool
}

// NewLogger returns Logger writing to the given writers.
func NewLogger(out, errOut io.Writer, verbose bool) Logger {
	return Logger{
		out:     log.New(out, "", log.LstdFlags|log.Lmicroseconds),
		err:     log.New(errOut, "E ", log.LstdFlags|log.Lmicroseconds),
		verbose: verbose,
	}
}

// SetStdLoggers sets stdout/stderr loggers.
func (l *Logger) SetStdLoggers(verbose bool) {
	*l = NewLogger(os.Stdout, os.Stderr, verbose)
}

// Printf prints info message.
func (l Logger) Printf(format string, v ...interface{}) {
	if l.out == nil {
		return
	}
	_ = l.out.Output(2, fmt.Sprintf(format, v...))
}

// Debugf prints message only in verbose mode.
func (l Logger) Debugf(format string, v ...interface{}) {
	if l.out == nil || !l.verbose {
		return
	}
	_ = l.out.Output(2, "D "+fmt.Sprintf(format, v...))
}

// Errorf prints error message.
func (l Logger) Errorf(format string, v ...interface{}) {
	if l.err == nil {
		return
	}
	_ = l.err.Output(2, fmt.Sprintf(format, v...))
}

// Verbose reports whether debug output is enabled.
func (l Logger) Verbose() bool { return l.verbose }
