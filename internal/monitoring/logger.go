// Package monitoring holds the process-wide progress logger and the choice of
// writers behind each package's ops, diag and trace streams.
package monitoring

import (
	"io"
	"log"
)

// Logf is the package-level progress logger used by the commands. It defaults
// to log.Printf but may be replaced by SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// LogWriters holds the io.Writers for each logging stream. A nil writer
// disables its stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

// Level selects how many streams are enabled.
type Level int

const (
	// Quiet enables only the ops stream.
	Quiet Level = iota
	// Verbose adds the diag stream.
	Verbose
	// Trace enables all three streams.
	Trace
)

// Streams returns writers for the given level, all directed at w.
func Streams(w io.Writer, level Level) LogWriters {
	lw := LogWriters{Ops: w}
	if level >= Verbose {
		lw.Diag = w
	}
	if level >= Trace {
		lw.Trace = w
	}
	return lw
}

// ParseLevel maps flag values onto a Level.
func ParseLevel(verbose, trace bool) Level {
	switch {
	case trace:
		return Trace
	case verbose:
		return Verbose
	default:
		return Quiet
	}
}

// Configure applies writers to every setter, typically the SetLogWriters
// functions of the packages a command uses.
func Configure(lw LogWriters, setters ...func(ops, diag, trace io.Writer)) {
	for _, set := range setters {
		set(lw.Ops, lw.Diag, lw.Trace)
	}
}
