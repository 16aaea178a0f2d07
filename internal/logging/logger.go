// Package logging provides the leveled logger used throughout the store.
//
// Components prefix their messages with a namespace tag so interleaved
// output from recovery, flush and manifest activity stays attributable.
package logging

import (
	"log"
	"os"
)

// Level controls which messages a logger emits.
type Level int

const (
	// DebugLevel emits everything.
	DebugLevel Level = iota

	// InfoLevel emits informational messages and above.
	InfoLevel

	// WarnLevel emits warnings and errors.
	WarnLevel

	// ErrorLevel emits only errors.
	ErrorLevel
)

// Namespace prefixes used by the store's components.
const (
	NamespaceDB       = "[db] "
	NamespaceRecovery = "[recovery] "
	NamespaceFlush    = "[flush] "
	NamespaceManifest = "[manifest] "
	NamespaceWAL      = "[wal] "
)

// Logger is the logging interface accepted in Options.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// StdLogger writes to a standard library log.Logger, filtering by level.
type StdLogger struct {
	level Level
	out   *log.Logger
}

// NewStdLogger returns a logger writing to stderr at the given level.
func NewStdLogger(level Level) *StdLogger {
	return &StdLogger{
		level: level,
		out:   log.New(os.Stderr, "", log.LstdFlags),
	}
}

// Default is the logger used when Options does not supply one.
var Default Logger = NewStdLogger(InfoLevel)

func (l *StdLogger) logf(level Level, tag, format string, args ...any) {
	if level < l.level {
		return
	}
	l.out.Printf(tag+format, args...)
}

// Debugf logs at debug level.
func (l *StdLogger) Debugf(format string, args ...any) {
	l.logf(DebugLevel, "DEBUG ", format, args...)
}

// Infof logs at info level.
func (l *StdLogger) Infof(format string, args ...any) {
	l.logf(InfoLevel, "INFO ", format, args...)
}

// Warnf logs at warn level.
func (l *StdLogger) Warnf(format string, args ...any) {
	l.logf(WarnLevel, "WARN ", format, args...)
}

// Errorf logs at error level.
func (l *StdLogger) Errorf(format string, args ...any) {
	l.logf(ErrorLevel, "ERROR ", format, args...)
}

// OrDefault returns l if non-nil, otherwise the package default.
func OrDefault(l Logger) Logger {
	if l == nil {
		return Default
	}
	return l
}
