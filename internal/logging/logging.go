// Package logging provides a small tagged, leveled wrapper over the
// standard library logger used by every node and client component.
package logging

import (
	"log"
	"os"
)

// Level controls which messages a Logger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger tags every line with a component name and a level.
type Logger struct {
	component string
	min       Level
	out       *log.Logger
}

// New creates a Logger for the given component, writing to stderr.
func New(component string) *Logger {
	return &Logger{
		component: component,
		min:       LevelInfo,
		out:       log.New(os.Stderr, "", log.LstdFlags),
	}
}

// SetLevel changes the minimum level that is emitted.
func (l *Logger) SetLevel(level Level) {
	l.min = level
}

func (l *Logger) logf(level Level, format string, args ...interface{}) {
	if level < l.min {
		return
	}
	l.out.Printf("[%s] %s: "+format, append([]interface{}{level, l.component}, args...)...)
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.logf(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.logf(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.logf(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.logf(LevelError, format, args...) }
