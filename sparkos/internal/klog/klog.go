// Package klog is the kernel's leveled logger. Lines go to a line sink such
// as hal.Logger; the level tag at the start of each line is what host
// loggers key colours on.
package klog

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Sink receives formatted lines.
type Sink interface {
	WriteLineString(s string)
}

// Mask selects which levels are written.
type Mask uint32

const (
	Nothing   Mask = 0x0
	ErrorMask Mask = 0x1
	WarnMask  Mask = 0x2
	InfoMask  Mask = 0x4
	DebugMask Mask = 0x8
)

// Tags prefixed to lines of each level.
const (
	ErrorTag = "ERROR:"
	WarnTag  = " WARN:"
	InfoTag  = " INFO:"
	DebugTag = "DEBUG:"
)

// LevelMask returns the mask enabling level and everything more severe.
// Unknown names yield the info mask.
func LevelMask(level string) Mask {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "none", "off":
		return Nothing
	case "error":
		return ErrorMask
	case "warn", "warning":
		return ErrorMask | WarnMask
	case "debug":
		return ErrorMask | WarnMask | InfoMask | DebugMask
	default:
		return ErrorMask | WarnMask | InfoMask
	}
}

// Logger writes leveled lines with a fixed prefix. A nil *Logger or a
// Logger without a sink discards everything.
type Logger struct {
	sink   Sink
	prefix string
	mask   atomic.Uint32
}

// New returns a logger writing to sink.
func New(sink Sink, prefix string, mask Mask) *Logger {
	l := &Logger{sink: sink, prefix: prefix}
	l.mask.Store(uint32(mask))
	return l
}

// With returns a logger on the same sink, starting from the current mask,
// with an extended prefix.
func (l *Logger) With(prefix string) *Logger {
	if l == nil {
		return nil
	}
	return New(l.sink, l.prefix+prefix, l.Mask())
}

// SetMask replaces the level mask and returns the previous one.
func (l *Logger) SetMask(m Mask) Mask {
	if l == nil {
		return Nothing
	}
	return Mask(l.mask.Swap(uint32(m)))
}

// Mask returns the level mask.
func (l *Logger) Mask() Mask {
	if l == nil {
		return Nothing
	}
	return Mask(l.mask.Load())
}

// Enabled reports whether lines of level m are written.
func (l *Logger) Enabled(m Mask) bool {
	return l != nil && l.sink != nil && l.Mask()&m != 0
}

func (l *Logger) logf(m Mask, tag, format string, args ...any) {
	if !l.Enabled(m) {
		return
	}
	l.sink.WriteLineString(tag + " " + l.prefix + fmt.Sprintf(format, args...))
}

// Errorf logs at the error level.
func (l *Logger) Errorf(format string, args ...any) { l.logf(ErrorMask, ErrorTag, format, args...) }

// Warnf logs at the warn level.
func (l *Logger) Warnf(format string, args ...any) { l.logf(WarnMask, WarnTag, format, args...) }

// Infof logs at the info level.
func (l *Logger) Infof(format string, args ...any) { l.logf(InfoMask, InfoTag, format, args...) }

// Debugf logs at the debug level.
func (l *Logger) Debugf(format string, args ...any) { l.logf(DebugMask, DebugTag, format, args...) }
