// Package xlog wraps logrus with the field conventions used across h2 and
// quic: every log line is keyed by connection id and, where applicable,
// stream id, replacing the teacher's sc.vlogf/sc.logf/sc.condlogf trio of
// fmt-string loggers with structured fields. The delivery backend stays
// pluggable per design note: callers inject any logrus.FieldLogger.
package xlog

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Verbose mirrors the teacher's package-level VerboseLogs switch.
var Verbose = false

// Logger is the narrow surface h2 and quic code depend on.
type Logger struct {
	entry *logrus.Entry
}

// New wraps base (nil means the standard logrus logger) for a connection.
func New(base logrus.FieldLogger, connID uint64) *Logger {
	if base == nil {
		base = logrus.StandardLogger()
	}
	return &Logger{entry: base.WithField("conn", connID)}
}

// WithStream returns a derived logger scoped to one stream.
func (l *Logger) WithStream(streamID uint32) *Logger {
	return &Logger{entry: l.entry.WithField("stream", streamID)}
}

func (l *Logger) Debugf(format string, args ...any) {
	if Verbose {
		l.entry.Debugf(format, args...)
	}
}

func (l *Logger) Infof(format string, args ...any) {
	l.entry.Infof(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.entry.Warnf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.entry.Errorf(format, args...)
}

// CondErrorf logs err at Error unless it looks like a routine close, in
// which case it is logged at Debug — this is the teacher's condlogf,
// generalized.
func (l *Logger) CondErrorf(err error, format string, args ...any) {
	if err == nil {
		return
	}
	if strings.Contains(err.Error(), "use of closed network connection") {
		l.Debugf(format, args...)
		return
	}
	l.entry.WithError(err).Errorf(format, args...)
}
