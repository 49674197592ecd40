// Package xlog is the structured-logging front-end for lattice
// services, shaped after the teacher's logger.go (Print/Printf/Printj
// plus a Debug/Info/Warn/Error/Fatal level family with matching "j"
// structured variants) but backed by github.com/sirupsen/logrus, a
// structured logger carried by the retrieval pack's docker-compose
// module, instead of the teacher's hand-rolled text/template
// formatter.
package xlog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps a *logrus.Logger with the teacher's level-method
// surface, so request logging and filter diagnostics read the same way
// regardless of which format the operator picked.
type Logger struct {
	entry *logrus.Logger
}

// Format selects the on-wire rendering of each log line.
type Format int

const (
	// Console renders key=value pairs on one line, readable in a
	// terminal, the way the teacher's default text/template output
	// does.
	Console Format = iota
	// JSON renders one JSON object per line, for log aggregation.
	JSON
)

// New returns a Logger writing to w in the given format and level.
// level is one of "debug", "info", "warn", "error" (case-insensitive);
// an unrecognized or empty level defaults to "info".
func New(w io.Writer, format Format, level string) *Logger {
	if w == nil {
		w = os.Stdout
	}

	l := logrus.New()
	l.SetOutput(w)

	switch format {
	case JSON:
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}

	l.SetLevel(lvl)

	return &Logger{entry: l}
}

func (l *Logger) Debug(args ...interface{}) { l.entry.Debug(args...) }
func (l *Logger) Info(args ...interface{})  { l.entry.Info(args...) }
func (l *Logger) Warn(args ...interface{})  { l.entry.Warn(args...) }
func (l *Logger) Error(args ...interface{}) { l.entry.Error(args...) }
func (l *Logger) Fatal(args ...interface{}) { l.entry.Fatal(args...) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
func (l *Logger) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }

// Debugj logs fields at debug level, the structured counterpart of the
// teacher's Debugj(map[string]interface{}).
func (l *Logger) Debugj(fields map[string]interface{}) { l.entry.WithFields(fields).Debug() }
func (l *Logger) Infoj(fields map[string]interface{})  { l.entry.WithFields(fields).Info() }
func (l *Logger) Warnj(fields map[string]interface{})  { l.entry.WithFields(fields).Warn() }
func (l *Logger) Errorj(fields map[string]interface{}) { l.entry.WithFields(fields).Error() }

// WithFields returns an entry pre-populated with fields, for callers
// that want to attach a fixed set of fields to every line of a single
// request's log output.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.entry.WithFields(fields)
}
