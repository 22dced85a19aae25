// Package logging wraps a single process-wide logrus.Logger with the
// component-prefixed, leveled API the rest of this module is written
// against. The level bootstraps from LOG_LEVEL, falling back to debug
// when FUSE_DEBUG is set.
package logging

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	root *logrus.Logger
	once sync.Once
)

func base() *logrus.Logger {
	once.Do(func() {
		root = logrus.New()
		root.SetOutput(os.Stdout)
		root.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
		root.SetLevel(levelFromEnv())
	})
	return root
}

func levelFromEnv() logrus.Level {
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		return lvl
	}
	if os.Getenv("FUSE_DEBUG") != "" {
		return logrus.DebugLevel
	}
	return logrus.InfoLevel
}

// Logger is a component-scoped view onto the process-wide logrus
// logger. Component is attached to every record as a "component"
// field.
type Logger struct {
	entry *logrus.Entry
}

// Get returns the component-scoped logger for component, e.g. "vft",
// "mount", "fuseops".
func Get(component string) *Logger {
	return &Logger{entry: base().WithField("component", component)}
}

// SetLevel overrides the process-wide log level, e.g. from a --verbose
// flag.
func SetLevel(level logrus.Level) {
	base().SetLevel(level)
}

// WithField returns a derived logger with an additional structured
// field, for call sites that want to attach e.g. a mount ID or path to
// every subsequent record.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

func (l *Logger) Error(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Debug(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Trace(format string, args ...interface{}) { l.entry.Tracef(format, args...) }
