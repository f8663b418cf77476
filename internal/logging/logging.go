// Package logging wraps logrus in the teacher's structured-logger shape
// (WithField/WithComponent/leveled methods), so proxy and server code logs
// the same way the teacher's packages do while getting logrus's field
// formatting, hooks, and level parsing for free. Grounded on the
// WithField/WithComponent API of the teacher's pkg/utils.StructuredLogger,
// backed by the logging stack used elsewhere in the example pack.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Format selects the log line encoding.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// Config configures a Logger.
type Config struct {
	Level  string `yaml:"level"`
	Format Format `yaml:"format"`
	Output io.Writer
}

// DefaultConfig returns INFO-level text logging to stderr.
func DefaultConfig() Config {
	return Config{Level: "INFO", Format: FormatText, Output: os.Stderr}
}

// Logger is a component-scoped structured logger.
type Logger struct {
	entry *logrus.Entry
}

// New builds a root Logger from Config.
func New(config Config) *Logger {
	base := logrus.New()
	if config.Output != nil {
		base.SetOutput(config.Output)
	}
	if config.Format == FormatJSON {
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	return &Logger{entry: logrus.NewEntry(base)}
}

// WithComponent returns a Logger tagged with a "component" field, the way
// the proxy and server tag every log line with which subsystem emitted it.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{entry: l.entry.WithField("component", component)}
}

// WithField returns a Logger with one additional context field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// WithFields returns a Logger with multiple additional context fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(fields)}
}

func (l *Logger) Debug(args ...interface{}) { l.entry.Debug(args...) }
func (l *Logger) Info(args ...interface{})  { l.entry.Info(args...) }
func (l *Logger) Warn(args ...interface{})  { l.entry.Warn(args...) }
func (l *Logger) Error(args ...interface{}) { l.entry.Error(args...) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
