package logger

import (
	"io"

	"github.com/sirupsen/logrus"
)

// New builds the process logger. Production gets JSON lines at the configured
// level; every other environment gets text output at debug.
func New(output io.Writer, environment string, level string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(output)
	l.SetFormatter(new(logrus.JSONFormatter))
	l.SetLevel(logrus.InfoLevel)
	if parsed, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(parsed)
	}

	if environment != "production" {
		l.SetLevel(logrus.DebugLevel)
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return l
}

// Component returns an entry tagged with the subsystem name.
func Component(l *logrus.Logger, name string) *logrus.Entry {
	return l.WithField("component", name)
}
