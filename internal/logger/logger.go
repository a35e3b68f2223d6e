package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

func New() *logrus.Logger {
	return NewWithLevel(os.Stdout, os.Getenv("LOG_LEVEL"))
}

// NewWithLevel builds the JSON logger used by every component. Unknown levels fall back to info.
func NewWithLevel(out io.Writer, level string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.JSONFormatter{})

	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		l.SetLevel(logrus.TraceLevel)
	case "debug":
		l.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		l.SetLevel(logrus.WarnLevel)
	case "error":
		l.SetLevel(logrus.ErrorLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}

// Discard is a logger for tests and optional dependencies.
func Discard() *logrus.Logger {
	return NewWithLevel(io.Discard, "error")
}
