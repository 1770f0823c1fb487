// Package logging builds the process logger from settings.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"whisper-desk/internal/domain"
)

// New returns a logger writing to stderr at the configured level and format.
func New(settings domain.LoggingSettings) *logrus.Logger {
	return NewWithWriter(settings, os.Stderr)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(settings domain.LoggingSettings, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(ParseLevel(settings.Level))

	if strings.EqualFold(strings.TrimSpace(settings.Format), "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// ParseLevel maps a settings string to a logrus level, defaulting to info.
func ParseLevel(s string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Discard returns a logger that drops everything, for tests and optional wiring.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
