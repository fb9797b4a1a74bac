package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is the structured logger used across the service.
type Logger = *logrus.Logger

// Fields is an alias for structured logging fields.
type Fields = logrus.Fields

// New creates a JSON logger at the level named by LOG_LEVEL (default info).
func New() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(parseLevel(os.Getenv("LOG_LEVEL")))
	return logger
}

// NewWithService creates a logger that tags every entry with a service field.
func NewWithService(service string) *logrus.Logger {
	logger := New()
	logger.AddHook(&serviceHook{service: service})
	return logger
}

func parseLevel(raw string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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

type serviceHook struct {
	service string
}

func (h *serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *serviceHook) Fire(entry *logrus.Entry) error {
	entry.Data["service"] = h.service
	return nil
}
