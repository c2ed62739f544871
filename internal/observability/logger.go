package observability

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// LabelField is the correlation label attached to every component logger.
const LabelField = "label"

var logger *logrus.Logger

func init() {
	logger = logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)
}

// LoggerOptions controls the process-wide logrus logger.
type LoggerOptions struct {
	Level  string
	Format string
	// Env is the deployment environment. Info and warn events are only
	// emitted when Env is listed in LogFor; errors are always emitted.
	Env    string
	LogFor []string
}

func InitLogger(opts LoggerOptions) {
	configureLogger(logger, opts)
}

func configureLogger(l *logrus.Logger, opts LoggerOptions) {
	lvl, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	if opts.Env != "" && !containsFold(opts.LogFor, opts.Env) && lvl > logrus.ErrorLevel {
		lvl = logrus.ErrorLevel
	}
	l.SetLevel(lvl)

	switch strings.ToLower(opts.Format) {
	case "text":
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		l.SetFormatter(&logrus.JSONFormatter{})
	}
}

// Component returns an entry labelled with the name of the emitting component.
func Component(label string) *logrus.Entry {
	return logger.WithField(LabelField, label)
}

func containsFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), want) {
			return true
		}
	}
	return false
}
