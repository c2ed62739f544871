package observability

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewZapLogger builds the logger used by the broker adapters.
// It shares the level and format settings of the logrus logger.
func NewZapLogger(opts LoggerOptions) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(zapLevelName(opts.Level))
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	if opts.Env != "" && !containsFold(opts.LogFor, opts.Env) && lvl < zapcore.ErrorLevel {
		lvl = zapcore.ErrorLevel
	}

	cfg := zap.NewProductionConfig()
	if opts.Format == "text" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// zapLevelName maps logrus level names zap does not know onto their zap equivalent.
func zapLevelName(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "warning":
		return "warn"
	case "trace":
		return "debug"
	default:
		return level
	}
}
