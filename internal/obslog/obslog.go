// Package obslog wraps zap for the runtime's internal logging (spec.md
// §7 "Observability"; SPEC_FULL.md domain stack). Grounded on the
// config-driven logger constructors in r3e-network-service_layer's
// pkg/logger and infrastructure/logging, adapted from logrus to zap
// since zap is the structured logger the wider corpus reaches for.
package obslog

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls logger construction.
type Config struct {
	Level  string // debug, info, warn, error; default info
	Format string // json, console; default console
}

// New builds a *zap.Logger from cfg, falling back to sane defaults on
// an unrecognized level or format rather than failing construction.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
			level = zapcore.InfoLevel
		}
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	default:
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(os.Stdout)), level)
	return zap.New(core, zap.AddCaller()), nil
}

// NewDefault builds a console logger at info level, for callers (and
// tests) that don't need config-driven construction.
func NewDefault() *zap.Logger {
	logger, _ := New(Config{})
	return logger
}
