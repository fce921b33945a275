// Package logging constructs the structured logger shared across the
// scheduling negotiation service.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the logger's encoding and verbosity.
type Config struct {
	Debug bool // verbose, human-readable console encoding
	JSON  bool // force JSON encoding even when Debug is set
}

// New builds a *zap.Logger for the given config. Debug mode uses zap's
// colorized console encoder; otherwise (or when JSON is forced) it emits
// structured JSON suitable for log aggregation.
func New(cfg Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Debug && !cfg.JSON {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zcfg = zap.NewProductionConfig()
		if cfg.Debug {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
	}
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return zcfg.Build()
}

// Nop returns a logger that discards everything, for tests that don't care
// about log output.
func Nop() *zap.Logger {
	return zap.NewNop()
}
