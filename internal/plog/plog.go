// Package plog builds the orchestrator's diagnostic logger: structured,
// stderr-only, and deliberately separate from the task output buffers that
// taskctx manages (which are real process stdout, never logging).
package plog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger writing to stderr. verbose switches the level
// from info to debug; both configurations otherwise mirror
// zap.NewProductionConfig (JSON encoding, ISO8601 timestamps).
func New(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}

// NewNop returns a logger that discards everything, for tests and for
// callers that have not opted into diagnostics.
func NewNop() *zap.Logger { return zap.NewNop() }
