// Package logging builds the process logger from configuration.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dlovans/taxflow/internal/config"
)

// New returns a JSON production logger, or a console development logger in
// development mode, at the configured level.
func New(mode config.Mode, level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	cfg := zap.NewProductionConfig()
	if mode == config.ModeDevelopment {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	// stdout carries command output
	cfg.OutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// FromConfig is New with the mode and level of cfg. verbose forces debug.
func FromConfig(cfg *config.Config, verbose bool) (*zap.Logger, error) {
	level := cfg.Log.Level
	if verbose {
		level = zapcore.DebugLevel.String()
	}
	return New(cfg.Mode, level)
}
