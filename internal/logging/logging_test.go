package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/dlovans/taxflow/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		mode      config.Mode
		level     string
		enabled   zapcore.Level
		disabled  zapcore.Level
		wantError bool
	}{
		{name: "production info", mode: config.ModeProduction, level: "info", enabled: zapcore.InfoLevel, disabled: zapcore.DebugLevel},
		{name: "development debug", mode: config.ModeDevelopment, level: "debug", enabled: zapcore.DebugLevel, disabled: zapcore.DebugLevel - 1},
		{name: "production warn", mode: config.ModeProduction, level: "warn", enabled: zapcore.ErrorLevel, disabled: zapcore.InfoLevel},
		{name: "bad level", mode: config.ModeProduction, level: "chatty", wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.mode, tt.level)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.enabled))
			assert.False(t, logger.Core().Enabled(tt.disabled))
		})
	}
}

func TestFromConfigVerbose(t *testing.T) {
	cfg := config.DefaultConfig()

	logger, err := FromConfig(cfg, false)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = FromConfig(cfg, true)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}
