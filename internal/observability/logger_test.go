package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitCLILogger(t *testing.T) {
	orig := CLILogger
	defer func() { CLILogger = orig }()

	require.NoError(t, InitCLILogger("warn", "json"))
	assert.False(t, CLILogger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, CLILogger.Core().Enabled(zapcore.WarnLevel))

	require.NoError(t, InitCLILogger("DEBUG", ""))
	assert.True(t, CLILogger.Core().Enabled(zapcore.DebugLevel))
}

func TestInitCLILoggerRejectsBadInput(t *testing.T) {
	orig := CLILogger
	CLILogger = zap.NewNop()
	defer func() { CLILogger = orig }()

	assert.Error(t, InitCLILogger("loud", "console"))
	assert.Error(t, InitCLILogger("info", "xml"))
	// A failed init leaves the previous logger in place.
	assert.False(t, CLILogger.Core().Enabled(zapcore.ErrorLevel))
}
