package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	for _, format := range []string{"", "console", "json"} {
		t.Run("format "+format, func(t *testing.T) {
			logger, err := New("debug", format)
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
		})
	}

	t.Run("level filters", func(t *testing.T) {
		logger, err := New("warn", "json")
		require.NoError(t, err)
		assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
		assert.True(t, logger.Core().Enabled(zapcore.ErrorLevel))
	})

	t.Run("bad level", func(t *testing.T) {
		_, err := New("loud", "console")
		assert.Error(t, err)
	})

	t.Run("custom writer", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewTo(&buf, "info", "json")
		require.NoError(t, err)
		logger.Info("hello", zap.String("session", "ABC123"))
		require.NoError(t, logger.Sync())
		assert.Contains(t, buf.String(), `"msg":"hello"`)
		assert.Contains(t, buf.String(), `"session":"ABC123"`)
	})

	t.Run("bad format", func(t *testing.T) {
		_, err := New("info", "xml")
		assert.Error(t, err)
	})
}
