package logutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("invalid level", func(t *testing.T) {
		_, _, err := New("verbose", "")
		require.Error(t, err)
	})

	t.Run("writes to file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "app.log")

		logger, closer, err := New("debug", path)
		require.NoError(t, err)
		defer closer()

		logger.Info().Msg("hello")

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"hello"`)
	})

	t.Run("level filters events", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "app.log")

		logger, closer, err := New("error", path)
		require.NoError(t, err)
		defer closer()

		logger.Debug().Msg("dropped")

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Empty(t, data)
	})
}
