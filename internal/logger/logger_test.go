package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pantry.log")

	l, err := New("info", path)
	require.NoError(t, err)

	l.Debug("hidden")
	l.Info("visible", zap.Int64("userID", 7))
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"visible"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New("loud", "")
	require.Error(t, err)
}
