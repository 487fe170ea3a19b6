package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, lvl)

	lvl, err = ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, lvl)

	_, err = ParseLevel("chatty")
	assert.Error(t, err)
}

func TestNewWritesConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "bridge.log")
	log, err := NewWithConsole(Options{Level: "warn", File: path}, zapcore.AddSync(&console))
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("bus receive failed", zap.String("err", "reset"))
	require.NoError(t, log.Sync())

	assert.NotContains(t, console.String(), "hidden")
	assert.Contains(t, console.String(), `"msg":"bus receive failed"`)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "bus receive failed")
}
