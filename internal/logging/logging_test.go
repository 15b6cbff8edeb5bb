package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelDebug},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.input))
		})
	}
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.log")

	logger, cleanup, err := Setup(Config{
		Level:    "info",
		FilePath: path,
		MaxSizeMB: 1,
		MaxFiles:  2,
	})
	require.NoError(t, err)

	logger.Info("search completed", slog.Int("results", 5))
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"search completed"`)
	assert.Contains(t, string(data), `"results":5`)
}

func TestSetup_DebugFiltering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.log")

	logger, cleanup, err := Setup(Config{Level: "warn", FilePath: path})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Warn("visible")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "visible")
}

func TestRotatingWriter_RotatesAtLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.log")

	w, err := NewRotatingWriter(path, 1, 3)
	require.NoError(t, err)
	defer w.Close()

	// Force the limit low so a couple of writes trigger rotation.
	w.maxSize = 64

	line := strings.Repeat("a", 48) + "\n"
	for i := 0; i < 4; i++ {
		_, err := w.Write([]byte(line))
		require.NoError(t, err)
	}

	_, err = os.Stat(path + ".1")
	assert.NoError(t, err, "rotated file should exist")
}

func TestRotatingWriter_PrunesOldFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.log")

	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	defer w.Close()
	w.maxSize = 32

	line := strings.Repeat("b", 30) + "\n"
	for i := 0; i < 8; i++ {
		_, err := w.Write([]byte(line))
		require.NoError(t, err)
	}

	_, err = os.Stat(path + ".3")
	assert.True(t, os.IsNotExist(err), "files beyond maxFiles should be removed")
}
