package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	logger, err := NewLogger(Config{
		Level:      slog.LevelInfo,
		OutputFile: path,
		JSONFormat: true,
	})
	require.NoError(t, err)
	defer logger.Close()

	logger.Slog().Info("package processed", "package_id", "pkg-1")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "package processed")
	assert.Contains(t, string(data), "pkg-1")
}

func TestWith_ChildDoesNotOwnFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	logger, err := NewLogger(Config{
		Level:      slog.LevelInfo,
		OutputFile: path,
	})
	require.NoError(t, err)
	defer logger.Close()

	child := logger.With("component", "graph")
	require.NoError(t, child.Close())

	// The parent's file handle must survive a child Close
	logger.Slog().Info("after child close")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "after child close")
}

func TestNewLogger_RotatesOversizedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.log")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", 128)), 0644))

	logger, err := NewLogger(Config{
		Level:      slog.LevelInfo,
		OutputFile: path,
		MaxSize:    64,
		MaxBackups: 2,
	})
	require.NoError(t, err)
	defer logger.Close()

	rotated, err := os.ReadFile(fmt.Sprintf("%s.1", path))
	require.NoError(t, err, "oversized file should have been rotated to .1")
	assert.Len(t, rotated, 128)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(128), "fresh log file starts empty")
}

func TestDefaultConfig(t *testing.T) {
	debug := DefaultConfig(true)
	assert.Equal(t, slog.LevelDebug, debug.Level)
	assert.False(t, debug.JSONFormat)
	assert.True(t, debug.AddSource)

	prod := DefaultConfig(false)
	assert.Equal(t, slog.LevelInfo, prod.Level)
	assert.True(t, prod.JSONFormat)
	assert.False(t, prod.AddSource)
}
