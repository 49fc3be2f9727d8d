package log

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_Rotate(t *testing.T) {
	dir := t.TempDir()
	filename := filepath.Join(dir, "echowand.log")

	l, err := NewLogger(filename)
	require.NoError(t, err)
	defer l.Close()

	logger := slog.New(NewHandler(l, false))
	logger.Info("before rotate")

	// logrotate と同じようにファイルを移動してから開き直す
	rotated := filename + ".1"
	require.NoError(t, os.Rename(filename, rotated))
	require.NoError(t, l.Rotate())
	logger.Info("after rotate")
	logger.Debug("hidden")

	old, err := os.ReadFile(rotated)
	require.NoError(t, err)
	assert.Contains(t, string(old), "before rotate")
	assert.NotContains(t, string(old), "after rotate")

	current, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Contains(t, string(current), "after rotate")
	assert.False(t, strings.Contains(string(current), "hidden"))
}

func TestLogger_WriteAfterClose(t *testing.T) {
	l, err := NewLogger(filepath.Join(t.TempDir(), "closed.log"))
	require.NoError(t, err)
	l.Close()

	n, err := l.Write([]byte("ignored\n"))
	assert.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.NoError(t, l.Rotate())
}

func TestNewHandler_Debug(t *testing.T) {
	var sb strings.Builder
	logger := slog.New(NewHandler(&sb, true))
	logger.Debug("visible", "tid", 1)
	assert.Contains(t, sb.String(), "visible")
	assert.Contains(t, sb.String(), "tid=1")
}

func TestNewLogger_InvalidPath(t *testing.T) {
	_, err := NewLogger(filepath.Join(t.TempDir(), "missing", "x.log"))
	assert.Error(t, err)
}
