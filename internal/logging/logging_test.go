package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"":      slog.LevelInfo,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseLevel("verbose")
	require.Error(t, err)
}

func TestNew_WritesFileAndExtraSink(t *testing.T) {
	dir := t.TempDir()
	var extra bytes.Buffer

	l, err := New("info", dir, &extra)
	require.NoError(t, err)
	l.Debug("hidden")
	l.Warn("caster silent", "window", "10s")
	require.NoError(t, l.Close())

	require.Contains(t, extra.String(), "caster silent")
	require.NotContains(t, extra.String(), "hidden")

	b, err := os.ReadFile(filepath.Join(dir, "rtkrover.log"))
	require.NoError(t, err)
	require.Contains(t, string(b), "logging started")
	require.Contains(t, string(b), "caster silent")
}
