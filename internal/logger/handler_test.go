package logger

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel(" error "))
	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestPrettyHandlerWritesAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	log.With("component", "hub").WithGroup("stream").Info("subscriber added", "count", 3, "error", errors.New("boom"))
	log.Debug("hidden")

	out := buf.String()
	require.Contains(t, out, "subscriber added")
	require.Contains(t, out, "component"+reset+"=hub")
	require.Contains(t, out, "stream.count"+reset+"=3")
	require.Contains(t, out, `"boom"`)
	require.NotContains(t, out, "hidden")
	require.Equal(t, 1, strings.Count(out, "\n"))
}

func TestNewJSONFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	New(&buf, "info", "json").Info("hello", "pid", "P5")

	require.Contains(t, buf.String(), `"msg":"hello"`)
	require.Contains(t, buf.String(), `"pid":"P5"`)
}
