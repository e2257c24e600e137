package logging_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerth/landingd/config"
	"github.com/aerth/landingd/logging"
)

func decodeLines(t *testing.T, b []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec), "line: %s", sc.Text())
		out = append(out, rec)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestNew_RecordShape(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l, closer := logging.New(logging.WithConsole(&buf))
	defer closer.Close()

	logging.Module(l, "system").Info("Message Sent!", "name", "Ada")

	recs := decodeLines(t, buf.Bytes())
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, "INFO", rec[logging.KeyLevel])
	assert.Equal(t, "system", rec[logging.KeyModule])
	assert.Equal(t, "Message Sent!", rec[logging.KeyMessage])
	assert.Equal(t, "Ada", rec["name"])
	assert.NotEmpty(t, rec[logging.KeyDate])
	assert.NotContains(t, rec, "time")
	assert.NotContains(t, rec, "msg")
	assert.NotContains(t, rec, "level")
}

func TestNew_TwoSinks(t *testing.T) {
	t.Parallel()

	var console bytes.Buffer
	file := filepath.Join(t.TempDir(), "app.log")
	l, closer := logging.New(
		logging.WithConsole(&console),
		logging.WithFile(file, 1, 3),
	)

	logging.Module(l, "notifier").Warn("upstream said no")
	require.NoError(t, closer.Close())

	fromFile, err := os.ReadFile(file)
	require.NoError(t, err)

	for _, b := range [][]byte{console.Bytes(), fromFile} {
		recs := decodeLines(t, b)
		require.Len(t, recs, 1)
		assert.Equal(t, "WARN", recs[0][logging.KeyLevel])
		assert.Equal(t, "notifier", recs[0][logging.KeyModule])
	}
}

func TestNew_LevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l, closer := logging.New(logging.WithConsole(&buf), logging.WithLevel(slog.LevelWarn))
	defer closer.Close()

	l.Debug("hidden")
	l.Info("hidden")
	l.Error("shown", logging.Error(errors.New("boom")))

	recs := decodeLines(t, buf.Bytes())
	require.Len(t, recs, 1)
	assert.Equal(t, "shown", recs[0][logging.KeyMessage])
	assert.Equal(t, "boom", recs[0]["error"])
}

func TestNew_NoSinks(t *testing.T) {
	t.Parallel()

	l, closer := logging.New(logging.WithConsole(nil))
	defer closer.Close()

	assert.False(t, l.Enabled(context.Background(), slog.LevelError))
	assert.NotPanics(t, func() { l.Error("nowhere") })
}

func TestNew_FileRotates(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	l, closer := logging.New(
		logging.WithConsole(nil),
		logging.WithFile(filepath.Join(dir, "app.log"), 1, 3),
	)

	// a little over 1MB of records
	payload := strings.Repeat("x", 1024)
	for i := 0; i < 1100; i++ {
		l.Info("fill", "payload", payload)
	}
	require.NoError(t, closer.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "app*.log"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(matches), 2, "expected a backup next to app.log: %v", matches)
}

func TestPrettyConsole(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l, closer := logging.New(logging.WithConsole(&buf), logging.WithPretty(true), logging.WithLevel(slog.LevelDebug))
	defer closer.Close()

	logging.Module(l, "main").Debug("serving HTTP", "addr", "127.0.0.1:5050")

	out := buf.String()
	assert.Contains(t, out, "serving HTTP")
	assert.Contains(t, out, "127.0.0.1:5050")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())), "pretty output is not json")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"TRACE":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
		"warning": slog.LevelWarn,
		" warn ":  slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		assert.Equal(t, want, logging.ParseLevel(in), "input %q", in)
	}
}

func TestSetup_FromConfig(t *testing.T) {
	// Setup replaces the slog default, so this test is not parallel.
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	file := filepath.Join(t.TempDir(), "app.log")
	cfg := config.Config{
		Log: config.LogConfig{Level: "error", File: file, MaxSizeMB: 1, MaxBackups: 3},
	}
	l, closer := logging.Setup(cfg)
	assert.Same(t, l, slog.Default())

	l.Info("dropped")
	l.Error("kept")
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(file)
	require.NoError(t, err)
	recs := decodeLines(t, b)
	require.Len(t, recs, 1)
	assert.Equal(t, "kept", recs[0][logging.KeyMessage])
}
