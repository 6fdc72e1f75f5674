package logger

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

func closeIf(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

func TestProcessWriters_DirDerivesModulePaths(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{File: FileConfig{Dir: dir}}
	outW, errW, err := cfg.ProcessWriters("aw-server")
	require.NoError(t, err)
	require.NotNil(t, outW)
	require.NotNil(t, errW)

	_, _ = outW.Write([]byte("out\n"))
	_, _ = errW.Write([]byte("err\n"))
	closeIf(outW)
	closeIf(errW)

	assert.FileExists(t, filepath.Join(dir, "aw-server.stdout.log"))
	assert.FileExists(t, filepath.Join(dir, "aw-server.stderr.log"))
}

func TestProcessWriters_NoDestination(t *testing.T) {
	outW, errW, err := Config{}.ProcessWriters("aw-watcher-afk")
	require.NoError(t, err)
	assert.Nil(t, outW)
	assert.Nil(t, errW)
}

func TestProcessWriters_RotationDefaultsAndOverrides(t *testing.T) {
	cfg := Config{File: FileConfig{StdoutPath: "x", StderrPath: "y"}}
	outW, errW, _ := cfg.ProcessWriters("n")
	ol, ok := outW.(*lj.Logger)
	require.True(t, ok)
	assert.Equal(t, DefaultMaxSizeMB, ol.MaxSize)
	assert.Equal(t, DefaultMaxBackups, ol.MaxBackups)
	assert.Equal(t, DefaultMaxAgeDays, ol.MaxAge)
	closeIf(outW)
	closeIf(errW)

	cfg = Config{File: FileConfig{StdoutPath: "x", MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}}
	outW, errW, _ = cfg.ProcessWriters("n")
	assert.Nil(t, errW)
	ol = outW.(*lj.Logger)
	assert.Equal(t, 1, ol.MaxSize)
	assert.Equal(t, 9, ol.MaxBackups)
	assert.Equal(t, 11, ol.MaxAge)
	assert.True(t, ol.Compress)
	closeIf(outW)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"info":    slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewHandler_Formats(t *testing.T) {
	var buf bytes.Buffer
	h, err := NewHandler(&buf, FormatJSON, slog.LevelInfo, false)
	require.NoError(t, err)
	slog.New(h).Info("started", "module", "aw-server")
	assert.Contains(t, buf.String(), `"module":"aw-server"`)

	buf.Reset()
	h, err = NewHandler(&buf, FormatColor, slog.LevelInfo, false)
	require.NoError(t, err)
	slog.New(h).With("origin", "bundled").Warn("stop ignored")
	out := buf.String()
	assert.Contains(t, out, "\033[33mWARN")
	assert.Contains(t, out, "origin=bundled")
	assert.NotContains(t, out, "time=")

	_, err = NewHandler(&buf, "xml", slog.LevelInfo, false)
	assert.Error(t, err)
}

func TestNew_WritesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "modvisr.log")
	l, closer, err := New(Config{Level: "debug", File: FileConfig{Path: path}})
	require.NoError(t, err)
	l.Debug("discovery finished", "modules", 3)
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), "discovery finished"))
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, closer, err := New(Config{Level: "chatty"})
	assert.Error(t, err)
	assert.NotNil(t, closer)
}
