package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gopkg.in/natefinch/lumberjack.v2"
)

func TestConfigs(t *testing.T) {
	dev := DefaultConfig()
	assert.Equal(t, "console", dev.Format)
	assert.Equal(t, "stdout", dev.Output)
	assert.Equal(t, 100, dev.MaxSizeMB)

	prod := ProductionConfig()
	assert.Equal(t, "json", prod.Format)
	assert.Equal(t, dev.TimeFormat, prod.TimeFormat)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestCreateWriter(t *testing.T) {
	assert.Equal(t, os.Stdout, createWriter(&Config{Output: "stdout"}))
	assert.Equal(t, os.Stderr, createWriter(&Config{Output: "STDERR"}))

	path := filepath.Join(t.TempDir(), "usagebill.log")
	w := createWriter(&Config{Output: path, MaxSizeMB: 10, MaxBackups: 2, MaxAgeDays: 3})
	lj, ok := w.(*lumberjack.Logger)
	require.True(t, ok)
	assert.Equal(t, path, lj.Filename)
	assert.Equal(t, 10, lj.MaxSize)
	assert.Equal(t, 2, lj.MaxBackups)
}

func TestNew_WritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usagebill.log")
	log, err := New(&Config{Level: "info", Format: "json", Output: path, MaxSizeMB: 1})
	require.NoError(t, err)

	log.Info("Window rated", zap.String("tenant_id", "T1"))
	log.Debug("hidden")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"Window rated"`)
	assert.Contains(t, string(data), `"tenant_id":"T1"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestNew_TeesExtraCores(t *testing.T) {
	core, recorded := observer.New(zapcore.InfoLevel)
	log, err := New(&Config{Level: "error", Format: "json", Output: "stderr"}, core)
	require.NoError(t, err)

	log.Info("Pipeline run finished")
	require.Len(t, recorded.All(), 1)
	assert.Equal(t, "Pipeline run finished", recorded.All()[0].Message)
}

func TestEncoders(t *testing.T) {
	var buf bytes.Buffer
	enc := createEncoder(&Config{Format: "console", TimeFormat: DefaultConfig().TimeFormat})
	log := zap.New(zapcore.NewCore(enc, zapcore.AddSync(&buf), zapcore.InfoLevel))
	log.Info("console line")
	assert.Contains(t, buf.String(), "console line")
	assert.NotContains(t, buf.String(), `"msg"`)

	buf.Reset()
	enc = createEncoder(&Config{Format: "json", TimeFormat: DefaultConfig().TimeFormat})
	log = zap.New(zapcore.NewCore(enc, zapcore.AddSync(&buf), zapcore.InfoLevel))
	log.Info("json line")
	assert.Contains(t, buf.String(), `"msg":"json line"`)
}

func TestNewForEnvironment(t *testing.T) {
	for _, env := range []string{"production", "development", ""} {
		log, err := NewForEnvironment(env)
		require.NoError(t, err, env)
		assert.NotNil(t, log)
	}
}
