package logger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSanitizerCore_MasksSensitiveFields(t *testing.T) {
	obs, logs := observer.New(zapcore.DebugLevel)
	l := zap.New(NewSanitizerCore(obs, []string{"password", "Token"}, "****"))

	l.Info("login", zap.String("password", "hunter2"), zap.String("token", "abc"), zap.String("username", "jane"))

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "****", ctx["password"])
	assert.Equal(t, "****", ctx["token"])
	assert.Equal(t, "jane", ctx["username"])
}

func TestSanitizerCore_MasksWithFields(t *testing.T) {
	obs, logs := observer.New(zapcore.DebugLevel)
	l := zap.New(NewSanitizerCore(obs, []string{"reset_token"}, "xx")).With(zap.String("reset_token", "secret"))

	l.Info("reset")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "xx", logs.All()[0].ContextMap()["reset_token"])
}

func TestAsyncCore_SyncFlushesQueuedEntries(t *testing.T) {
	obs, logs := observer.New(zapcore.DebugLevel)
	ac := NewAsyncCore(obs, 100, 50, time.Hour)
	defer ac.Close()

	l := zap.New(ac).With(zap.String("component", "test"))
	for i := 0; i < 10; i++ {
		l.Info("entry")
	}
	require.NoError(t, l.Sync())

	assert.Equal(t, 10, logs.Len())
	assert.Equal(t, "test", logs.All()[0].ContextMap()["component"])
}

func TestAsyncCore_CloseIsIdempotent(t *testing.T) {
	obs, _ := observer.New(zapcore.DebugLevel)
	ac := NewAsyncCore(obs, 10, 5, time.Second)

	require.NoError(t, ac.Close())
	require.NoError(t, ac.Close())
}

func TestNewManager_DefaultsWhenConfigMissing(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.NotNil(t, m.Get(App))
	assert.NotNil(t, m.Get(Audit))
}

func TestNewManager_LoadsNamedLoggers(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "audit.log")
	cfg := `{"loggers": {"audit": {"level": "debug", "outputPaths": ["` + logFile + `"], "logRotation": {"enabled": false}}}}`
	path := filepath.Join(dir, "log.config.json")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))

	m, err := NewManager(path)
	require.NoError(t, err)

	m.Get(Audit).Debug("recorded", zap.String("password", "secret"))
	require.NoError(t, m.Sync())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "recorded")
	assert.NotContains(t, string(data), "secret")
}

func TestNewManager_RejectsInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.config.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))

	_, err := NewManager(path)
	assert.Error(t, err)
}
