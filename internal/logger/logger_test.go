package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"reportline/backend/internal/config"
)

func TestFromConfig(t *testing.T) {
	opts := FromConfig(config.LogConfig{Level: "warn", Development: true, File: "/tmp/x.log"})

	assert.Equal(t, "warn", opts.Level)
	assert.True(t, opts.Development)
	assert.Equal(t, "/tmp/x.log", opts.LogFile)
	assert.Equal(t, defaultMaxSizeMB, opts.MaxSize)
	assert.Equal(t, defaultMaxBackups, opts.MaxBackups)
	assert.True(t, opts.Compress)
}

func TestNew(t *testing.T) {
	t.Run("无效级别回退到 info", func(t *testing.T) {
		log, err := New(Options{Level: "verbose"})
		require.NoError(t, err)

		assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
		assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("写入日志文件", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "logs", "server.log")

		log, err := New(Options{Level: "info", LogFile: file, MaxSize: 1})
		require.NoError(t, err)

		log.Info("report stored")
		_ = log.Sync()

		data, err := os.ReadFile(file)
		require.NoError(t, err)
		assert.Contains(t, string(data), "report stored")
	})
}

func TestNewDevelopment(t *testing.T) {
	log := NewDevelopment()
	require.NotNil(t, log)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
}
