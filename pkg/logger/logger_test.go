package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/amoylab/coordinator/internal/common/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestGetLogLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"dpanic":  zapcore.DPanicLevel,
		"panic":   zapcore.PanicLevel,
		"fatal":   zapcore.FatalLevel,
		"unknown": zapcore.InfoLevel,
	}
	for in, exp := range cases {
		assert.Equal(t, exp, getLogLevel(in), in)
	}
}

func TestSetDefaults(t *testing.T) {
	cfg := &config.LoggerConfig{}
	setLoggerDefaults(cfg)
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "stdout", cfg.Output)
	assert.Equal(t, 100, cfg.MaxSize)
	assert.Equal(t, 3, cfg.MaxBackups)
	assert.Equal(t, 7, cfg.MaxAge)
	assert.Equal(t, "Local", cfg.TimeZone)
	assert.NotEmpty(t, cfg.TimeFormat)

	fileCfg := &config.LoggerConfig{Output: "file"}
	setLoggerDefaults(fileCfg)
	assert.Equal(t, filepath.Join("logs", "coordinator.log"), fileCfg.FilePath)
}

func TestResolveTimeZone(t *testing.T) {
	assert.Equal(t, "UTC", resolveTimeZone("UTC").String())
	assert.Equal(t, "Local", resolveTimeZone("Not/AZone").String())
	assert.Equal(t, "Local", resolveTimeZone("").String())
}

func TestNewLogger_Stdout(t *testing.T) {
	lg, err := NewLogger(&config.LoggerConfig{Format: "console", Color: true})
	require.NoError(t, err)
	assert.NotNil(t, lg)
}

func TestNewLogger_FileWithStacktrace(t *testing.T) {
	tmp := t.TempDir()
	cfg := &config.LoggerConfig{
		Output:     "file",
		FilePath:   filepath.Join(tmp, "nested", "app.log"),
		Format:     "json",
		Stacktrace: true,
		Level:      "debug",
		TimeZone:   "UTC",
	}
	lg, err := NewLogger(cfg)
	require.NoError(t, err)
	lg.Debug("hello")
	_ = lg.Sync()

	_, err = os.Stat(filepath.Join(tmp, "nested"))
	assert.NoError(t, err)
	data, err := os.ReadFile(cfg.FilePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}
