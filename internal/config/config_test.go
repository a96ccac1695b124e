package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "adaptive-engine", cfg.App.Name)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Engine.Symbols)
	assert.Equal(t, time.Hour, cfg.Engine.OptimizeInterval)
	assert.Equal(t, 14, cfg.Engine.RSIPeriod)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 0.02, cfg.Regime.Threshold)
	assert.Equal(t, 10, cfg.Regime.Window)
	assert.Equal(t, []string{SinkLog}, cfg.Notifications.Sinks)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Database.Enabled)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
app:
  log_level: debug
engine:
  symbols: [SOLUSDT, ADAUSDT, XRPUSDT]
  interval: 4h
  optimize_interval: 30m
  workers: 3
retry:
  max_attempts: 2
redis:
  enabled: true
  host: cache.internal
notifications:
  sinks: [log, redis]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("ADAPTIVE_ENGINE_WORKERS", "7")
	t.Setenv("ADAPTIVE_REDIS_PASSWORD", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, []string{"SOLUSDT", "ADAUSDT", "XRPUSDT"}, cfg.Engine.Symbols)
	assert.Equal(t, "4h", cfg.Engine.Interval)
	assert.Equal(t, 30*time.Minute, cfg.Engine.OptimizeInterval)
	assert.Equal(t, 7, cfg.Engine.Workers, "env overrides file")
	assert.Equal(t, 2, cfg.Retry.MaxAttempts)
	assert.Equal(t, "cache.internal:6379", cfg.Redis.GetRedisAddr())
	assert.Equal(t, "s3cret", cfg.Redis.Password)
	assert.True(t, cfg.Notifications.HasSink("REDIS"))
	assert.False(t, cfg.Notifications.HasSink(SinkNATS))
}

func TestLoad_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  limit: 0\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, fieldsOf(err), "engine.limit")

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestGetDSN(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", Database: "adaptive", SSLMode: "require"}

	t.Setenv("DATABASE_URL", "")
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=adaptive sslmode=require", db.GetDSN())

	t.Setenv("DATABASE_URL", "postgres://u:p@db:5433/adaptive")
	assert.Equal(t, "postgres://u:p@db:5433/adaptive", db.GetDSN())
}

func TestInitLogger(t *testing.T) {
	original := log.Logger
	originalLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = original
		zerolog.SetGlobalLevel(originalLevel)
	})

	var buf bytes.Buffer
	InitLoggerTo(&buf, "warn", "json")
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	NewLogger("optimizer").Warn().Str("symbol", "BTCUSDT").Msg("Candidate failed")
	assert.Contains(t, buf.String(), `"component":"optimizer"`)
	assert.Contains(t, buf.String(), `"symbol":"BTCUSDT"`)

	buf.Reset()
	NewJobLogger("optimize", "ETHUSDT").Info().Msg("Tick")
	assert.Empty(t, buf.String(), "info is below the global level")

	InitLoggerTo(&buf, "nonsense", "console")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
