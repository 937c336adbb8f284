package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))

	assert.Equal(t, 50, cfg.Executor.MaxWaitAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Executor.WaitInterval)
	assert.Equal(t, 300*time.Millisecond, cfg.StepDelay)
	assert.Equal(t, 800*time.Millisecond, cfg.Delays.Call)
	assert.Equal(t, 1000, cfg.Log.Buffer)
}

func TestLoadWithoutLayers(t *testing.T) {
	cfg, err := Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "tsumo.yaml", `
listen: 0.0.0.0:9000
auto: true
step_delay: 450ms
executor:
  max_wait_attempts: 10
  wait_interval: 20ms
delays:
  call: 1s
oracle:
  path: /usr/bin/bot
  args: ["--seat", "auto"]
log:
  level: debug
  format: json
`)
	cfg, err := Load(Options{File: path})
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.True(t, cfg.Auto)
	assert.Equal(t, 450*time.Millisecond, cfg.StepDelay)
	assert.Equal(t, 10, cfg.Executor.MaxWaitAttempts)
	assert.Equal(t, 20*time.Millisecond, cfg.Executor.WaitInterval)
	assert.Equal(t, 30, cfg.Executor.MaxRetryAttempts, "unset keys keep defaults")
	assert.Equal(t, time.Second, cfg.Delays.Call)
	assert.Equal(t, 500*time.Millisecond, cfg.Delays.Riichi)
	assert.Equal(t, []string{"--seat", "auto"}, cfg.Oracle.Args)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadEmptyYAML(t *testing.T) {
	cfg, err := Load(Options{File: writeFile(t, "empty.yaml", "")})
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "tsumo.yaml", "executor:\n  max_wait: 3\n")
	_, err := Load(Options{File: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_wait")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(Options{File: filepath.Join(t.TempDir(), "nope.yaml")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "tsumo.yaml", "listen: 0.0.0.0:9000\nexecutor:\n  wait_interval: 20ms\n")
	t.Setenv("TSUMO_LISTEN", "127.0.0.1:9100")
	t.Setenv("TSUMO_EXECUTOR_WAIT_INTERVAL", "250ms")
	t.Setenv("TSUMO_DELAY_PASS", "0s")
	t.Setenv("TSUMO_ORACLE_ARGS", "--model small")
	t.Setenv("TSUMO_REDIS_ADDR", "localhost:6379")

	cfg, err := Load(Options{File: path})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9100", cfg.Listen)
	assert.Equal(t, 250*time.Millisecond, cfg.Executor.WaitInterval)
	assert.Equal(t, time.Duration(0), cfg.Delays.Pass)
	assert.Equal(t, []string{"--model", "small"}, cfg.Oracle.Args)
	assert.True(t, cfg.Redis.Enabled())
}

func TestLoadDotEnv(t *testing.T) {
	unset := func(keys ...string) {
		t.Cleanup(func() {
			for _, k := range keys {
				os.Unsetenv(k)
			}
		})
	}
	unset("TSUMO_JOURNAL", "TSUMO_AUTO")
	t.Setenv("TSUMO_STEP_DELAY", "1s")

	path := writeFile(t, ".env", "TSUMO_JOURNAL=/tmp/tsumo.db\nTSUMO_AUTO=true\nTSUMO_STEP_DELAY=5s\n")
	cfg, err := Load(Options{DotEnv: path})
	require.NoError(t, err)

	assert.Equal(t, "/tmp/tsumo.db", cfg.Journal)
	assert.True(t, cfg.Auto)
	assert.Equal(t, time.Second, cfg.StepDelay, "process environment wins over .env")
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"negative step delay", func(c *Config) { c.StepDelay = -time.Millisecond }, "step_delay"},
		{"zero wait interval", func(c *Config) { c.Executor.WaitInterval = 0 }, "wait_interval"},
		{"unknown level", func(c *Config) { c.Log.Level = "loud" }, "level"},
		{"unknown format", func(c *Config) { c.Log.Format = "xml" }, "format"},
		{"empty listen", func(c *Config) { c.Listen = "" }, "listen"},
		{"telemetry without endpoint", func(c *Config) { c.Telemetry.Enabled = true }, "endpoint"},
		{"zero burst", func(c *Config) { c.Bridge.Burst = 0 }, "burst"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := Validate(cfg)
			require.Error(t, err)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadValidates(t *testing.T) {
	t.Setenv("TSUMO_LOG_LEVEL", "shout")
	_, err := Load(Options{})
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", Log{Level: "debug"}.SlogLevel().String())
	assert.Equal(t, "WARN", Log{Level: "WARN"}.SlogLevel().String())
	assert.Equal(t, "ERROR", Log{Level: "error"}.SlogLevel().String())
	assert.Equal(t, "INFO", Log{}.SlogLevel().String())
}
