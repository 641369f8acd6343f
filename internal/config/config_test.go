package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jwgray1010/Unsaid-sub003/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100, cfg.Queue.Capacity)
	assert.Equal(t, 2, cfg.Queue.CapMultiplier)
	assert.Equal(t, 5*time.Second, cfg.Queue.FlushTimeout.Std())
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Empty(t, cfg.Classifier.DefaultLabel, "unset keeps the table's default label")
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, ":9090", cfg.Server.GRPCAddr)
	assert.Equal(t, 30*time.Second, cfg.Consumer.Interval.Std())
}

func TestDecodeFile_Formats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"toml", "tone.toml", `
[queue]
capacity = 50
flush_timeout = "2s"

[store]
driver = "file"
path = "/var/lib/tone"
`},
		{"yaml", "tone.yaml", `
queue:
  capacity: 50
  flush_timeout: 2s
store:
  driver: file
  path: /var/lib/tone
`},
		{"json", "tone.json", `{"queue":{"capacity":50,"flush_timeout":"2s"},"store":{"driver":"file","path":"/var/lib/tone"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			require.NoError(t, decodeFile(writeFile(t, tt.file, tt.content), cfg))
			assert.Equal(t, 50, cfg.Queue.Capacity)
			assert.Equal(t, 2*time.Second, cfg.Queue.FlushTimeout.Std())
			assert.Equal(t, DriverFile, cfg.Store.Driver)
			assert.Equal(t, "/var/lib/tone", cfg.Store.Path)
			// Unset fields keep their defaults.
			assert.Equal(t, 2, cfg.Queue.CapMultiplier)
			assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
		})
	}
}

func TestDecodeFile_Errors(t *testing.T) {
	cfg := Default()
	assert.Error(t, decodeFile(writeFile(t, "tone.ini", "x=1"), cfg))
	assert.Error(t, decodeFile(writeFile(t, "tone.toml", "[queue\n"), cfg))
	assert.Error(t, decodeFile(filepath.Join(t.TempDir(), "missing.toml"), cfg))
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"TONE_QUEUE_CAPACITY":       "25",
		"TONE_STORE_CAP_MULTIPLIER": "4",
		"TONE_FLUSH_TIMEOUT":        "750ms",
		"TONE_STORE_DRIVER":         "postgres",
		"POSTGRES_DSN":              "postgres://tone@localhost/tone",
		"CLICKHOUSE_DSN":            "clickhouse://localhost:9000",
		"TONE_TABLE_WATCH":          "true",
		"TONE_TABLE_PATH":           "tables.toml",
		"TONE_CONSUMER_ENABLED":     "false",
		"TONE_CONSUMER_INTERVAL":    "10",
		"TONE_LOG_LEVEL":            "  ",
	}))
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Queue.Capacity)
	assert.Equal(t, 4, cfg.Queue.CapMultiplier)
	assert.Equal(t, 750*time.Millisecond, cfg.Queue.FlushTimeout.Std())
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "postgres://tone@localhost/tone", cfg.Store.PostgresDSN)
	assert.Equal(t, "clickhouse://localhost:9000", cfg.Consumer.ClickHouseDSN)
	assert.True(t, cfg.Classifier.Watch)
	assert.False(t, cfg.Consumer.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Consumer.Interval.Std())
	assert.Equal(t, "info", cfg.Logging.Level, "blank values are ignored")
	require.NoError(t, cfg.Validate())
}

func TestApplyEnv_BadValues(t *testing.T) {
	tests := map[string]string{
		"TONE_QUEUE_CAPACITY":   "many",
		"TONE_FLUSH_TIMEOUT":    "soon",
		"TONE_CONSUMER_ENABLED": "maybe",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			err := Default().ApplyEnv(env(map[string]string{key: val}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero capacity", func(c *Config) { c.Queue.Capacity = 0 }, "queue.capacity"},
		{"zero multiplier", func(c *Config) { c.Queue.CapMultiplier = 0 }, "queue.cap_multiplier"},
		{"zero timeout", func(c *Config) { c.Queue.FlushTimeout = 0 }, "queue.flush_timeout"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "redis" }, "store.driver"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = DriverPostgres }, "store.postgres_dsn"},
		{"file without path", func(c *Config) { c.Store.Driver = DriverFile; c.Store.Path = "" }, "store.path"},
		{"unknown label", func(c *Config) { c.Classifier.DefaultLabel = "furious" }, "classifier.default_label"},
		{"watch without table", func(c *Config) { c.Classifier.Watch = true }, "classifier.watch"},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))
			require.Len(t, verrs, 1)
			assert.Equal(t, tt.field, verrs[0].Field)
		})
	}
}

func TestValidate_CustomTableLabel(t *testing.T) {
	cfg := Default()
	cfg.Classifier.TablePath = "tables.toml"
	cfg.Classifier.DefaultLabel = "calm"
	assert.NoError(t, cfg.Validate())
}

func TestClassifierConfig_Apply(t *testing.T) {
	tb := &engine.Table{DefaultLabel: "balanced"}
	ClassifierConfig{}.Apply(tb)
	assert.Equal(t, engine.Label("balanced"), tb.DefaultLabel, "unset keeps the table's label")

	ClassifierConfig{DefaultLabel: "gentle"}.Apply(tb)
	assert.Equal(t, engine.LabelGentle, tb.DefaultLabel)
}

func TestLoad(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TONE_QUEUE_CAPACITY", "7")

	path := writeFile(t, "tone.toml", "[logging]\nlevel = \"debug\"\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Queue.Capacity)
	assert.Equal(t, "debug", cfg.Logging.Level)

	_, err = Load(writeFile(t, "bad.toml", "[queue]\ncap_multiplier = 0\n"))
	require.Error(t, err)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TONE_GRPC_ADDR=:9999\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("TONE_GRPC_ADDR") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.GRPCAddr)
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Std())
	require.NoError(t, d.UnmarshalText([]byte("3")))
	assert.Equal(t, 3*time.Second, d.Std())
	assert.Error(t, d.UnmarshalText([]byte("later")))

	b, err := Duration(1500 * time.Millisecond).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1.5s", string(b))
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		cfg  LoggingConfig
		want zapcore.Level
	}{
		{LoggingConfig{Level: "debug", Format: "json"}, zapcore.DebugLevel},
		{LoggingConfig{Level: "warn", Format: "console"}, zapcore.WarnLevel},
		{LoggingConfig{Level: "", Format: "json"}, zapcore.InfoLevel},
	}
	for _, tt := range tests {
		logger, err := NewLogger(tt.cfg)
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(tt.want))
		assert.False(t, logger.Core().Enabled(tt.want-1))
	}
}
