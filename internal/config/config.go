// Package config loads the tone service configuration from a TOML, YAML or
// JSON file, a .env file and TONE_* environment variables, in that order.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/jwgray1010/Unsaid-sub003/internal/engine"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverFile     = "file"
)

// Config is the full service configuration.
type Config struct {
	Queue      QueueConfig      `toml:"queue" yaml:"queue" json:"queue"`
	Store      StoreConfig      `toml:"store" yaml:"store" json:"store"`
	Classifier ClassifierConfig `toml:"classifier" yaml:"classifier" json:"classifier"`
	Server     ServerConfig     `toml:"server" yaml:"server" json:"server"`
	Consumer   ConsumerConfig   `toml:"consumer" yaml:"consumer" json:"consumer"`
	Logging    LoggingConfig    `toml:"logging" yaml:"logging" json:"logging"`
}

// QueueConfig bounds the in-memory queues and the shared store.
type QueueConfig struct {
	Capacity      int      `toml:"capacity" yaml:"capacity" json:"capacity"`
	CapMultiplier int      `toml:"cap_multiplier" yaml:"cap_multiplier" json:"cap_multiplier"`
	FlushTimeout  Duration `toml:"flush_timeout" yaml:"flush_timeout" json:"flush_timeout"`
}

// StoreConfig selects the shared store backend. Path is a database file for
// sqlite and a directory for file.
type StoreConfig struct {
	Driver      string `toml:"driver" yaml:"driver" json:"driver"`
	Path        string `toml:"path" yaml:"path" json:"path"`
	PostgresDSN string `toml:"postgres_dsn" yaml:"postgres_dsn" json:"postgres_dsn"`
}

// ClassifierConfig points at an optional table file. An empty DefaultLabel
// keeps the table's own default_label.
type ClassifierConfig struct {
	TablePath    string `toml:"table_path" yaml:"table_path" json:"table_path"`
	Watch        bool   `toml:"watch" yaml:"watch" json:"watch"`
	DefaultLabel string `toml:"default_label" yaml:"default_label" json:"default_label"`
}

// Apply sets the configured overrides on t. It runs on the startup table and
// on every hot reload, so both see the same default label.
func (c ClassifierConfig) Apply(t *engine.Table) {
	if c.DefaultLabel != "" {
		t.DefaultLabel = engine.Label(c.DefaultLabel)
	}
}

// ServerConfig holds the listen addresses and the internal key hash.
type ServerConfig struct {
	HTTPAddr        string   `toml:"http_addr" yaml:"http_addr" json:"http_addr"`
	GRPCAddr        string   `toml:"grpc_addr" yaml:"grpc_addr" json:"grpc_addr"`
	InternalKeyHash string   `toml:"internal_key_hash" yaml:"internal_key_hash" json:"internal_key_hash"`
	AuthCacheTTL    Duration `toml:"auth_cache_ttl" yaml:"auth_cache_ttl" json:"auth_cache_ttl"`
}

// ConsumerConfig controls the in-process host consumer.
type ConsumerConfig struct {
	Enabled       bool     `toml:"enabled" yaml:"enabled" json:"enabled"`
	Interval      Duration `toml:"interval" yaml:"interval" json:"interval"`
	ClickHouseDSN string   `toml:"clickhouse_dsn" yaml:"clickhouse_dsn" json:"clickhouse_dsn"`
}

// LoggingConfig selects the zap level and encoding.
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level" json:"level"`
	Format string `toml:"format" yaml:"format" json:"format"` // json or console
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Queue: QueueConfig{
			Capacity:      100,
			CapMultiplier: 2,
			FlushTimeout:  Duration(5 * time.Second),
		},
		Store: StoreConfig{
			Driver: DriverSQLite,
			Path:   filepath.Join("data", "shared.db"),
		},
		Server: ServerConfig{
			HTTPAddr:     ":8080",
			GRPCAddr:     ":9090",
			AuthCacheTTL: Duration(30 * time.Second),
		},
		Consumer: ConsumerConfig{
			Enabled:  true,
			Interval: Duration(30 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds a Config from defaults, the file at path (skipped when path is
// empty), a .env file in the working directory and the environment. The
// result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("Load: %w", err)
		}
	}

	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("Load .env: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeFile parses path into cfg based on its extension.
func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("decode TOML: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode JSON: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return nil
}

// ApplyEnv overrides fields from environment variables. lookup is usually
// os.LookupEnv. Empty values are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return "", false
		}
		return strings.TrimSpace(v), true
	}

	strs := map[string]*string{
		"TONE_STORE_DRIVER":      &c.Store.Driver,
		"TONE_STORE_PATH":        &c.Store.Path,
		"POSTGRES_DSN":           &c.Store.PostgresDSN,
		"CLICKHOUSE_DSN":         &c.Consumer.ClickHouseDSN,
		"TONE_HTTP_ADDR":         &c.Server.HTTPAddr,
		"TONE_GRPC_ADDR":         &c.Server.GRPCAddr,
		"TONE_INTERNAL_KEY_HASH": &c.Server.InternalKeyHash,
		"TONE_TABLE_PATH":        &c.Classifier.TablePath,
		"TONE_DEFAULT_LABEL":     &c.Classifier.DefaultLabel,
		"TONE_LOG_LEVEL":         &c.Logging.Level,
		"TONE_LOG_FORMAT":        &c.Logging.Format,
	}
	for key, dst := range strs {
		if v, ok := get(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"TONE_QUEUE_CAPACITY":       &c.Queue.Capacity,
		"TONE_STORE_CAP_MULTIPLIER": &c.Queue.CapMultiplier,
	}
	for key, dst := range ints {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*Duration{
		"TONE_FLUSH_TIMEOUT":     &c.Queue.FlushTimeout,
		"TONE_CONSUMER_INTERVAL": &c.Consumer.Interval,
		"TONE_AUTH_CACHE_TTL":    &c.Server.AuthCacheTTL,
	}
	for key, dst := range durations {
		if v, ok := get(key); ok {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	}

	bools := map[string]*bool{
		"TONE_TABLE_WATCH":      &c.Classifier.Watch,
		"TONE_CONSUMER_ENABLED": &c.Consumer.Enabled,
	}
	for key, dst := range bools {
		if v, ok := get(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}
	return nil
}
