// Package config loads the backtester configuration from a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the backtester.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Backend    BackendConfig    `yaml:"backend"`
	Backtest   BacktestConfig   `yaml:"backtest"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

// TracingConfig controls the OpenTelemetry stdout exporter.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	PrettyPrint bool   `yaml:"pretty_print"`
}

// ServerConfig holds HTTP API parameters.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	GRPCPort        int           `yaml:"grpc_port"` // 0 disables the gRPC health listener
}

// DatabaseConfig holds PostgreSQL connection parameters. An empty Host
// disables the database.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Enabled reports whether a database host is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

// ConnString builds a PostgreSQL connection string.
func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// RedisConfig holds Redis connection parameters. An empty Host disables
// event publishing.
type RedisConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	DB            int    `yaml:"db"`
	Password      string `yaml:"password"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

// Enabled reports whether a Redis host is configured.
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

// Addr returns host:port for Redis.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ClickHouseConfig points at a candle table. An empty Addr disables it.
type ClickHouseConfig struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	Table    string `yaml:"table"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Enabled reports whether a ClickHouse address is configured.
func (c ClickHouseConfig) Enabled() bool {
	return c.Addr != ""
}

// BackendConfig points at an HTTP bar source. An empty URL disables it.
type BackendConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// BacktestConfig holds run defaults.
type BacktestConfig struct {
	DSLFile   string `yaml:"dsl_file"`
	Timeframe string `yaml:"timeframe"`
	Warmup    string `yaml:"warmup"` // mask or partial
}

// Load reads config from a YAML file, then overrides with environment
// variables. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	overrideFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Tracing: TracingConfig{
			ServiceName: "dslbacktest",
		},
		Server: ServerConfig{
			Addr:            ":8090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			GRPCPort:        50061,
		},
		Database: DatabaseConfig{
			Port: 5432,
			Name: "algomatic",
			User: "algomatic",
		},
		Redis: RedisConfig{
			Port:          6379,
			ChannelPrefix: "algomatic",
		},
		ClickHouse: ClickHouseConfig{
			Database: "backtest",
			Table:    "data",
			User:     "default",
		},
		Backend: BackendConfig{
			Timeout: 30 * time.Second,
		},
		Backtest: BacktestConfig{
			Timeframe: "1Day",
			Warmup:    "mask",
		},
	}
}

func overrideFromEnv(cfg *Config) {
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")
	if v := os.Getenv("LOG_TRACING_ENABLED"); v != "" {
		cfg.Tracing.Enabled = v == "true"
	}

	setString(&cfg.Server.Addr, "SERVER_ADDR")
	setInt(&cfg.Server.GRPCPort, "SERVER_GRPC_PORT")

	setString(&cfg.Database.Host, "DB_HOST")
	setInt(&cfg.Database.Port, "DB_PORT")
	setString(&cfg.Database.Name, "DB_NAME")
	setString(&cfg.Database.User, "DB_USER")
	setString(&cfg.Database.Password, "DB_PASSWORD")

	setString(&cfg.Redis.Host, "REDIS_HOST")
	setInt(&cfg.Redis.Port, "REDIS_PORT")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")

	setString(&cfg.ClickHouse.Addr, "CH_ADDR")
	setString(&cfg.ClickHouse.Database, "CH_DATABASE")
	setString(&cfg.ClickHouse.Table, "CH_TABLE")
	setString(&cfg.ClickHouse.User, "CH_USER")
	setString(&cfg.ClickHouse.Password, "CH_PASSWORD")

	setString(&cfg.Backend.URL, "BACKEND_URL")
	setString(&cfg.Backtest.Warmup, "BACKTEST_WARMUP")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Validate checks enumerated values and ranges.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log level %q: must be debug, info, warn, or error", c.Log.Level)
	}
	if f := strings.ToLower(c.Log.Format); f != "json" && f != "text" {
		return fmt.Errorf("invalid log format %q: must be json or text", c.Log.Format)
	}
	if c.Backtest.Warmup != "mask" && c.Backtest.Warmup != "partial" {
		return fmt.Errorf("invalid warmup %q: must be mask or partial", c.Backtest.Warmup)
	}
	if c.Database.Enabled() && (c.Database.Port < 1 || c.Database.Port > 65535) {
		return fmt.Errorf("database port must be in 1-65535, got %d", c.Database.Port)
	}
	if c.Redis.Enabled() && (c.Redis.Port < 1 || c.Redis.Port > 65535) {
		return fmt.Errorf("redis port must be in 1-65535, got %d", c.Redis.Port)
	}
	if c.ClickHouse.Enabled() && (c.ClickHouse.Database == "" || c.ClickHouse.Table == "") {
		return fmt.Errorf("clickhouse database and table must not be empty")
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("grpc port must be in 0-65535, got %d", c.Server.GRPCPort)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr must not be empty")
	}
	return nil
}
