// Package config loads gateway configuration from a JSON file with
// environment overrides, plus an optional YAML tier table.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"
)

// RedisConfig holds Redis connection settings for the tenant cache
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// PostgresConfig holds the tenant directory database settings
type PostgresConfig struct {
	URL string `json:"url"`
}

// RateLimitConfig holds limiter settings
type RateLimitConfig struct {
	Shards       int           `json:"shards"`
	IdleTTL      time.Duration `json:"idle_ttl"`
	ReapInterval time.Duration `json:"reap_interval"`
	Unmetered    []string      `json:"unmetered"`
}

// EventsConfig holds audit publisher settings
type EventsConfig struct {
	QueueSize      int           `json:"queue_size"`
	PublishTimeout time.Duration `json:"publish_timeout"`
}

// RetryConfig bounds backend retries
type RetryConfig struct {
	MaxRetries      int           `json:"max_retries"`
	InitialInterval time.Duration `json:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval"`
	AttemptTimeout  time.Duration `json:"attempt_timeout"`
}

// TelemetryConfig holds tracing settings
type TelemetryConfig struct {
	Enabled    bool    `json:"enabled"`
	Exporter   string  `json:"exporter"`
	Endpoint   string  `json:"endpoint"`
	SampleRate float64 `json:"sample_rate"`
}

// DaemonConfig holds daemon-specific settings
type DaemonConfig struct {
	HTTPAddr     string `json:"http_addr"` // metrics and health endpoint
	LogLevel     string `json:"log_level"`
	LogFormat    string `json:"log_format"` // text, json
	AuditLogPath string `json:"audit_log_path"`
	DevMode      bool   `json:"dev_mode"`
	TierFile     string `json:"tier_file"` // YAML tier table, optional
}

// Config is the central configuration struct embedding all component configs
type Config struct {
	Redis     RedisConfig     `json:"redis"`
	Postgres  PostgresConfig  `json:"postgres"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Events    EventsConfig    `json:"events"`
	Retry     RetryConfig     `json:"retry"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Daemon    DaemonConfig    `json:"daemon"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
		},
		Postgres: PostgresConfig{
			URL: "",
		},
		RateLimit: RateLimitConfig{
			Shards:       64,
			IdleTTL:      time.Hour,
			ReapInterval: 5 * time.Minute,
		},
		Events: EventsConfig{
			QueueSize:      1024,
			PublishTimeout: 5 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries:      3,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			AttemptTimeout:  10 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Enabled:    false,
			Exporter:   "otlp-http",
			Endpoint:   "localhost:4318",
			SampleRate: 1.0,
		},
		Daemon: DaemonConfig{
			HTTPAddr:  ":9090",
			LogLevel:  "info",
			LogFormat: "text",
		},
	}
}

// LoadFromFile loads configuration from a JSON file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("MESH_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("MESH_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("MESH_POSTGRES_URL"); v != "" {
		cfg.Postgres.URL = v
	}
	if v := os.Getenv("MESH_HTTP_ADDR"); v != "" {
		cfg.Daemon.HTTPAddr = v
	}
	if v := os.Getenv("MESH_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
	}
	if v := os.Getenv("MESH_LOG_FORMAT"); v != "" {
		cfg.Daemon.LogFormat = v
	}
	if v := os.Getenv("MESH_AUDIT_LOG"); v != "" {
		cfg.Daemon.AuditLogPath = v
	}
	if v := os.Getenv("MESH_TIER_FILE"); v != "" {
		cfg.Daemon.TierFile = v
	}
	if v := os.Getenv("MESH_DEV_MODE"); v != "" {
		cfg.Daemon.DevMode = v == "true" || v == "1"
	}
	if v := os.Getenv("MESH_RATE_LIMIT_SHARDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimit.Shards = n
		}
	}
	if v := os.Getenv("MESH_OTEL_ENDPOINT"); v != "" {
		cfg.Telemetry.Endpoint = v
		cfg.Telemetry.Enabled = true
	}
}

// Load reads the config file at path (empty path means defaults only)
// and applies environment overrides.
func Load(path string) (*Config, error) {
	var cfg *Config
	if path != "" {
		c, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = c
	} else {
		cfg = DefaultConfig()
	}
	LoadFromEnv(cfg)
	return cfg, nil
}
