// Package config provides configuration loading for extractd.
package config

import (
	"time"

	"github.com/finsight-labs/extractd/internal/common"
)

// Config is the root configuration for all extractd binaries.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Redis      RedisConfig      `koanf:"redis"`
	Logging    LoggingConfig    `koanf:"logging"`
	ParseAPI   ParseAPIConfig   `koanf:"parse_api"`
	Extraction ExtractionConfig `koanf:"extraction"`
	Ingest     IngestConfig     `koanf:"ingest"`
	Queue      QueueConfig      `koanf:"queue"`
}

// ServerConfig holds the operational HTTP and gRPC listeners.
type ServerConfig struct {
	HTTPAddr        string        `koanf:"http_addr"`
	GRPCAddr        string        `koanf:"grpc_addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxConns        int           `koanf:"max_conns"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	HealthCheckIntv time.Duration `koanf:"health_check_interval"`
}

// RedisConfig holds the Redis Streams queue settings.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Stream   string `koanf:"stream"`
	Group    string `koanf:"group"`
	DLQ      string `koanf:"dlq"`
}

// LoggingConfig selects the zap profile.
type LoggingConfig struct {
	Level   string `koanf:"level"`
	Console bool   `koanf:"console"`
}

// ParseAPIConfig holds the external extraction service settings.
type ParseAPIConfig struct {
	BaseURL        string        `koanf:"base_url"`
	APIKey         string        `koanf:"api_key"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
	RatePerSecond  float64       `koanf:"rate_per_second"`
}

// ExtractionConfig holds the orchestration knobs. SyncMaxBytes is the single
// source of truth for the sync/async routing threshold.
type ExtractionConfig struct {
	SyncMaxBytes       int64   `koanf:"sync_max_bytes"`
	MaxRetries         int     `koanf:"max_retries"`
	PollCeiling        int     `koanf:"poll_ceiling"`
	ArchiveConcurrency int     `koanf:"archive_concurrency"`
	MinConfidence      float64 `koanf:"min_confidence"`
}

// IngestConfig holds filesystem ingestion settings.
type IngestConfig struct {
	WatchDir string        `koanf:"watch_dir"`
	Debounce time.Duration `koanf:"debounce"`
}

// QueueConfig selects the queue backend for the daemon.
type QueueConfig struct {
	Kind       string `koanf:"kind"` // "local" or "redis"
	BufferSize int    `koanf:"buffer_size"`
	Workers    int    `koanf:"workers"`
	MaxRetries int    `koanf:"max_retries"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = ":8089"
	}
	if cfg.Server.GRPCAddr == "" {
		cfg.Server.GRPCAddr = ":50052"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Database.ConnectTimeout == 0 {
		cfg.Database.ConnectTimeout = 5 * time.Second
	}
	if cfg.Database.HealthCheckIntv == 0 {
		cfg.Database.HealthCheckIntv = time.Minute
	}

	if cfg.Redis.Stream == "" {
		cfg.Redis.Stream = "extractd:documents"
	}
	if cfg.Redis.Group == "" {
		cfg.Redis.Group = "extractd-workers"
	}
	if cfg.Redis.DLQ == "" {
		cfg.Redis.DLQ = "extractd:documents:dlq"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.ParseAPI.RequestTimeout == 0 {
		cfg.ParseAPI.RequestTimeout = 480 * time.Second
	}
	if cfg.ParseAPI.ConnectTimeout == 0 {
		cfg.ParseAPI.ConnectTimeout = 10 * time.Second
	}
	if cfg.ParseAPI.RatePerSecond == 0 {
		cfg.ParseAPI.RatePerSecond = 10
	}

	if cfg.Extraction.SyncMaxBytes == 0 {
		cfg.Extraction.SyncMaxBytes = 15 << 20
	}
	if cfg.Extraction.MaxRetries == 0 {
		cfg.Extraction.MaxRetries = 2
	}
	if cfg.Extraction.PollCeiling == 0 {
		cfg.Extraction.PollCeiling = 60
	}
	if cfg.Extraction.ArchiveConcurrency == 0 {
		cfg.Extraction.ArchiveConcurrency = 20
	}
	if cfg.Extraction.MinConfidence == 0 {
		cfg.Extraction.MinConfidence = 0.5
	}

	if cfg.Ingest.Debounce == 0 {
		cfg.Ingest.Debounce = 2 * time.Second
	}

	if cfg.Queue.Kind == "" {
		cfg.Queue.Kind = "local"
	}
	if cfg.Queue.BufferSize == 0 {
		cfg.Queue.BufferSize = 256
	}
	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = 4
	}
	if cfg.Queue.MaxRetries == 0 {
		cfg.Queue.MaxRetries = 3
	}
}

// Validate checks the loaded configuration for values the daemon cannot run
// without.
func (c *Config) Validate() error {
	v := common.NewValidator()
	v.Field("parse_api.base_url", c.ParseAPI.BaseURL, common.Required, common.AbsoluteURL)
	v.Field("extraction.sync_max_bytes", c.Extraction.SyncMaxBytes, common.Positive)
	v.Field("extraction.poll_ceiling", c.Extraction.PollCeiling, common.Positive)
	v.Field("extraction.archive_concurrency", c.Extraction.ArchiveConcurrency, common.Positive)
	if c.Queue.Kind != "local" && c.Queue.Kind != "redis" {
		v.Field("queue.kind", c.Queue.Kind, func(f string, val interface{}) *common.ValidationError {
			return &common.ValidationError{Field: f, Value: val, Message: "must be \"local\" or \"redis\""}
		})
	}
	if c.Queue.Kind == "redis" {
		v.Field("redis.addr", c.Redis.Addr, common.Required)
	}
	return v.Error()
}
