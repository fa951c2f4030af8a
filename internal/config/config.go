// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

// Package config loads Frontline configuration from defaults, an optional
// YAML file and environment variables, in that order of precedence.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Ingest   IngestConfig   `koanf:"ingest"`
	Pipeline PipelineConfig `koanf:"pipeline"`
	Cache    CacheConfig    `koanf:"cache"`
	Scraper  ScraperConfig  `koanf:"scraper"`
	GameAPI  GameAPIConfig  `koanf:"game_api"`
	Feed     FeedConfig     `koanf:"feed"`
	Events   EventsConfig   `koanf:"events"`
	Logging  LoggingConfig  `koanf:"logging"`
	Security SecurityConfig `koanf:"security"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout         time.Duration `koanf:"timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	Path      string `koanf:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads" validate:"min=0"` // 0 = runtime.NumCPU()
}

// IngestConfig controls raw event buffering.
type IngestConfig struct {
	BatchSize     int           `koanf:"batch_size" validate:"min=1"`
	FlushInterval time.Duration `koanf:"flush_interval" validate:"gt=0"`
	FlushTimeout  time.Duration `koanf:"flush_timeout" validate:"gt=0"`
}

// PipelineConfig controls scheduled dedup and reconstruction.
type PipelineConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval" validate:"gt=0"`
	Workers  int           `koanf:"workers" validate:"min=1,max=64"`
}

// CacheConfig selects the report cache entry store.
type CacheConfig struct {
	Backend         string        `koanf:"backend" validate:"oneof=memory duckdb badger"`
	TTL             time.Duration `koanf:"ttl" validate:"gt=0"`
	BadgerPath      string        `koanf:"badger_path"`
	CleanupInterval time.Duration `koanf:"cleanup_interval" validate:"gt=0"`
}

// ScraperConfig controls the case data grid walk.
type ScraperConfig struct {
	Width        int           `koanf:"width" validate:"min=1"`
	Height       int           `koanf:"height" validate:"min=1"`
	RequestDelay time.Duration `koanf:"request_delay" validate:"gte=0"`
	RetryDelay   time.Duration `koanf:"retry_delay" validate:"gte=0"`
	MaxRetries   int           `koanf:"max_retries" validate:"min=0,max=100"`
}

// GameAPIConfig holds the upstream game API client settings.
type GameAPIConfig struct {
	BaseURL             string        `koanf:"base_url" validate:"omitempty,url"`
	Timeout             time.Duration `koanf:"timeout" validate:"gt=0"`
	BreakerFailures     uint32        `koanf:"breaker_failures" validate:"min=1"`
	BreakerOpenDuration time.Duration `koanf:"breaker_open_duration" validate:"gt=0"`
}

// FeedConfig holds the live websocket feed settings.
type FeedConfig struct {
	Enabled     bool          `koanf:"enabled"`
	URL         string        `koanf:"url"`
	ReadTimeout time.Duration `koanf:"read_timeout" validate:"gt=0"`
}

// EventsConfig selects the pipeline event bus. An empty NATSURL uses the
// in-process channel bus.
type EventsConfig struct {
	NATSURL string `koanf:"nats_url"`
	Topic   string `koanf:"topic" validate:"required"`
}

// LoggingConfig holds zerolog settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// SecurityConfig holds CORS and rate limiting settings.
type SecurityConfig struct {
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs" validate:"min=1"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// Default returns the built-in defaults without reading any file or
// environment variable.
func Default() *Config {
	return defaultConfig()
}

// Load reads configuration from all layers and validates it.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
