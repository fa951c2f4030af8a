// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists config file locations in order of priority.
var DefaultConfigPaths = []string{
	"frontline.yaml",
	"frontline.yml",
	"/etc/frontline/config.yaml",
	"/etc/frontline/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8420,
			Timeout:         30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Path:      "/data/frontline.duckdb",
			MaxMemory: "1GB",
			Threads:   0,
		},
		Ingest: IngestConfig{
			BatchSize:     100,
			FlushInterval: 5 * time.Second,
			FlushTimeout:  30 * time.Second,
		},
		Pipeline: PipelineConfig{
			Enabled:  true,
			Interval: time.Minute,
			Workers:  4,
		},
		Cache: CacheConfig{
			Backend:         "duckdb",
			TTL:             time.Hour,
			BadgerPath:      "/data/cache",
			CleanupInterval: 10 * time.Minute,
		},
		Scraper: ScraperConfig{
			Width:        50,
			Height:       50,
			RequestDelay: 250 * time.Millisecond,
			RetryDelay:   5 * time.Second,
			MaxRetries:   5,
		},
		GameAPI: GameAPIConfig{
			BaseURL:             "",
			Timeout:             15 * time.Second,
			BreakerFailures:     5,
			BreakerOpenDuration: time.Minute,
		},
		Feed: FeedConfig{
			Enabled:     false,
			URL:         "",
			ReadTimeout: 90 * time.Second,
		},
		Events: EventsConfig{
			NATSURL: "",
			Topic:   "frontline.pipeline.completed",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Security: SecurityConfig{
			CORSOrigins:       []string{"*"},
			RateLimitReqs:     120,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: false,
		},
	}
}

// LoadWithKoanf loads configuration in three layers:
//  1. Defaults from defaultConfig()
//  2. Optional YAML file (CONFIG_PATH or DefaultConfigPaths)
//  3. Environment variables listed in envMappings
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// sliceConfigPaths are split on commas when they arrive as strings.
var sliceConfigPaths = []string{
	"security.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		parts := strings.Split(s, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps lower-cased environment variable names to koanf paths.
var envMappings = map[string]string{
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_timeout":          "server.timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",

	"duckdb_path":       "database.path",
	"duckdb_max_memory": "database.max_memory",
	"duckdb_threads":    "database.threads",

	"ingest_batch_size":     "ingest.batch_size",
	"ingest_flush_interval": "ingest.flush_interval",
	"ingest_flush_timeout":  "ingest.flush_timeout",

	"pipeline_enabled":  "pipeline.enabled",
	"pipeline_interval": "pipeline.interval",
	"pipeline_workers":  "pipeline.workers",

	"cache_backend":          "cache.backend",
	"cache_ttl":              "cache.ttl",
	"cache_badger_path":      "cache.badger_path",
	"cache_cleanup_interval": "cache.cleanup_interval",

	"scraper_width":         "scraper.width",
	"scraper_height":        "scraper.height",
	"scraper_request_delay": "scraper.request_delay",
	"scraper_retry_delay":   "scraper.retry_delay",
	"scraper_max_retries":   "scraper.max_retries",

	"game_api_url":                   "game_api.base_url",
	"game_api_timeout":               "game_api.timeout",
	"game_api_breaker_failures":      "game_api.breaker_failures",
	"game_api_breaker_open_duration": "game_api.breaker_open_duration",

	"feed_enabled":      "feed.enabled",
	"feed_url":          "feed.url",
	"feed_read_timeout": "feed.read_timeout",

	"nats_url":     "events.nats_url",
	"events_topic": "events.topic",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"cors_origins":        "security.cors_origins",
	"rate_limit_requests": "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",
}

// envTransformFunc returns "" for unmapped variables so they are ignored.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
