// Package config provides YAML configuration loading for the resilience layer.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/venturekit/core/internal/errors"
)

// PrimaryConfig holds connection settings for the primary database.
type PrimaryConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Database       string `yaml:"database"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	PoolSize       int    `yaml:"pool_size"`
	MaxOverflow    int    `yaml:"max_overflow"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// FallbackConfig holds settings for the embedded fallback database.
type FallbackConfig struct {
	Path string `yaml:"path"`
}

// SyncConfig holds settings for the background replay worker.
type SyncConfig struct {
	IntervalSeconds    int `yaml:"interval_seconds"`
	BatchSize          int `yaml:"batch_size"`
	MaxRetries         int `yaml:"max_retries"`
	StopTimeoutSeconds int `yaml:"stop_timeout_seconds"`
}

// Config is the top-level application configuration.
type Config struct {
	Primary                    PrimaryConfig  `yaml:"primary"`
	Fallback                   FallbackConfig `yaml:"fallback"`
	Sync                       SyncConfig     `yaml:"sync"`
	HealthCheckIntervalSeconds int            `yaml:"health_check_interval_seconds"`
	LogLevel                   string         `yaml:"log_level"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Primary.Host == "" {
		c.Primary.Host = "localhost"
	}
	if c.Primary.Port == 0 {
		c.Primary.Port = 5432
	}
	if c.Primary.Database == "" {
		c.Primary.Database = "venturekit"
	}
	if c.Primary.Username == "" {
		c.Primary.Username = "postgres"
	}
	if c.Primary.PoolSize == 0 {
		c.Primary.PoolSize = 5
	}
	if c.Primary.MaxOverflow == 0 {
		c.Primary.MaxOverflow = 10
	}
	if c.Primary.TimeoutSeconds == 0 {
		c.Primary.TimeoutSeconds = 30
	}
	if c.Fallback.Path == "" {
		c.Fallback.Path = "data/fallback.db"
	}
	if c.Sync.IntervalSeconds == 0 {
		c.Sync.IntervalSeconds = 60
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 100
	}
	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = 3
	}
	if c.Sync.StopTimeoutSeconds == 0 {
		c.Sync.StopTimeoutSeconds = 5
	}
	if c.HealthCheckIntervalSeconds == 0 {
		c.HealthCheckIntervalSeconds = 30
	}
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.Primary.Port < 1 || c.Primary.Port > 65535 {
		return apperrors.New(apperrors.ErrConfigInvalid,
			fmt.Sprintf("primary port out of range: %d", c.Primary.Port))
	}
	if c.Primary.PoolSize < 1 {
		return apperrors.New(apperrors.ErrConfigInvalid, "pool_size must be at least 1")
	}
	if c.Primary.MaxOverflow < 0 {
		return apperrors.New(apperrors.ErrConfigInvalid, "max_overflow must not be negative")
	}
	if c.Sync.BatchSize < 1 {
		return apperrors.New(apperrors.ErrConfigInvalid, "sync batch_size must be at least 1")
	}
	if c.Sync.MaxRetries < 0 {
		return apperrors.New(apperrors.ErrConfigInvalid, "sync max_retries must not be negative")
	}
	return nil
}

// Load reads a YAML configuration file, applies defaults and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.Wrap(apperrors.ErrConfigNotFound, "config file not found", err)
		}
		return nil, apperrors.Wrap(apperrors.ErrConfigInvalid, "failed to read config file", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfigInvalid, "failed to parse config file", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SyncInterval returns the replay cycle interval as a duration.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.IntervalSeconds) * time.Second
}

// SyncStopTimeout returns the bounded worker shutdown wait as a duration.
func (c *Config) SyncStopTimeout() time.Duration {
	return time.Duration(c.Sync.StopTimeoutSeconds) * time.Second
}

// HealthCheckInterval returns the health probe throttle as a duration.
func (c *Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalSeconds) * time.Second
}
