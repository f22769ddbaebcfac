// Package config loads the botfleet TOML configuration file.
package config

import (
	"fmt"
	"time"

	"github.com/botfleet/botfleet/internal/logger"
	"github.com/spf13/viper"
)

// Config is the top-level TOML structure.
type Config struct {
	// Signature is the command-line fragment identifying bot worker
	// processes during discovery scans.
	Signature string `toml:"signature" mapstructure:"signature"`
	// RegistryPath is the JSON-lines file holding tracked bot records.
	RegistryPath string `toml:"registry_path" mapstructure:"registry_path"`

	TickInterval   time.Duration `toml:"tick_interval" mapstructure:"tick_interval"`
	QueryTimeout   time.Duration `toml:"query_timeout" mapstructure:"query_timeout"`
	StopGrace      time.Duration `toml:"stop_grace" mapstructure:"stop_grace"`
	RestartBackoff time.Duration `toml:"restart_backoff" mapstructure:"restart_backoff"`
	MaxRestarts    int           `toml:"max_restarts" mapstructure:"max_restarts"`
	RestartWindow  time.Duration `toml:"restart_window" mapstructure:"restart_window"`
	CleanupAge     time.Duration `toml:"cleanup_age" mapstructure:"cleanup_age"`
	Workers        int           `toml:"workers" mapstructure:"workers"`

	// HistoryDSN selects the lifecycle event store: "postgres://..." or a
	// sqlite path. Empty disables history recording.
	HistoryDSN string `toml:"history_dsn" mapstructure:"history_dsn"`
	// Listen is the HTTP API bind address for the serve command.
	Listen   string        `toml:"listen" mapstructure:"listen"`
	LogLevel string        `toml:"log_level" mapstructure:"log_level"`
	Log      logger.Config `toml:"log" mapstructure:"log"`
}

// Default returns the configuration used when no file overrides apply.
func Default() Config {
	return Config{
		Signature:      "bot.jar",
		RegistryPath:   "botfleet_registry.jsonl",
		TickInterval:   5 * time.Second,
		QueryTimeout:   300 * time.Millisecond,
		StopGrace:      5 * time.Second,
		RestartBackoff: 30 * time.Second,
		MaxRestarts:    5,
		RestartWindow:  10 * time.Minute,
		CleanupAge:     24 * time.Hour,
		Workers:        8,
		Listen:         "127.0.0.1:8085",
		LogLevel:       "info",
	}
}

// Load reads the TOML file at path over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the supervision core cannot run with.
func (c Config) Validate() error {
	if c.RegistryPath == "" {
		return fmt.Errorf("registry_path must not be empty")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %s", c.TickInterval)
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("query_timeout must be positive, got %s", c.QueryTimeout)
	}
	if c.StopGrace <= 0 {
		return fmt.Errorf("stop_grace must be positive, got %s", c.StopGrace)
	}
	if c.MaxRestarts < 1 {
		return fmt.Errorf("max_restarts must be at least 1, got %d", c.MaxRestarts)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	return nil
}
