package config

import (
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config holds application settings. The metric and feed catalog lives in
// separate files, see Catalog.
type Config struct {
	DBPath             string   `yaml:"db_path"`
	OutputDir          string   `yaml:"output_dir"`
	MetricsFile        string   `yaml:"metrics_file"`
	FeedsFile          string   `yaml:"feeds_file"`
	EnvFile            string   `yaml:"env_file"`
	LogLevel           string   `yaml:"log_level"`
	FetchTimeoutSec    int      `yaml:"fetch_timeout_secs"`
	ItemWorkers        int      `yaml:"item_workers"`
	StoryRetentionDays int      `yaml:"story_retention_days"`
	SparklinePoints    int      `yaml:"sparkline_points"`
	Schedule           string   `yaml:"schedule"`
	Timezone           string   `yaml:"timezone"`
	ListenAddr         string   `yaml:"listen_addr"`
	UserAgent          string   `yaml:"user_agent"`
	Telegram           Telegram `yaml:"telegram"`
}

// Telegram configures the optional run summary notification. The bot token
// is a credential and comes from the environment.
type Telegram struct {
	ChatID       int64  `yaml:"chat_id"`
	DashboardURL string `yaml:"dashboard_url"`
}

// Defaults returns a Config with all default values set.
func Defaults() Config {
	return Config{
		DBPath:             "./data/bloomberg_lite.db",
		OutputDir:          "./docs",
		MetricsFile:        "./config/metrics.yaml",
		FeedsFile:          "./config/feeds.yaml",
		EnvFile:            ".env",
		LogLevel:           "info",
		FetchTimeoutSec:    15,
		ItemWorkers:        10,
		StoryRetentionDays: 7,
		SparklinePoints:    12,
		Schedule:           "0 */6 * * *",
		Timezone:           "UTC",
		ListenAddr:         ":8080",
		UserAgent:          "bloomberg-lite/1.0",
	}
}

// Load reads a YAML config file and returns a validated Config. An empty path
// yields the defaults. Environment variables BLOOMBERG_LITE_CONFIG and
// BLOOMBERG_LITE_DB override the file path and the db path.
func Load(path string) (Config, error) {
	if envPath := os.Getenv("BLOOMBERG_LITE_CONFIG"); envPath != "" {
		path = envPath
	}

	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if envDB := os.Getenv("BLOOMBERG_LITE_DB"); envDB != "" {
		cfg.DBPath = envDB
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks that required fields are present and values are valid.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	if c.FetchTimeoutSec <= 0 {
		return fmt.Errorf("fetch_timeout_secs must be positive, got %d", c.FetchTimeoutSec)
	}
	if c.ItemWorkers <= 0 {
		return fmt.Errorf("item_workers must be positive, got %d", c.ItemWorkers)
	}
	if c.StoryRetentionDays <= 0 {
		return fmt.Errorf("story_retention_days must be positive, got %d", c.StoryRetentionDays)
	}
	if c.SparklinePoints < 2 {
		return fmt.Errorf("sparkline_points must be at least 2, got %d", c.SparklinePoints)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", c.Schedule, err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// FetchTimeout returns the per-request HTTP timeout.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSec) * time.Second
}

// StoryRetention returns the rolling window for stories.
func (c *Config) StoryRetention() time.Duration {
	return time.Duration(c.StoryRetentionDays) * 24 * time.Hour
}
