// Package config loads the service configuration and the providers schedule file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP struct {
		Address        string   `yaml:"address"`
		ManagerAPIKeys []string `yaml:"manager_api_keys"`
	} `yaml:"http"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		IntervalHours int    `yaml:"interval_hours"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Redis struct {
		Address         string `yaml:"address"`
		Password        string `yaml:"password"`
		DB              int    `yaml:"db"`
		RulesTTLSeconds int    `yaml:"rules_ttl_seconds"`
	} `yaml:"redis"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Booking struct {
		SlotMinutes                int    `yaml:"slot_minutes"`
		MaxAdvanceDays             int    `yaml:"max_advance_days"`
		Timezone                   string `yaml:"timezone"`
		NotificationTimeoutSeconds int    `yaml:"notification_timeout_seconds"`
		SessionTimeoutMinutes      int    `yaml:"session_timeout_minutes"`
	} `yaml:"booking"`

	Email struct {
		Enabled   bool   `yaml:"enabled"`
		APIKey    string `yaml:"sendgrid_api_key"`
		FromEmail string `yaml:"from_email"`
		FromName  string `yaml:"from_name"`
	} `yaml:"email"`

	Telegram struct {
		BotToken string `yaml:"bot_token"`
		Debug    bool   `yaml:"debug"`
	} `yaml:"telegram"`

	Notify struct {
		RatePerSecond float64 `yaml:"rate_per_second"`
		Burst         int     `yaml:"burst"`
	} `yaml:"notify"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	ProvidersConfigPath string `yaml:"providers_config_path"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/agenda.db"
	}
	if cfg.HTTP.Address == "" {
		cfg.HTTP.Address = ":8080"
	}
	cfg.HTTP.ManagerAPIKeys = slices.DeleteFunc(cfg.HTTP.ManagerAPIKeys, func(k string) bool { return k == "" })
	if cfg.ProvidersConfigPath == "" {
		cfg.ProvidersConfigPath = filepath.Join(filepath.Dir(path), "providers.yaml")
	}

	if _, err = cfg.Location(); err != nil {
		return nil, err
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SlotGranularity is the length of one bookable slot.
func (c *Config) SlotGranularity() time.Duration {
	if c.Booking.SlotMinutes <= 0 {
		return 60 * time.Minute
	}
	return time.Duration(c.Booking.SlotMinutes) * time.Minute
}

// MaxAdvanceDays is how far ahead a booking may be placed.
func (c *Config) MaxAdvanceDays() int {
	if c.Booking.MaxAdvanceDays <= 0 {
		return 60
	}
	return c.Booking.MaxAdvanceDays
}

// Location is the single timezone all dates and rule times are interpreted in.
func (c *Config) Location() (*time.Location, error) {
	if c.Booking.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Booking.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Booking.Timezone, err)
	}
	return loc, nil
}

func (c *Config) NotificationTimeout() time.Duration {
	if c.Booking.NotificationTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Booking.NotificationTimeoutSeconds) * time.Second
}

func (c *Config) SessionTimeout() time.Duration {
	if c.Booking.SessionTimeoutMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.Booking.SessionTimeoutMinutes) * time.Minute
}

func (c *Config) RulesCacheTTL() time.Duration {
	if c.Redis.RulesTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Redis.RulesTTLSeconds) * time.Second
}

// LoadProviders reads the providers file referenced by the config.
func (c *Config) LoadProviders() (*ProvidersConfig, error) {
	return LoadProvidersConfig(c.ProvidersConfigPath)
}
