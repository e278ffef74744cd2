// Package config provides configuration loading and validation for the
// CollarKit client. Configuration is a JSON document; credentials may be
// supplied via environment variables instead of the file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/c360/collarkit/errors"
)

// Default service endpoints
const (
	DefaultBaseURL   = "https://portal.pettracer.com/api"
	DefaultStreamURL = "wss://portal.pettracer.com/sc"
)

// Environment variable names for credential overrides
const (
	EnvToken    = "COLLARKIT_TOKEN"
	EnvEmail    = "COLLARKIT_EMAIL"
	EnvPassword = "COLLARKIT_PASSWORD"
)

// Config is the raw JSON configuration document. Durations are strings in
// Go duration syntax (e.g. "180s").
type Config struct {
	BaseURL   string `json:"base_url,omitempty"`
	StreamURL string `json:"stream_url,omitempty"`

	// Either a pre-issued token, or email+password for login.
	Token    string `json:"token,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`

	RefreshInterval   string `json:"refresh_interval,omitempty"`
	HTTPTimeout       string `json:"http_timeout,omitempty"`
	ReconnectDelay    string `json:"reconnect_delay,omitempty"`
	HeartbeatInterval string `json:"heartbeat_interval,omitempty"`

	// MetricsAddr enables the Prometheus scrape endpoint when set
	// (e.g. ":9090").
	MetricsAddr string `json:"metrics_addr,omitempty"`
}

// Settings is the parsed, validated configuration consumed by components.
type Settings struct {
	BaseURL   string
	StreamURL string

	Token    string
	Email    string
	Password string

	RefreshInterval   time.Duration
	HTTPTimeout       time.Duration
	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration

	MetricsAddr string
}

// Default returns the default configuration
func Default() Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		StreamURL:         DefaultStreamURL,
		RefreshInterval:   "180s",
		HTTPTimeout:       "30s",
		ReconnectDelay:    "10s",
		HeartbeatInterval: "9s",
	}
}

// FromEnv returns the default configuration with credential environment
// overrides applied, for running without a config file.
func FromEnv() Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

// Load reads a JSON config file, applies defaults for absent fields, and
// applies credential environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "config", "Load", "read config file")
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.WrapInvalid(err, "config", "Load", "parse config file")
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides credentials from the environment when set
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvToken); v != "" {
		c.Token = v
	}
	if v := os.Getenv(EnvEmail); v != "" {
		c.Email = v
	}
	if v := os.Getenv(EnvPassword); v != "" {
		c.Password = v
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "base_url is required")
	}
	if c.StreamURL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "stream_url is required")
	}
	if !strings.HasPrefix(c.StreamURL, "ws://") && !strings.HasPrefix(c.StreamURL, "wss://") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"stream_url must use ws:// or wss:// scheme")
	}

	if c.Token == "" && (c.Email == "" || c.Password == "") {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"either token or email and password must be configured")
	}

	for field, value := range map[string]string{
		"refresh_interval":   c.RefreshInterval,
		"http_timeout":       c.HTTPTimeout,
		"reconnect_delay":    c.ReconnectDelay,
		"heartbeat_interval": c.HeartbeatInterval,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate",
				fmt.Sprintf("parse %s", field))
		}
	}

	return nil
}

// Settings validates the configuration and returns the parsed settings.
func (c *Config) Settings() (Settings, error) {
	if err := c.Validate(); err != nil {
		return Settings{}, err
	}

	def := Default()
	s := Settings{
		BaseURL:     strings.TrimRight(c.BaseURL, "/"),
		StreamURL:   strings.TrimRight(c.StreamURL, "/"),
		Token:       c.Token,
		Email:       c.Email,
		Password:    c.Password,
		MetricsAddr: c.MetricsAddr,
	}

	s.RefreshInterval = parseDurationOr(c.RefreshInterval, def.RefreshInterval)
	s.HTTPTimeout = parseDurationOr(c.HTTPTimeout, def.HTTPTimeout)
	s.ReconnectDelay = parseDurationOr(c.ReconnectDelay, def.ReconnectDelay)
	s.HeartbeatInterval = parseDurationOr(c.HeartbeatInterval, def.HeartbeatInterval)

	return s, nil
}

// parseDurationOr parses value, falling back to fallback when value is
// empty. Both strings have been validated already.
func parseDurationOr(value, fallback string) time.Duration {
	if value == "" {
		value = fallback
	}
	d, _ := time.ParseDuration(value)
	return d
}
