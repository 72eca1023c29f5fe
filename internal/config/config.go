// Package config loads server configuration from an optional YAML file
// with environment-variable overrides for the common deployment knobs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything the server needs at startup.
type Config struct {
	ListenAddr string
	RedisAddr  string

	// RoomWindow caps the per-room recent-message window.
	RoomWindow int

	// MaxConns caps concurrent connections; 0 means unlimited.
	MaxConns    int
	IdleTimeout time.Duration
	SessionTTL  time.Duration

	// RateMax connection attempts per IP within RateWindow.
	RateMax    int
	RateWindow time.Duration

	// AdminIDs may delete messages they did not send.
	AdminIDs []string
}

// fileConfig is the YAML shape; durations are Go duration strings.
type fileConfig struct {
	ListenAddr  string   `yaml:"listen_addr"`
	RedisAddr   string   `yaml:"redis_addr"`
	RoomWindow  int      `yaml:"room_window"`
	MaxConns    int      `yaml:"max_conns"`
	IdleTimeout string   `yaml:"idle_timeout"`
	SessionTTL  string   `yaml:"session_ttl"`
	RateMax     int      `yaml:"rate_max"`
	RateWindow  string   `yaml:"rate_window"`
	AdminIDs    []string `yaml:"admin_ids"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr: ":8080",
		RoomWindow: 2000,
		SessionTTL: 30 * time.Minute,
		RateMax:    20,
		RateWindow: time.Minute,
	}
}

// Load reads CONFIG_PATH (if set, the file must exist; otherwise
// ./config.yaml is used when present), then applies LISTEN_ADDR and
// REDIS_ADDR overrides on top.
func Load() (*Config, error) {
	cfg := Default()

	path := os.Getenv("CONFIG_PATH")
	required := path != ""
	if path == "" {
		path = "config.yaml"
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := cfg.apply(data); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	case required:
		return nil, err
	}

	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	return cfg, nil
}

// apply merges a YAML document over the current values.
func (c *Config) apply(data []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return err
	}
	if fc.ListenAddr != "" {
		c.ListenAddr = fc.ListenAddr
	}
	if fc.RedisAddr != "" {
		c.RedisAddr = fc.RedisAddr
	}
	if fc.RoomWindow > 0 {
		c.RoomWindow = fc.RoomWindow
	}
	if fc.MaxConns > 0 {
		c.MaxConns = fc.MaxConns
	}
	if fc.RateMax > 0 {
		c.RateMax = fc.RateMax
	}
	if len(fc.AdminIDs) > 0 {
		c.AdminIDs = fc.AdminIDs
	}

	var err error
	if c.IdleTimeout, err = parseDurationOr(c.IdleTimeout, fc.IdleTimeout); err != nil {
		return fmt.Errorf("idle_timeout: %w", err)
	}
	if c.SessionTTL, err = parseDurationOr(c.SessionTTL, fc.SessionTTL); err != nil {
		return fmt.Errorf("session_ttl: %w", err)
	}
	if c.RateWindow, err = parseDurationOr(c.RateWindow, fc.RateWindow); err != nil {
		return fmt.Errorf("rate_window: %w", err)
	}
	return nil
}

func parseDurationOr(def time.Duration, s string) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}
