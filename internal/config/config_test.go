package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.ListenAddr != ":8080" {
		t.Errorf("unexpected listen addr %q", cfg.ListenAddr)
	}
	if cfg.RoomWindow != 2000 {
		t.Errorf("unexpected room window %d", cfg.RoomWindow)
	}
	if cfg.RedisAddr != "" {
		t.Errorf("expected no redis by default, got %q", cfg.RedisAddr)
	}
}

func TestApplyYAML(t *testing.T) {
	cfg := Default()
	err := cfg.apply([]byte(`
listen_addr: ":9999"
redis_addr: "localhost:6379"
room_window: 100
max_conns: 500
idle_timeout: 5m
rate_max: 3
rate_window: 30s
admin_ids: ["root"]
`))
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if cfg.ListenAddr != ":9999" || cfg.RedisAddr != "localhost:6379" {
		t.Errorf("addresses not applied: %+v", cfg)
	}
	if cfg.RoomWindow != 100 || cfg.MaxConns != 500 {
		t.Errorf("limits not applied: %+v", cfg)
	}
	if cfg.IdleTimeout != 5*time.Minute || cfg.RateWindow != 30*time.Second {
		t.Errorf("durations not applied: %+v", cfg)
	}
	if cfg.RateMax != 3 || len(cfg.AdminIDs) != 1 || cfg.AdminIDs[0] != "root" {
		t.Errorf("rate/admin settings not applied: %+v", cfg)
	}
	// Unset keys keep their defaults.
	if cfg.SessionTTL != 30*time.Minute {
		t.Errorf("expected default session TTL kept, got %v", cfg.SessionTTL)
	}
}

func TestApplyBadDuration(t *testing.T) {
	cfg := Default()
	if err := cfg.apply([]byte("idle_timeout: soon")); err == nil {
		t.Fatal("expected error for bad duration")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: \":7000\"\nroom_window: 10\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("LISTEN_ADDR", ":7001")
	t.Setenv("REDIS_ADDR", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.ListenAddr != ":7001" {
		t.Errorf("expected env override, got %q", cfg.ListenAddr)
	}
	if cfg.RoomWindow != 10 {
		t.Errorf("expected file value kept, got %d", cfg.RoomWindow)
	}
}

func TestLoadMissingRequiredFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing CONFIG_PATH file")
	}
}
