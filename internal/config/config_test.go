package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Defaults()
	cfg.DefaultInstance = "work"
	cfg.Feed.BackoffMax = Duration{5 * time.Second}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultInstance != "work" {
		t.Errorf("DefaultInstance = %q, want %q", loaded.DefaultInstance, "work")
	}
	if loaded.Feed.BackoffMax.Duration != 5*time.Second {
		t.Errorf("BackoffMax = %s, want 5s", loaded.Feed.BackoffMax)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := "[feed]\nbackoff_initial = \"100ms\"\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Feed.BackoffInitial.Duration != 100*time.Millisecond {
		t.Errorf("BackoffInitial = %s, want 100ms", cfg.Feed.BackoffInitial)
	}
	if cfg.Feed.Buffer != 256 {
		t.Errorf("Buffer = %d, want default 256", cfg.Feed.Buffer)
	}
	if cfg.Realtime.Transport != TransportBus {
		t.Errorf("Transport = %q, want %q", cfg.Realtime.Transport, TransportBus)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}

	cfg, err := LoadOrDefault("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.DefaultInstance != "main" {
		t.Errorf("DefaultInstance = %q, want main", cfg.DefaultInstance)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AGORA_REALTIME_TRANSPORT", "redis")
	t.Setenv("AGORA_REALTIME_REDIS_URL", "redis://localhost:6379/2")
	t.Setenv("AGORA_NOTIFY_TIMEOUT", "750ms")

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Realtime.Transport != TransportRedis {
		t.Errorf("Transport = %q, want redis", cfg.Realtime.Transport)
	}
	if cfg.Realtime.RedisURL != "redis://localhost:6379/2" {
		t.Errorf("RedisURL = %q", cfg.Realtime.RedisURL)
	}
	if cfg.Notify.Timeout.Duration != 750*time.Millisecond {
		t.Errorf("Notify.Timeout = %s, want 750ms", cfg.Notify.Timeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"redis without url", func(c *Config) { c.Realtime.Transport = TransportRedis }, true},
		{"unknown transport", func(c *Config) { c.Realtime.Transport = "kafka" }, true},
		{"zero buffer", func(c *Config) { c.Feed.Buffer = 0 }, true},
		{"max below initial", func(c *Config) { c.Feed.BackoffMax = Duration{time.Millisecond} }, true},
		{"zero resync interval", func(c *Config) { c.Feed.ResyncInterval = Duration{} }, true},
		{"zero notify timeout", func(c *Config) { c.Notify.Timeout = Duration{} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Defaults()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
