package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// Transport names accepted in [realtime].
const (
	TransportBus   = "bus"
	TransportRedis = "redis"
)

// Config represents the global ~/.agora/config.toml. Every field can be
// overridden from the environment.
type Config struct {
	DefaultInstance string         `toml:"default_instance" env:"AGORA_DEFAULT_INSTANCE"`
	Realtime        RealtimeConfig `toml:"realtime"`
	Feed            FeedConfig     `toml:"feed"`
	Notify          NotifyConfig   `toml:"notify"`
	Metrics         MetricsConfig  `toml:"metrics"`
}

type RealtimeConfig struct {
	Transport     string `toml:"transport"      env:"AGORA_REALTIME_TRANSPORT"`
	RedisURL      string `toml:"redis_url"      env:"AGORA_REALTIME_REDIS_URL"`
	ChannelPrefix string `toml:"channel_prefix" env:"AGORA_REALTIME_CHANNEL_PREFIX"`
}

type FeedConfig struct {
	Buffer         int      `toml:"buffer"          env:"AGORA_FEED_BUFFER"`
	BackoffInitial Duration `toml:"backoff_initial" env:"AGORA_FEED_BACKOFF_INITIAL"`
	BackoffMax     Duration `toml:"backoff_max"     env:"AGORA_FEED_BACKOFF_MAX"`
	// ResyncInterval is how often an open subscription re-reads the store.
	ResyncInterval Duration `toml:"resync_interval" env:"AGORA_FEED_RESYNC_INTERVAL"`
}

type NotifyConfig struct {
	Timeout Duration `toml:"timeout" env:"AGORA_NOTIFY_TIMEOUT"`
}

// MetricsConfig enables the Prometheus endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `toml:"listen" env:"AGORA_METRICS_LISTEN"`
}

// Duration is a time.Duration written as "250ms", "5s" in TOML and env.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		DefaultInstance: "main",
		Realtime: RealtimeConfig{
			Transport:     TransportBus,
			ChannelPrefix: "agora:conv:",
		},
		Feed: FeedConfig{
			Buffer:         256,
			BackoffInitial: Duration{250 * time.Millisecond},
			BackoffMax:     Duration{30 * time.Second},
			ResyncInterval: Duration{30 * time.Second},
		},
		Notify: NotifyConfig{Timeout: Duration{3 * time.Second}},
	}
}

// Load reads config from the given path on top of Defaults and applies
// environment overrides. Returns error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return finish(cfg)
}

// LoadOrDefault is Load, except that a missing file yields Defaults with
// environment overrides.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return finish(Defaults())
	}
	return cfg, err
}

func finish(cfg *Config) (*Config, error) {
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings the daemon cannot start with.
func (c *Config) Validate() error {
	switch c.Realtime.Transport {
	case TransportBus:
	case TransportRedis:
		if c.Realtime.RedisURL == "" {
			return errors.New("realtime: redis transport needs redis_url")
		}
	default:
		return fmt.Errorf("realtime: unknown transport %q", c.Realtime.Transport)
	}
	if c.Feed.Buffer <= 0 {
		return fmt.Errorf("feed: buffer must be positive, got %d", c.Feed.Buffer)
	}
	if c.Feed.BackoffInitial.Duration <= 0 || c.Feed.BackoffMax.Duration < c.Feed.BackoffInitial.Duration {
		return fmt.Errorf("feed: need 0 < backoff_initial (%s) <= backoff_max (%s)",
			c.Feed.BackoffInitial, c.Feed.BackoffMax)
	}
	if c.Feed.ResyncInterval.Duration <= 0 {
		return errors.New("feed: resync_interval must be positive")
	}
	if c.Notify.Timeout.Duration <= 0 {
		return errors.New("notify: timeout must be positive")
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
