package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the daemon configuration, read from
// ~/.zapdesk/config.toml.
type Config struct {
	Session  string   `toml:"session"`
	Watchdog Watchdog `toml:"watchdog"`
	AI       AI       `toml:"ai"`
	Relay    Relay    `toml:"relay"`
}

// Watchdog holds connection supervision timings.
type Watchdog struct {
	IntervalSeconds       int `toml:"interval_seconds"`
	ReconnectDelaySeconds int `toml:"reconnect_delay_seconds"`
}

// AI holds settings for the external AI responder capability.
type AI struct {
	APIKey string `toml:"api_key"`
	Model  string `toml:"model"`
}

// Relay holds the optional RabbitMQ activity relay settings.
// An empty URL disables the relay.
type Relay struct {
	URL      string `toml:"url"`
	Exchange string `toml:"exchange"`
}

// Default returns a config with all defaults applied.
func Default() *Config {
	return &Config{
		Session: "main",
		Watchdog: Watchdog{
			IntervalSeconds:       30,
			ReconnectDelaySeconds: 1,
		},
		AI: AI{
			Model: "gemini-2.0-flash",
		},
		Relay: Relay{
			Exchange: "zapdesk.activity",
		},
	}
}

// Load reads config from the given path and fills in defaults for any
// unset field. Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadOrDefault reads config from path, falling back to defaults when the
// file does not exist.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return Default()
	}
	return cfg
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

func (c *Config) applyDefaults() {
	def := Default()
	if c.Session == "" {
		c.Session = def.Session
	}
	if c.Watchdog.IntervalSeconds <= 0 {
		c.Watchdog.IntervalSeconds = def.Watchdog.IntervalSeconds
	}
	if c.Watchdog.ReconnectDelaySeconds <= 0 {
		c.Watchdog.ReconnectDelaySeconds = def.Watchdog.ReconnectDelaySeconds
	}
	if c.AI.Model == "" {
		c.AI.Model = def.AI.Model
	}
	if c.Relay.Exchange == "" {
		c.Relay.Exchange = def.Relay.Exchange
	}
}

// WatchdogInterval returns the watchdog poll period.
func (c *Config) WatchdogInterval() time.Duration {
	return time.Duration(c.Watchdog.IntervalSeconds) * time.Second
}

// ReconnectDelay returns the automatic reconnect backoff.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Watchdog.ReconnectDelaySeconds) * time.Second
}
