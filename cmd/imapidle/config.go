package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the configuration of the command, usually read from a YAML file.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr"`
	TLS      bool   `yaml:"tls"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

type MonitorConfig struct {
	Mailbox  string        `yaml:"mailbox"`
	Timeout  time.Duration `yaml:"timeout"`
	ReadOnly bool          `yaml:"read_only"`
	UID      bool          `yaml:"uid"`
	Retry    RetryConfig   `yaml:"retry"`
}

// RetryConfig controls the delay between monitoring sessions after a
// failure.
type RetryConfig struct {
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

type WebSocketConfig struct {
	// Listen is the HTTP address serving WebSocket clients. Empty disables
	// the WebSocket endpoint.
	Listen string `yaml:"listen"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: "localhost:143",
		},
		Monitor: MonitorConfig{
			Mailbox: "INBOX",
			Timeout: 5 * time.Minute,
			Retry: RetryConfig{
				InitialDelay:  time.Second,
				MaxDelay:      5 * time.Minute,
				BackoffFactor: 2,
			},
		},
	}
}

// Load reads a YAML configuration file. Missing fields keep their default
// values. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %v: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %v: %w", path, err)
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.Server.Addr == "" {
		return fmt.Errorf("missing server address")
	}
	if cfg.Monitor.Mailbox == "" {
		return fmt.Errorf("missing mailbox")
	}
	if cfg.Monitor.Timeout < 0 {
		return fmt.Errorf("negative timeout")
	}
	return nil
}
