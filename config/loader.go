package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// LoadConfig reads a YAML file and applies defaults.
func LoadConfig(file string) (*Config, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// ApplyDefaults fills every unset field.
func ApplyDefaults(cfg *Config) {
	if cfg.Protocol == "" {
		cfg.Protocol = "json"
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 15 * time.Second
	}
	if cfg.KeepAliveInterval == 0 {
		cfg.KeepAliveInterval = 15 * time.Second
	}
	// Twice the keep-alive interval, so one lost ping is tolerated.
	if cfg.ServerTimeout == 0 {
		cfg.ServerTimeout = 30 * time.Second
	}

	if cfg.Discovery.TTL == 0 {
		cfg.Discovery.TTL = 10
	}
	if cfg.Discovery.Timeout == 0 {
		cfg.Discovery.Timeout = 5 * time.Second
	}

	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Middleware.RateLimit > 0 && cfg.Middleware.RateBurst == 0 {
		cfg.Middleware.RateBurst = int(cfg.Middleware.RateLimit) + 1
	}
	if cfg.Middleware.Retries > 0 && cfg.Middleware.RetryBaseDelay == 0 {
		cfg.Middleware.RetryBaseDelay = 100 * time.Millisecond
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}
