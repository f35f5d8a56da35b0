package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config describes one hub connection and, for servers, how the hub is served.
type Config struct {
	// Endpoint is a full ws:// or wss:// URL. When empty the URL is built from
	// Domain, Hub, Port, Secure and QueryParams.
	Endpoint    string            `yaml:"endpoint"`
	Domain      string            `yaml:"domain"`
	Hub         string            `yaml:"hub"`
	Port        int               `yaml:"port"`
	Secure      *bool             `yaml:"secure"` // defaults to true
	QueryParams map[string]string `yaml:"query_params"`
	AccessToken string            `yaml:"access_token"` // sent as the access_token query parameter

	Protocol          string        `yaml:"protocol"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`
	ServerTimeout     time.Duration `yaml:"server_timeout"`

	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Server     ServerConfig     `yaml:"server"`
	Middleware MiddlewareConfig `yaml:"middleware"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DiscoveryConfig points at the etcd cluster hubs register in.
type DiscoveryConfig struct {
	Endpoints []string      `yaml:"endpoints"`
	TTL       int64         `yaml:"ttl"` // lease TTL in seconds
	Timeout   time.Duration `yaml:"timeout"`
}

// Enabled reports whether any etcd endpoint is configured.
func (d DiscoveryConfig) Enabled() bool {
	return len(d.Endpoints) > 0
}

type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	AdvertiseAddr   string        `yaml:"advertise_addr"` // host:port published in discovery
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// MiddlewareConfig configures the chain wrapped around local handlers. Zero
// values leave the corresponding middleware out.
type MiddlewareConfig struct {
	HandlerTimeout time.Duration `yaml:"handler_timeout"`
	RateLimit      float64       `yaml:"rate_limit"` // calls per second
	RateBurst      int           `yaml:"rate_burst"`
	Retries        int           `yaml:"retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// IsSecure reports whether wss is used.
func (c *Config) IsSecure() bool {
	return c.Secure == nil || *c.Secure
}

// SocketURL returns the websocket URL of the hub.
func (c *Config) SocketURL() (string, error) {
	if c.Endpoint != "" {
		return c.withQuery(c.Endpoint)
	}
	if c.Domain == "" {
		return "", fmt.Errorf("neither endpoint nor domain is configured")
	}
	scheme := "ws"
	if c.IsSecure() {
		scheme = "wss"
	}
	host := c.Domain
	if c.Port != 0 {
		host = fmt.Sprintf("%s:%d", c.Domain, c.Port)
	}
	return c.withQuery(fmt.Sprintf("%s://%s/%s", scheme, host, strings.TrimPrefix(c.Hub, "/")))
}

// HubURL builds the websocket URL of the hub at addr (host:port), as found in
// discovery.
func (c *Config) HubURL(addr string) (string, error) {
	scheme := "ws"
	if c.IsSecure() {
		scheme = "wss"
	}
	return c.withQuery(fmt.Sprintf("%s://%s/%s", scheme, addr, strings.TrimPrefix(c.Hub, "/")))
}

func (c *Config) withQuery(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", raw, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid endpoint %q: scheme must be ws or wss", raw)
	}
	if len(c.QueryParams) == 0 && c.AccessToken == "" {
		return u.String(), nil
	}
	q := u.Query()
	for k, v := range c.QueryParams {
		q.Set(k, v)
	}
	if c.AccessToken != "" {
		q.Set("access_token", c.AccessToken)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
