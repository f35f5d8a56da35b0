package engine

import (
	"time"

	"github.com/sirupsen/logrus"

	"hubrpc/codec"
	"hubrpc/config"
	"hubrpc/middleware"
)

const (
	DefaultHandshakeTimeout  = 15 * time.Second
	DefaultKeepAliveInterval = 15 * time.Second
	DefaultServerTimeout     = 30 * time.Second

	closeFrameTimeout = time.Second
)

// Options configure a Connection. Zero durations take the defaults; a
// negative duration disables the corresponding timer.
type Options struct {
	Protocol          string
	HandshakeTimeout  time.Duration
	KeepAliveInterval time.Duration
	// ServerTimeout is the liveness timeout: the connection is closed when
	// nothing arrives from the peer for this long.
	ServerTimeout time.Duration

	// Handlers are registered before the handshake.
	Handlers    map[string]middleware.HandlerFunc
	Middlewares []middleware.Middleware

	// Headers are attached to every outbound frame that carries none.
	Headers map[string]string

	Logger *logrus.Entry
}

func (o Options) withDefaults() Options {
	if o.Protocol == "" {
		o.Protocol = codec.ProtocolJSON
	}
	o.HandshakeTimeout = orDefault(o.HandshakeTimeout, DefaultHandshakeTimeout)
	o.KeepAliveInterval = orDefault(o.KeepAliveInterval, DefaultKeepAliveInterval)
	o.ServerTimeout = orDefault(o.ServerTimeout, DefaultServerTimeout)
	return o
}

func orDefault(d, def time.Duration) time.Duration {
	switch {
	case d == 0:
		return def
	case d < 0:
		return 0
	}
	return d
}

// OptionsFromConfig maps a loaded configuration onto connection options.
// Handlers are left for the caller to fill in.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Protocol:          cfg.Protocol,
		HandshakeTimeout:  cfg.HandshakeTimeout,
		KeepAliveInterval: cfg.KeepAliveInterval,
		ServerTimeout:     cfg.ServerTimeout,
		Middlewares:       MiddlewaresFromConfig(cfg.Middleware),
	}
}

// MiddlewaresFromConfig builds the handler chain, outermost first: logging,
// rate limit, retry, timeout.
func MiddlewaresFromConfig(cfg config.MiddlewareConfig) []middleware.Middleware {
	mws := []middleware.Middleware{middleware.LoggingMiddleware(nil)}
	if cfg.RateLimit > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
	}
	if cfg.Retries > 0 {
		mws = append(mws, middleware.RetryMiddleware(cfg.Retries, cfg.RetryBaseDelay))
	}
	if cfg.HandlerTimeout > 0 {
		mws = append(mws, middleware.TimeOutMiddleware(cfg.HandlerTimeout))
	}
	return mws
}
