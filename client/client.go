package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"hubrpc/config"
	"hubrpc/discovery"
	"hubrpc/engine"
	"hubrpc/middleware"
	"hubrpc/transport"
)

// Client opens engine connections to a hub.
type Client struct {
	cfg         *config.Config
	registry    discovery.Registry // find hub instances when no endpoint is configured
	handlers    map[string]middleware.HandlerFunc
	middlewares []middleware.Middleware
	header      http.Header
}

// NewClient creates a client. reg may be nil when cfg names the endpoint.
func NewClient(cfg *config.Config, reg discovery.Registry) *Client {
	return &Client{
		cfg:      cfg,
		registry: reg,
		handlers: make(map[string]middleware.HandlerFunc),
		header:   make(http.Header),
	}
}

// Handle exposes h to the hub under name on every connection dialed later.
func (c *Client) Handle(name string, h middleware.HandlerFunc) {
	c.handlers[name] = h
}

// Use appends a middleware for handlers served by this client.
func (c *Client) Use(mw middleware.Middleware) {
	c.middlewares = append(c.middlewares, mw)
}

// SetHeader adds an HTTP header to the websocket upgrade request.
func (c *Client) SetHeader(key, value string) {
	c.header.Set(key, value)
}

// Endpoints lists the websocket URLs to try, in order.
func (c *Client) Endpoints(ctx context.Context) ([]string, error) {
	if c.cfg.Endpoint != "" || c.cfg.Domain != "" {
		url, err := c.cfg.SocketURL()
		if err != nil {
			return nil, err
		}
		return []string{url}, nil
	}
	if c.registry == nil {
		return nil, fmt.Errorf("no endpoint configured for hub %q and no discovery", c.cfg.Hub)
	}

	instances, err := c.registry.Discover(ctx, c.cfg.Hub)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, fmt.Errorf("hub %q: %w", c.cfg.Hub, discovery.ErrNoInstances)
	}
	urls := make([]string, 0, len(instances))
	for _, inst := range instances {
		url, err := c.cfg.HubURL(inst.Addr)
		if err != nil {
			return nil, err
		}
		urls = append(urls, url)
	}
	return urls, nil
}

// Dial connects to the first reachable endpoint and completes the handshake.
// A handshake rejection is returned at once; unreachable instances are skipped.
func (c *Client) Dial(ctx context.Context) (*engine.Connection, error) {
	urls, err := c.Endpoints(ctx)
	if err != nil {
		return nil, err
	}

	opts := engine.OptionsFromConfig(c.cfg)
	opts.Handlers = c.handlers
	opts.Middlewares = append(opts.Middlewares, c.middlewares...)

	var errs []error
	for _, url := range urls {
		ws, err := transport.DialWebSocket(ctx, url, c.header)
		if err != nil {
			logrus.WithError(err).WithField("url", url).Warn("hub unreachable")
			errs = append(errs, err)
			continue
		}
		conn, err := engine.Connect(ctx, ws, opts)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	return nil, errors.Join(errs...)
}

// Dial connects to the hub described by cfg.
func Dial(ctx context.Context, cfg *config.Config, reg discovery.Registry) (*engine.Connection, error) {
	return NewClient(cfg, reg).Dial(ctx)
}
