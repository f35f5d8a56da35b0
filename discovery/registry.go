// Package discovery publishes hub endpoints and resolves them for clients.
package discovery

import (
	"context"
	"errors"
)

// ErrNoInstances is returned when a hub has no registered endpoint.
var ErrNoInstances = errors.New("no hub instances registered")

// Instance is one server currently serving a hub.
type Instance struct {
	Addr    string `json:"addr"` // host:port the hub's websocket endpoint listens on
	Version string `json:"version,omitempty"`
}

type Registry interface {
	Register(ctx context.Context, hub string, instance Instance, ttl int64) error
	Deregister(ctx context.Context, hub string, addr string) error
	Discover(ctx context.Context, hub string) ([]Instance, error)
	Watch(ctx context.Context, hub string) <-chan []Instance
}
