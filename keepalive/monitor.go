// Package keepalive emits pings when the connection is idle and detects a
// silent peer.
package keepalive

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrTimeout is returned by Run when nothing was received within the liveness
// timeout.
var ErrTimeout = errors.New("Timeout")

// Monitor tracks send and receive activity of one connection.
type Monitor struct {
	interval time.Duration // ping period; zero disables pings
	timeout  time.Duration // liveness timeout; zero disables detection
	ping     func(ctx context.Context) error

	lastSent     atomic.Int64 // unix nanos
	lastReceived atomic.Int64
}

// New creates a monitor. ping writes one Ping frame.
func New(interval, timeout time.Duration, ping func(ctx context.Context) error) *Monitor {
	m := &Monitor{interval: interval, timeout: timeout, ping: ping}
	now := time.Now().UnixNano()
	m.lastSent.Store(now)
	m.lastReceived.Store(now)
	return m
}

// MarkSent records outbound traffic.
func (m *Monitor) MarkSent() {
	m.lastSent.Store(time.Now().UnixNano())
}

// MarkReceived records inbound traffic of any kind.
func (m *Monitor) MarkReceived() {
	m.lastReceived.Store(time.Now().UnixNano())
}

// Run loops until ctx is done or the peer is declared dead, in which case it
// returns ErrTimeout. Ping failures are not fatal here; a broken transport is
// noticed by the read loop.
func (m *Monitor) Run(ctx context.Context) error {
	tick := m.tick()
	if tick <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if m.timeout > 0 && now.Sub(time.Unix(0, m.lastReceived.Load())) > m.timeout {
				return ErrTimeout
			}
			if m.interval > 0 && now.Sub(time.Unix(0, m.lastSent.Load())) >= m.interval {
				if err := m.ping(ctx); err == nil {
					m.MarkSent()
				}
			}
		}
	}
}

// tick is half of the shortest enabled period.
func (m *Monitor) tick() time.Duration {
	d := m.interval
	if d <= 0 || (m.timeout > 0 && m.timeout < d) {
		d = m.timeout
	}
	return d / 2
}
