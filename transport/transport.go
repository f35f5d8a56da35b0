// Package transport abstracts the raw duplex connection the engine runs on.
//
// The engine never chooses or configures the underlying connection. It is
// handed a Transport and only ever:
//
//	Send(ctx, chunk)  ── one writer at a time (the engine serializes writes)
//	Receive()         ── one reader at a time (the engine's read loop)
//	Close()           ── unblocks a pending Receive
//
// Chunks are opaque byte slices. On a message-oriented transport (WebSocket) a
// chunk is one transport message; on a byte stream (TCP) it is whatever a read
// returned. Frame boundaries are recovered by the protocol package.
package transport

import (
	"context"
	"errors"
)

// Transport is a bidirectional byte channel to exactly one peer.
type Transport interface {
	// Send writes one chunk. It returns ErrClosed after Close.
	Send(ctx context.Context, chunk []byte) error
	// Receive blocks for the next chunk. It returns io.EOF when the peer closed
	// cleanly and ErrClosed after a local Close.
	Receive() ([]byte, error)
	// Close releases the connection. It is safe to call more than once.
	Close() error
}

// ErrClosed is returned by operations on a transport that was closed locally.
var ErrClosed = errors.New("transport is closed")
