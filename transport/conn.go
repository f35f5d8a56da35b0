package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
)

const readBufferSize = 32 * 1024

// Conn adapts a byte-stream connection such as TCP. Chunks carry no message
// boundaries; the frame terminator is the only delimiter.
type Conn struct {
	conn    net.Conn
	writeMu sync.Mutex
	closed  atomic.Bool
	buf     []byte
}

// NewConn wraps a net.Conn.
func NewConn(conn net.Conn) *Conn {
	return &Conn{conn: conn, buf: make([]byte, readBufferSize)}
}

func (t *Conn) Send(ctx context.Context, chunk []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := t.conn.Write(chunk)
	return err
}

func (t *Conn) Receive() ([]byte, error) {
	n, err := t.conn.Read(t.buf)
	if n > 0 {
		// The buffer is reused on the next read.
		return append([]byte(nil), t.buf[:n]...), nil
	}
	if err != nil {
		if t.closed.Load() || errors.Is(err, net.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, err
	}
	return nil, nil
}

func (t *Conn) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.conn.Close()
}
