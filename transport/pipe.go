package transport

import (
	"context"
	"io"
	"sync"
)

// queue is one direction of a Pipe. Writes never block.
type queue struct {
	mu     sync.Mutex
	chunks [][]byte
	notify chan struct{}
	closed bool
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{}, 1)}
}

func (q *queue) push(chunk []byte) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.chunks = append(q.chunks, append([]byte(nil), chunk...))
	q.mu.Unlock()
	q.signal()
	return true
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop blocks until a chunk is available or the queue is closed and drained.
func (q *queue) pop() ([]byte, bool) {
	for {
		q.mu.Lock()
		if len(q.chunks) > 0 {
			c := q.chunks[0]
			q.chunks[0] = nil
			q.chunks = q.chunks[1:]
			q.mu.Unlock()
			return c, true
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		q.mu.Unlock()
		<-q.notify
	}
}

// PipeEnd is one side of an in-memory transport pair.
type PipeEnd struct {
	in, out   *queue
	closeOnce sync.Once
	mu        sync.Mutex
	local     bool // closed by this end
}

// Pipe returns two connected in-memory transports. Sends are buffered without
// bound, so a peer that never reads cannot block the sender. Closing either end
// closes the pair: the other end reads the remaining chunks and then io.EOF.
func Pipe() (*PipeEnd, *PipeEnd) {
	a, b := newQueue(), newQueue()
	return &PipeEnd{in: a, out: b}, &PipeEnd{in: b, out: a}
}

func (p *PipeEnd) Send(ctx context.Context, chunk []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.isLocallyClosed() || !p.out.push(chunk) {
		return ErrClosed
	}
	return nil
}

func (p *PipeEnd) Receive() ([]byte, error) {
	chunk, ok := p.in.pop()
	if !ok {
		if p.isLocallyClosed() {
			return nil, ErrClosed
		}
		return nil, io.EOF
	}
	if p.isLocallyClosed() {
		return nil, ErrClosed
	}
	return chunk, nil
}

func (p *PipeEnd) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.local = true
		p.mu.Unlock()
		p.in.close()
		p.out.close()
	})
	return nil
}

func (p *PipeEnd) isLocallyClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local
}
