package protocol

// Source yields raw chunks from a transport. A chunk may contain any number of
// whole or partial frames.
type Source interface {
	Receive() ([]byte, error)
}

// Reader turns a stream of chunks into a stream of frames. It keeps bytes that
// follow the last complete frame, so nothing is lost between the handshake and
// the first application frame even if both arrive in one chunk.
//
// A Reader is not safe for concurrent use: reads must be sequential to keep
// frame boundaries intact.
type Reader struct {
	src     Source
	buf     []byte
	pending [][]byte
	limit   int
}

// NewReader creates a reader with the default MaxFrameSize limit.
func NewReader(src Source) *Reader {
	return &Reader{src: src, limit: MaxFrameSize}
}

// ReadFrame returns the next complete frame without its terminator. The
// returned slice is owned by the caller.
func (r *Reader) ReadFrame() ([]byte, error) {
	for len(r.pending) == 0 {
		chunk, err := r.src.Receive()
		if err != nil {
			return nil, err
		}
		r.buf = append(r.buf, chunk...)

		frames, rest := Split(r.buf)
		for _, f := range frames {
			r.pending = append(r.pending, append([]byte(nil), f...))
		}
		if len(rest) > r.limit {
			return nil, ErrFrameTooLarge
		}
		// Keep only the partial tail; copy so the old buffer can be collected.
		r.buf = append(r.buf[:0:0], rest...)
	}

	frame := r.pending[0]
	r.pending[0] = nil
	r.pending = r.pending[1:]
	return frame, nil
}

// Buffered returns the number of complete frames already split but not yet read.
func (r *Reader) Buffered() int {
	return len(r.pending)
}
