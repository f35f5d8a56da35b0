// Package stream delivers the items of locally issued streaming calls.
//
// Each StreamInvocation owns a Stream: an unbounded FIFO filled by the read
// loop and drained by a single consumer. The queue has no engine-imposed
// bound; the transport's flow control is the only backpressure.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"sync"

	"hubrpc/invocation"
	"hubrpc/rpcerr"
)

// ErrClosed is returned by Next after the consumer closed the stream.
var ErrClosed = errors.New("stream closed")

// Stream is the lazy, finite, non-restartable sequence of one streaming call.
// It has a single consumer.
type Stream struct {
	id    string
	owner *Dispatcher

	mu        sync.Mutex
	items     []json.RawMessage
	head      int
	done      bool
	err       error // terminal error once done; io.EOF on normal completion
	cancelled bool

	notify chan struct{}
}

// ID returns the correlation id of the call.
func (s *Stream) ID() string {
	return s.id
}

func (s *Stream) push(item json.RawMessage) bool {
	s.mu.Lock()
	if s.done || s.cancelled {
		s.mu.Unlock()
		return false
	}
	s.items = append(s.items, item)
	s.mu.Unlock()
	s.wake()
	return true
}

func (s *Stream) finish(err error) bool {
	s.mu.Lock()
	if s.done || s.cancelled {
		s.mu.Unlock()
		return false
	}
	s.done = true
	s.err = err
	s.mu.Unlock()
	s.wake()
	return true
}

func (s *Stream) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next returns the next item in arrival order. Items already queued are
// delivered before the terminal error, which is io.EOF on normal completion,
// a *rpcerr.RemoteError when the peer completed with an error, or the close
// error when the connection terminated. Next after Close returns ErrClosed.
func (s *Stream) Next(ctx context.Context) (json.RawMessage, error) {
	for {
		s.mu.Lock()
		if s.cancelled {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		if s.head < len(s.items) {
			item := s.items[s.head]
			s.items[s.head] = nil
			s.head++
			if s.head == len(s.items) {
				s.items = s.items[:0]
				s.head = 0
			}
			s.mu.Unlock()
			return item, nil
		}
		if s.done {
			err := s.err
			s.mu.Unlock()
			return nil, err
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Buffered returns the number of received items not yet consumed.
func (s *Stream) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items) - s.head
}

// Close stops consuming. If the call has not completed yet, exactly one
// CancelInvocation is sent and later items for this id are discarded.
// Close is idempotent.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return nil
	}
	s.cancelled = true
	s.items = nil
	s.head = 0
	active := !s.done
	s.mu.Unlock()
	s.wake()

	if !active {
		s.owner.Remove(s.id)
		return nil
	}
	return s.owner.cancel(s.id)
}

// All ranges over the remaining items. Normal completion ends the sequence;
// any other terminal error is yielded once. Breaking out of the loop, or ctx
// ending, closes the stream.
func (s *Stream) All(ctx context.Context) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		for {
			item, err := s.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				_ = s.Close()
				yield(nil, err)
				return
			}
			if !yield(item, nil) {
				_ = s.Close()
				return
			}
		}
	}
}

// Outcome reports what the dispatcher did with an inbound frame.
type Outcome int

const (
	// Delivered means the frame reached an active stream.
	Delivered Outcome = iota
	// Discarded means the frame belongs to a stream the consumer cancelled.
	Discarded
	// Unknown means no stream with that id was ever opened or it already ended.
	Unknown
)

// Dispatcher routes StreamItem and Completion frames to their Stream by
// correlation id.
type Dispatcher struct {
	sendCancel func(id string) error

	mu        sync.Mutex
	streams   map[string]*Stream
	cancelled *invocation.Tombstones // ids cancelled locally, awaiting the peer's Completion
	closed    error
}

// NewDispatcher creates a dispatcher. sendCancel writes a CancelInvocation for
// the given id.
func NewDispatcher(sendCancel func(id string) error) *Dispatcher {
	return &Dispatcher{
		sendCancel: sendCancel,
		streams:    make(map[string]*Stream),
		cancelled:  invocation.NewTombstones(invocation.DefaultTombstoneLimit),
	}
}

// Open creates the Stream for id. It must be called before the
// StreamInvocation is written.
func (d *Dispatcher) Open(id string) (*Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed != nil {
		return nil, d.closed
	}
	if _, ok := d.streams[id]; ok {
		return nil, errors.New("stream id " + id + " is already open")
	}
	s := &Stream{id: id, owner: d, notify: make(chan struct{}, 1)}
	d.streams[id] = s
	return s, nil
}

// Push appends item to the stream of id.
func (d *Dispatcher) Push(id string, item json.RawMessage) Outcome {
	d.mu.Lock()
	s, ok := d.streams[id]
	d.mu.Unlock()

	switch {
	case ok && s.push(item):
		return Delivered
	case ok || d.cancelled.Has(id):
		return Discarded
	}
	return Unknown
}

// Complete ends the stream of id. An empty errMsg is a normal end.
func (d *Dispatcher) Complete(id, errMsg string) Outcome {
	d.mu.Lock()
	s, ok := d.streams[id]
	delete(d.streams, id)
	tomb := d.cancelled.Take(id)
	d.mu.Unlock()

	if ok {
		var err error = io.EOF
		if errMsg != "" {
			err = &rpcerr.RemoteError{Message: errMsg}
		}
		if s.finish(err) {
			return Delivered
		}
		return Discarded
	}
	if tomb {
		return Discarded
	}
	return Unknown
}

// Drain terminates every active stream with err and rejects future Opens.
// Only the first Drain has an effect; it returns the number of streams ended.
func (d *Dispatcher) Drain(err error) int {
	d.mu.Lock()
	if d.closed != nil {
		d.mu.Unlock()
		return 0
	}
	d.closed = err
	streams := d.streams
	d.streams = make(map[string]*Stream)
	d.cancelled.Reset()
	d.mu.Unlock()

	n := 0
	for _, s := range streams {
		if s.finish(err) {
			n++
		}
	}
	return n
}

// Len returns the number of active streams.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}

// Cancelled returns the number of cancelled streams whose final Completion
// has not arrived yet.
func (d *Dispatcher) Cancelled() int {
	return d.cancelled.Len()
}

func (d *Dispatcher) cancel(id string) error {
	d.mu.Lock()
	_, ok := d.streams[id]
	delete(d.streams, id)
	if ok && d.closed == nil {
		d.cancelled.Add(id)
	}
	closed := d.closed
	d.mu.Unlock()

	if !ok || closed != nil {
		return nil
	}
	if err := d.sendCancel(id); err != nil && !errors.Is(err, rpcerr.ErrConnectionClosed) {
		return err
	}
	return nil
}

// Remove forgets the stream of id without sending anything. Used when the
// StreamInvocation could not be written.
func (d *Dispatcher) Remove(id string) {
	d.mu.Lock()
	delete(d.streams, id)
	d.mu.Unlock()
}
